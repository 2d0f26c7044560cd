package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"rampledger/core"
	"rampledger/core/types"
	"rampledger/rpc"
)

const (
	rpcURLEnv   = "RAMP_RPC_URL"
	rpcTokenEnv = "RAMP_RPC_TOKEN"
)

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return "http://localhost:8645"
}

// applyGlobalFlags strips --rpc from args wherever it appears.
func applyGlobalFlags(endpoint string, args []string) (string, []string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("missing value for --rpc")
			}
			endpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			endpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return strings.TrimRight(endpoint, "/"), out, nil
}

type apiError struct {
	Status int
	Body   rpc.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Body.Code != 0 {
		return fmt.Sprintf("rpc error %d (code %d): %s", e.Status, e.Body.Code, e.Body.Error)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Status, e.Body.Error)
}

type client struct {
	endpoint string
	token    string
	http     *http.Client
}

func newClient(endpoint string) *client {
	return &client{
		endpoint: endpoint,
		token:    strings.TrimSpace(os.Getenv(rpcTokenEnv)),
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *client) submit(env *types.Envelope) (*core.Receipt, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	var receipt core.Receipt
	if err := c.do(http.MethodPost, "/v1/submit", bytes.NewReader(payload), &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *client) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *client) do(method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequest(method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, &apiErr.Body); jsonErr != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isAPIError(err error) (*apiError, bool) {
	var apiErr *apiError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
