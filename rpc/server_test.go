package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"rampledger/config"
	"rampledger/core"
	"rampledger/core/events"
	"rampledger/core/state"
	"rampledger/core/types"
	"rampledger/crypto"
	"rampledger/native/ramp"
	"rampledger/storage"
)

type fixture struct {
	hub     *events.Hub
	handler http.Handler
	key     *crypto.PrivateKey
	owner   [32]byte
	ledger  [32]byte
	asset   [32]byte
	chainID uint64
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	f := &fixture{key: key, owner: [32]byte(key.Identity()), hub: events.NewHub(0), chainID: 3}
	f.ledger = ramp.DeriveLedgerID(f.owner, 7)
	f.asset[0] = 0xA5
	proc := core.NewProcessor(state.NewManager(storage.NewMemDB()), core.Options{ChainID: f.chainID, Emitter: f.hub})
	if cfg.Events == nil {
		cfg.Events = f.hub
	}
	_, err = proc.ApplyGenesis([]config.GenesisAllocation{
		{Account: f.owner, Asset: f.asset, Amount: uint256.NewInt(900), Name: "USDC"},
	})
	require.NoError(t, err)
	f.handler = New(proc, cfg).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return f.doWithToken(t, method, path, body, "")
}

func (f *fixture) doWithToken(t *testing.T, method, path string, body []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) signed(t *testing.T, ledger [32]byte, nonce uint64, ins ramp.Instruction) []byte {
	t.Helper()
	return f.signedFor(t, f.chainID, ledger, nonce, ins)
}

func (f *fixture) signedFor(t *testing.T, chainID uint64, ledger [32]byte, nonce uint64, ins ramp.Instruction) []byte {
	t.Helper()
	data, err := ramp.EncodeInstruction(ins)
	require.NoError(t, err)
	env := &types.Envelope{ChainID: chainID, Ledger: ledger, Nonce: nonce, Data: data}
	require.NoError(t, env.Sign(f.key.PrivateKey))
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestSubmitAndQueryLedger(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/v1/submit", f.signed(t, f.ledger, 0, ramp.InitializeArgs{Capacity: 3, Seed: 7}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt core.Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	require.Equal(t, "initialize", receipt.Op)
	require.Equal(t, ramp.CodeOK, receipt.Code)

	rec = f.do(t, http.MethodPost, "/v1/submit", f.signed(t, f.ledger, 1, ramp.AddAssetArgs{Asset: f.asset, FeePercentage: 4, InitialAmount: 100}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/ledgers/0x"+hex.EncodeToString(f.ledger[:]), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view LedgerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, hexID(f.owner), view.Owner)
	require.Equal(t, hexID(ramp.LedgerAccount(f.ledger)), view.Account)
	require.False(t, view.Active)
	require.Equal(t, 3, view.Capacity)
	require.Len(t, view.Assets, 1)
	require.Equal(t, hexID(f.asset), view.Assets[0].Asset)
	require.Equal(t, uint64(4), view.Assets[0].FeePercentage)
	require.Equal(t, "0", view.Assets[0].Revenue)

	rec = f.do(t, http.MethodGet, "/v1/balances/"+hexID(f.asset)+"/"+view.Assets[0].Custody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance BalanceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, "100", balance.Balance)

	rec = f.do(t, http.MethodGet, "/v1/nonces/"+crypto.Identity(f.owner).String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nonce NonceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nonce))
	require.Equal(t, uint64(2), nonce.Nonce)

	rec = f.do(t, http.MethodGet, "/v1/native/"+hexID(f.owner), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, "0", balance.Balance)
	require.Empty(t, balance.Asset)
}

func TestSubmitErrorStatuses(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/v1/submit", []byte("{"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	unsigned, err := json.Marshal(&types.Envelope{Ledger: f.ledger, Data: []byte{0xc0}})
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/v1/submit", unsigned)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/submit", f.signed(t, f.ledger, 5, ramp.SetActiveArgs{Active: true}))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/submit", f.signedFor(t, f.chainID+1, f.ledger, 0, ramp.InitializeArgs{Seed: 7}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var mismatch ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mismatch))
	require.Contains(t, mismatch.Error, "chain id")
	require.Nil(t, mismatch.Receipt)

	rec = f.do(t, http.MethodPost, "/v1/submit", f.signed(t, f.owner, 0, ramp.InitializeArgs{}))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mismatch))
	require.Equal(t, ramp.Code(ramp.ErrInvalidInstruction), mismatch.Code)

	rec = f.do(t, http.MethodPost, "/v1/submit", f.signed(t, f.ledger, 0, ramp.SetActiveArgs{Active: true}))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, ramp.Code(ramp.ErrUninitializedAccount), resp.Code)
	require.NotNil(t, resp.Receipt)
	require.Equal(t, "set_active", resp.Receipt.Op)

	rec = f.do(t, http.MethodGet, "/v1/ledgers/"+hexID(f.ledger), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/ledgers/not-an-id", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChainEndpoint(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodGet, "/v1/chain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view ChainView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, f.chainID, view.ChainID)
}

func TestRateLimitAndMetrics(t *testing.T) {
	f := newFixture(t, Config{RateLimitPerSecond: 0.001, RateLimitBurst: 1})
	path := "/v1/nonces/" + hexID(f.owner)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, nil).Code)
	rec := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "ramp_rpc_throttles_total"))

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestSubmitRequiresBearerTokenWhenConfigured(t *testing.T) {
	const secret = "ramp-test-secret"
	f := newFixture(t, Config{JWTSecret: secret, JWTIssuer: "ramp-ops"})
	body := f.signed(t, f.ledger, 0, ramp.InitializeArgs{Seed: 7})

	rec := f.do(t, http.MethodPost, "/v1/submit", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := signToken(t, secret, jwt.RegisteredClaims{
		Issuer:    "ramp-ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	rec = f.doWithToken(t, http.MethodPost, "/v1/submit", body, expired)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	wrongIssuer := signToken(t, secret, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	rec = f.doWithToken(t, http.MethodPost, "/v1/submit", body, wrongIssuer)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	valid := signToken(t, secret, jwt.RegisteredClaims{
		Issuer:    "ramp-ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	rec = f.doWithToken(t, http.MethodPost, "/v1/submit", body, valid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/nonces/"+hexID(f.owner), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEventStreamReplaysAndFollows(t *testing.T) {
	f := newFixture(t, Config{})
	server := httptest.NewServer(f.handler)
	defer server.Close()

	rec := f.do(t, http.MethodPost, "/v1/submit", f.signed(t, f.ledger, 0, ramp.InitializeArgs{Seed: 7}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/v1/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() events.Record {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var record events.Record
		require.NoError(t, json.Unmarshal(data, &record))
		return record
	}
	first := read()
	require.Equal(t, ramp.EventTypeInitialized, first.Type)
	require.Equal(t, uint64(1), first.Sequence)

	rec = f.do(t, http.MethodPost, "/v1/submit", f.signed(t, f.ledger, 1, ramp.SetActiveArgs{Active: true}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := read()
	require.Equal(t, ramp.EventTypeActiveChanged, second.Type)
	require.Equal(t, uint64(2), second.Sequence)
}
