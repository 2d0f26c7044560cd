package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rampledger/core"
	"rampledger/core/types"
	"rampledger/crypto"
	"rampledger/native/ramp"
)

const maxRequestBytes = 1 << 20

// Backend is the ledger host served over HTTP.
type Backend interface {
	Submit(ctx context.Context, env *types.Envelope) (*core.Receipt, error)
	Ledger(id [32]byte) (*ramp.LedgerState, error)
	Balance(asset, account [32]byte) (*uint256.Int, error)
	NativeBalance(account [32]byte) (*uint256.Int, error)
	Nonce(signer [32]byte) (uint64, error)
	CustodyAccount(ledger, asset [32]byte) [32]byte
	ChainID() uint64
}

// Config captures the HTTP front end settings.
type Config struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
	Logger             *slog.Logger

	// JWTSecret, when set, requires an HS256 bearer token on submissions.
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// Events backs the websocket stream; nil disables it.
	Events         EventSource
	AllowedOrigins []string
}

// Server exposes the ledger host as a JSON API.
type Server struct {
	backend        Backend
	logger         *slog.Logger
	limiter        *rateLimiter
	auth           *authenticator
	events         EventSource
	originPatterns []string
	router         http.Handler
}

// New constructs a configured HTTP router.
func New(backend Backend, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		backend: backend,
		logger:  logger.With("component", "rpc"),
		limiter: newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		auth:    newAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		events:  cfg.Events,
	}
	srv.originPatterns = append([]string(nil), cfg.AllowedOrigins...)
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		if s.auth != nil {
			api.With(s.auth.Middleware).Post("/submit", s.Submit)
		} else {
			api.Post("/submit", s.Submit)
		}
		api.Get("/events", s.StreamEvents)
		api.Get("/chain", s.GetChain)
		api.Get("/ledgers/{id}", s.GetLedger)
		api.Get("/balances/{asset}/{account}", s.GetBalance)
		api.Get("/native/{account}", s.GetNativeBalance)
		api.Get("/nonces/{account}", s.GetNonce)
	})

	return otelhttp.NewHandler(r, "rampd")
}

// Submit executes a signed envelope and returns its receipt.
func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Code: ramp.CodeInternal, Error: "read body: " + err.Error()})
		return
	}
	var env types.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Code: ramp.Code(ramp.ErrInvalidInstruction), Error: "decode envelope: " + err.Error()})
		return
	}
	receipt, err := s.backend.Submit(r.Context(), &env)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, receipt)
	case errors.Is(err, core.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, ErrorResponse{Code: ramp.Code(ramp.ErrNotSigner), Error: err.Error()})
	case errors.Is(err, core.ErrChainIDMismatch):
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrNonceMismatch):
		writeError(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case receipt == nil || receipt.Code == ramp.CodeInternal:
		s.logger.Error("submission failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, ErrorResponse{Code: ramp.CodeInternal, Error: err.Error(), Receipt: receipt})
	default:
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{Code: receipt.Code, Error: err.Error(), Receipt: receipt})
	}
}

// GetLedger returns the committed state of a ledger.
func (s *Server) GetLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	state, err := s.backend.Ledger(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ramp.ErrUninitializedAccount) {
			status = http.StatusNotFound
		}
		writeError(w, status, ErrorResponse{Code: ramp.Code(err), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, newLedgerView(id, state, s.backend.CustodyAccount))
}

// GetBalance returns an account's balance of an asset.
func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	asset, ok := pathID(w, r, "asset")
	if !ok {
		return
	}
	account, ok := pathID(w, r, "account")
	if !ok {
		return
	}
	balance, err := s.backend.Balance(asset, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Code: ramp.CodeInternal, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, BalanceView{Account: hexID(account), Asset: hexID(asset), Balance: balance.Dec()})
}

// GetNativeBalance returns an account's native balance.
func (s *Server) GetNativeBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := pathID(w, r, "account")
	if !ok {
		return
	}
	balance, err := s.backend.NativeBalance(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Code: ramp.CodeInternal, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, BalanceView{Account: hexID(account), Balance: balance.Dec()})
}

// GetChain returns the chain id envelopes must carry.
func (s *Server) GetChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ChainView{ChainID: s.backend.ChainID()})
}

// GetNonce returns the next nonce expected from a signer.
func (s *Server) GetNonce(w http.ResponseWriter, r *http.Request) {
	account, ok := pathID(w, r, "account")
	if !ok {
		return
	}
	nonce, err := s.backend.Nonce(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Code: ramp.CodeInternal, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, NonceView{Account: hexID(account), Nonce: nonce})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) ([32]byte, bool) {
	id, err := crypto.ParseIdentity(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Code: ramp.Code(ramp.ErrInvalidInstruction), Error: name + ": " + err.Error()})
		return [32]byte{}, false
	}
	return [32]byte(id), true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}
