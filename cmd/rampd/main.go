package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rampledger/config"
	"rampledger/core"
	"rampledger/core/events"
	"rampledger/core/state"
	"rampledger/observability/logging"
	telemetry "rampledger/observability/otel"
	"rampledger/rpc"
	"rampledger/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("rampd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "./rampd.toml", "Path to the configuration file (.toml, .yaml or .yml)")
	listen := fs.String("listen", "", "Override the configured listen address")
	allowMigrate := fs.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if addr := strings.TrimSpace(*listen); addr != "" {
		cfg.ListenAddress = addr
	}

	env := cfg.Environment
	if override := strings.TrimSpace(os.Getenv("RAMP_ENV")); override != "" {
		env = override
	}
	logger, logCloser := logging.SetupWithOptions("rampd", env, logging.Options{File: cfg.LogFile})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "rampd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		logger.Error("Failed to initialise telemetry", slog.Any("error", err))
		return 1
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("path", cfg.DataDir), slog.Any("error", err))
		return 1
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := manager.EnsureSchemaVersion(*allowMigrate); err != nil {
		logger.Error("State schema check failed", slog.Any("error", err))
		return 1
	}

	jwtSecret, err := cfg.Auth.Secret()
	if err != nil {
		logger.Error("Failed to resolve RPC auth secret", slog.Any("error", err))
		return 1
	}

	hub := events.NewHub(cfg.EventHistory)
	processor := core.NewProcessor(manager, core.Options{
		ChainID:         cfg.ChainID,
		RentPerByte:     cfg.RentPerByte,
		MaxRecordBytes:  cfg.MaxRecordBytes,
		NativeSymbol:    cfg.NativeSymbol,
		Logger:          logger,
		DefaultCapacity: int(cfg.AssetCapacity),
		Emitter:         hub,
	})

	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		logger.Error("Invalid genesis allocations", slog.Any("error", err))
		return 1
	}
	if applied, err := processor.ApplyGenesis(allocs); err != nil {
		logger.Error("Failed to apply genesis", slog.Any("error", err))
		return 1
	} else if !applied {
		logger.Info("Genesis already applied; skipping configured allocations")
	}

	api := rpc.New(processor, rpc.Config{
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		Logger:             logger,
		JWTSecret:          jwtSecret,
		JWTIssuer:          cfg.Auth.Issuer,
		JWTAudience:        cfg.Auth.Audience,
		Events:             hub,
		AllowedOrigins:     cfg.AllowedOrigins,
	})
	if !cfg.Auth.Enabled() {
		logger.Warn("RPC submissions are not authenticated; set Auth.SecretEnv to require bearer tokens")
	}
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams follow the process context so shutdown closes them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Ramp ledger listening", slog.String("addr", cfg.ListenAddress), slog.String("data_dir", cfg.DataDir), slog.Uint64("chain_id", cfg.ChainID))
		serveErr <- server.ListenAndServe()
	}()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.Any("error", err))
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", slog.Any("error", err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown incomplete", slog.Any("error", err))
	}
	return code
}
