package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"inferpay/config"
	"inferpay/core"
	"inferpay/core/events"
	"inferpay/observability"
	"inferpay/observability/logging"
	telemetry "inferpay/observability/otel"
	"inferpay/rpc"
	"inferpay/services/auditlog"
	"inferpay/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file (.toml, .yaml or .yml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.ServiceName, cfg.Environment, logging.Options{Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("inferpayd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	db, err := openStorage(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	opts, err := cfg.NodeOptions(logger)
	if err != nil {
		return fmt.Errorf("node options: %w", err)
	}
	node, err := core.NewNode(db, opts)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	stream := events.NewBroadcaster(cfg.RPC.StreamBuffer)
	stream.SetDropHook(observability.Node().RecordStreamDrop)
	sinks := events.Multi{stream}

	var audit rpc.AuditLog
	if driver := strings.TrimSpace(cfg.Audit.Driver); driver != "" {
		gdb, err := auditlog.Open(driver, cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		store, err := auditlog.New(gdb, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(events.Multi{store}, sinks...)
		audit = store
	}
	node.SetEventSink(sinks)

	height, err := node.Height()
	if err != nil {
		return err
	}
	logger.Info("node ready",
		slog.Uint64("height", height),
		slog.String("backend", cfg.StorageBackend),
		slog.String("audit", cfg.Audit.Driver))

	server, err := rpc.NewServer(node, audit, stream, rpc.ServerConfig{
		JWTSecret:          cfg.RPC.JWTSecret,
		JWTIssuer:          cfg.RPC.JWTIssuer,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		ReadHeaderTimeout:  time.Duration(cfg.RPC.ReadHeaderTimeout) * time.Second,
		WriteTimeout:       time.Duration(cfg.RPC.WriteTimeout) * time.Second,
	}, logger)
	if err != nil {
		return err
	}
	return server.Serve(ctx, cfg.RPCAddress)
}

// openStorage opens the configured state backend under dataDir.
func openStorage(backend, dataDir string) (storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data dir: %w", err)
		}
		db, err := storage.NewBoltDB(filepath.Join(dataDir, "state.bolt"), nil)
		if err != nil {
			return nil, fmt.Errorf("open bolt: %w", err)
		}
		return db, nil
	case config.BackendLevelDB, "":
		db, err := storage.NewLevelDB(filepath.Join(dataDir, "state"))
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
