package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	coreagg "github.com/dairytrack/dairytrack/internal/core/aggregation"
	corecfg "github.com/dairytrack/dairytrack/internal/core/config"
	"github.com/dairytrack/dairytrack/internal/core/storage"
	"github.com/dairytrack/dairytrack/internal/core/storage/bolt"
	"github.com/dairytrack/dairytrack/internal/core/storage/memory"
	"github.com/dairytrack/dairytrack/internal/core/storage/postgres"
	"github.com/dairytrack/dairytrack/internal/ingestion"
	"github.com/dairytrack/dairytrack/internal/migrations"
	"github.com/dairytrack/dairytrack/internal/notify"
	"github.com/dairytrack/dairytrack/internal/report"
	"github.com/dairytrack/dairytrack/internal/schema"
	"github.com/dairytrack/dairytrack/internal/schema/formats/protobuf"
	"github.com/dairytrack/dairytrack/internal/server"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "dairytrack.yaml", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	// 0. Initialize Logger
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := run(*configPath); err != nil {
		slog.Error("DairyTrack stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until shutdown. Every resource opened
// here is released before it returns.
func run(configPath string) error {
	// 1. Load Configuration (and report definitions)
	cfg, err := corecfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))
	slog.Info("Loaded config",
		"config_path", configPath,
		"database", cfg.Database.Type,
		"reports_dir", cfg.Reports.ConfigDir,
		"reports", cfg.Definitions.Len())

	engineOpts, err := cfg.Reports.EngineOptions()
	if err != nil {
		return fmt.Errorf("invalid report settings: %w", err)
	}

	// 2. Initialize Storage
	store, health, closer, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.Database.Type, err)
	}
	defer closer.Close()

	// 3. Initialize Schema Registry from report definitions
	registry, validator, err := loadSchemas(cfg)
	if err != nil {
		return fmt.Errorf("failed to load record schemas: %w", err)
	}

	// 4. Initialize Notifier
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.Enabled() {
		publisher, err := notify.NewAMQPPublisher(cfg.Notify.AMQPURL, cfg.Notify.Exchange, cfg.Notify.RoutingKey)
		if err != nil {
			return fmt.Errorf("failed to connect to AMQP broker: %w", err)
		}
		notifier = publisher
	}
	defer notifier.Close()

	// 5. Initialize Ingestion
	ingestionSvc := ingestion.NewService(registry, validator, store, ingestion.Options{
		Location:       engineOpts.Location,
		MaxBodySizeMB:  cfg.Server.MaxBodySizeMB,
		RequireSession: cfg.Auth.RequireSession,
		Notifier:       notifier,
	})

	// 6. Initialize Reports
	engine := coreagg.NewEngine(engineOpts)
	reportSvc := report.NewService(engine, cfg.Definitions, store, report.Options{
		FetchBatchSize:     cfg.Reports.FetchBatchSize,
		MaxFetchIterations: cfg.Reports.MaxFetchIterations,
	})

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Database.Type, health, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	reportSvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Reports.Watch {
		watcher, err := report.NewDefinitionWatcher(cfg.Definitions, 0)
		if err != nil {
			return fmt.Errorf("failed to start report definition watcher: %w", err)
		}
		defer watcher.Close()
		watcher.Start(ctx)
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case <-quit:
			slog.Info("Signal received, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// openStore returns the configured record store, its health checker (nil
// when there is nothing to ping) and a closer for shutdown.
func openStore(cfg corecfg.DatabaseConfig) (storage.RecordStore, server.HealthChecker, io.Closer, error) {
	switch cfg.Type {
	case "postgres":
		db, err := postgres.Open(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := migrations.RunMigrations(db, cfg.AutoMigrate); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		adapter, err := postgres.NewAdapterWithDB(db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return adapter, adapter, adapter, nil
	case "bolt":
		store, err := bolt.Open(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, store, nil
	case "memory":
		slog.Warn("Using in-memory record store; records are lost on restart")
		return memory.NewStore(), nil, closerFunc(func() error { return nil }), nil
	}
	return nil, nil, nil, fmt.Errorf("unsupported database type %q", cfg.Type)
}

// loadSchemas registers the payload schema of every report that declares
// one and compiles each up front so a bad .proto fails at startup.
func loadSchemas(cfg *corecfg.Config) (*schema.Registry, *schema.Validator, error) {
	registry := schema.NewRegistry()
	validator := schema.NewValidator(protobuf.NewCompiler(), protobuf.NewValidator())

	defs, err := cfg.Definitions.List(context.Background(), "")
	if err != nil {
		return nil, nil, err
	}
	for _, def := range defs {
		if def.RecordSchema == "" {
			continue
		}
		if existing, err := registry.Get(context.Background(), def.SourceKind); err == nil {
			slog.Warn("Record kind already has a schema, ignoring",
				"kind", def.SourceKind,
				"report", def.Name,
				"kept", existing.Source)
			continue
		}
		s, err := registry.RegisterFile(def.SourceKind, def.RecordSchema, cfg.Reports.StrictSchemas)
		if err != nil {
			return nil, nil, fmt.Errorf("report %q: %w", def.Name, err)
		}
		if err := validator.Precompile(context.Background(), s); err != nil {
			return nil, nil, fmt.Errorf("report %q: %w", def.Name, err)
		}
	}

	slog.Info("Record schemas loaded", "kinds", registry.Len(), "strict", cfg.Reports.StrictSchemas)
	return registry, validator, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
