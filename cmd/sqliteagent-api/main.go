package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqliteagent/sqliteagent/internal/api"
	"github.com/sqliteagent/sqliteagent/internal/auth"
	"github.com/sqliteagent/sqliteagent/internal/config"
	"github.com/sqliteagent/sqliteagent/internal/history"
	historypostgres "github.com/sqliteagent/sqliteagent/internal/history/postgres"
	"github.com/sqliteagent/sqliteagent/internal/mcpserver"
	"github.com/sqliteagent/sqliteagent/internal/nl2sql"
	"github.com/sqliteagent/sqliteagent/internal/observability"
	"github.com/sqliteagent/sqliteagent/internal/pipeline"
	"github.com/sqliteagent/sqliteagent/internal/query/sqlite"
	"github.com/sqliteagent/sqliteagent/internal/replica"
	"github.com/sqliteagent/sqliteagent/internal/safety"
	s3store "github.com/sqliteagent/sqliteagent/internal/storage/s3"
)

const version = "0.1.0"

func main() {
	cfg, err := config.LoadFromEnv("sqliteagent-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		logger.Error("failed to create upload dir", slog.String("dir", cfg.Storage.UploadDir), slog.Any("error", err))
		os.Exit(1)
	}

	engine := sqlite.NewEngine(sqlite.Options{
		UploadDir:        cfg.Storage.UploadDir,
		MaxDatabaseBytes: cfg.Storage.MaxDatabaseBytes,
		Logger:           logger,
	})
	defer engine.CloseAll()

	gateway := nl2sql.NewGateway(nl2sql.GatewayConfig{
		BaseURL:   cfg.AI.BaseURL,
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
		Timeout:   cfg.AI.Timeout,
		Referer:   cfg.AI.Referer,
		AppTitle:  cfg.AI.AppTitle,
	}, logger)
	if !gateway.Configured() {
		logger.Warn("OPENROUTER api key not configured, model calls return mocked replies")
	}
	synthesizer := nl2sql.NewSynthesizer(gateway, nl2sql.SynthesizerOptions{
		TranslateTemperature: cfg.AI.Temperature,
		Logger:               logger,
	})

	readiness := []api.ReadinessCheck{
		api.CheckUploadDir(cfg.Storage.UploadDir),
		api.CheckObjectStoreConfig(cfg),
	}

	var historyStore history.Store
	switch cfg.History.Backend {
	case config.HistoryBackendPostgres:
		historyDB, err := historypostgres.Open(context.Background(), historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			ApplicationName: cfg.Service.Name,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()
		store := historypostgres.NewStore(historyDB)
		historyStore = store
		readiness = append(readiness, api.CheckHistoryStore(store))
	default:
		historyStore = history.NewMemoryStore(cfg.History.MaxEntries)
	}

	service := &pipeline.Service{
		Engine:      engine,
		Creator:     engine,
		Synthesizer: synthesizer,
		Safety:      safety.NewCombiner(synthesizer, logger),
		History:     historyStore,
		Logger:      logger,
	}

	deps := api.Dependencies{
		Logger:            logger,
		Databases:         engine,
		Pipeline:          service,
		Gateway:           gateway,
		DependencyTimeout: time.Second,
	}

	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Replicator = &replica.Service{
			Engine:   engine,
			Objects:  objectStore,
			MaxBytes: cfg.Storage.MaxDatabaseBytes,
			Logger:   logger,
		}
		deps.Archiver = history.NewArchiver(historyStore, objectStore, 0, logger)
		readiness = append(readiness, api.CheckObjectStore(objectStore))
	}
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	if cfg.MCP.Enabled {
		deps.MCP = mcpserver.NewHandler(&mcpserver.Tools{
			Pipeline:  service,
			Databases: engine,
			Logger:    logger,
		}, version, cfg.MCP.Path)
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("model", gateway.DefaultModel()),
			slog.String("api_key", observability.MaskSecret(cfg.AI.APIKey)),
			slog.Bool("mcp", cfg.MCP.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
