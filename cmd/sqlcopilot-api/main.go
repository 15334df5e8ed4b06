package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sqlcopilot/sqlcopilot/internal/api"
	"github.com/sqlcopilot/sqlcopilot/internal/api/uistatic"
	"github.com/sqlcopilot/sqlcopilot/internal/config"
	"github.com/sqlcopilot/sqlcopilot/internal/copilot"
	"github.com/sqlcopilot/sqlcopilot/internal/dataset"
	s3store "github.com/sqlcopilot/sqlcopilot/internal/dataset/s3"
	"github.com/sqlcopilot/sqlcopilot/internal/engine"
	duckdbengine "github.com/sqlcopilot/sqlcopilot/internal/engine/duckdb"
	pgengine "github.com/sqlcopilot/sqlcopilot/internal/engine/postgres"
	"github.com/sqlcopilot/sqlcopilot/internal/nl2sql"
	"github.com/sqlcopilot/sqlcopilot/internal/observability"
	"github.com/sqlcopilot/sqlcopilot/internal/schema"
	pgschema "github.com/sqlcopilot/sqlcopilot/internal/schema/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sqlcopilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	var (
		reflector schema.Reflector
		executor  engine.Executor
		loader    api.CSVLoader
		readiness api.ReadinessCheck
	)
	switch cfg.Mode {
	case config.ModeDatabase:
		db, err := pgschema.Open(context.Background(), pgschema.DBConfig{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		reflector = pgschema.NewReflector(db)
		executor = pgengine.NewExecutor(db)
		readiness = api.CombineReadinessChecks(db.PingContext, api.CheckDatabaseDSN(cfg))
	case config.ModeDemo:
		demoEngine, err := duckdbengine.NewEngine()
		if err != nil {
			logger.Error("failed to start demo engine", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = demoEngine.Close() }()

		reflector = demoEngine
		executor = demoEngine
		loader = demoEngine
		readiness = demoEngine.HealthCheck
	}

	var datasetStore dataset.ObjectStore
	if cfg.Datasets.Enabled {
		datasetStore, err = s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Datasets.Endpoint,
			Region:           cfg.Datasets.Region,
			Bucket:           cfg.Datasets.Bucket,
			AccessKeyID:      cfg.Datasets.AccessKeyID,
			SecretAccessKey:  cfg.Datasets.SecretAccessKey,
			UseSSL:           cfg.Datasets.UseSSL,
			Prefix:           cfg.Datasets.Prefix,
			AutoCreateBucket: cfg.Datasets.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize dataset store", slog.Any("error", err))
			os.Exit(1)
		}
		readiness = api.CombineReadinessChecks(readiness, api.CheckDatasetStoreConfig(cfg))

		if loader != nil {
			reloadDatasets(context.Background(), logger, datasetStore, loader)
		}
	}

	var translator nl2sql.Translator
	var summarizer nl2sql.Summarizer
	if cfg.AI.Enabled {
		client, err := nl2sql.NewOpenAIClient(nl2sql.OpenAIConfig{
			BaseURL:            cfg.AI.BaseURL,
			APIKey:             cfg.AI.APIKey,
			Model:              cfg.AI.Model,
			Temperature:        cfg.AI.Temperature,
			Timeout:            cfg.AI.Timeout,
			SummaryModel:       cfg.AI.SummaryModel,
			SummaryTemperature: cfg.AI.SummaryTemperature,
		})
		if err != nil {
			logger.Error("failed to initialize language model client", slog.Any("error", err))
			os.Exit(1)
		}
		translator = client
		if cfg.AI.SummaryEnabled {
			summarizer = client
		}
	}

	service := &copilot.Service{
		Reflector:  reflector,
		Translator: translator,
		Summarizer: summarizer,
		Executor:   executor,
		Logger:     logger,
		Config: copilot.Config{
			Dialect:      cfg.Dialect(),
			RowLimit:     cfg.Guard.RowLimit,
			PIIBlocklist: cfg.Guard.PIIBlocklist,
			Schema: schema.Options{
				AllowTables:        cfg.Guard.AllowTables,
				ExcludeTables:      cfg.Guard.ExcludeTables,
				MaxColumnsPerTable: cfg.Guard.MaxColumnsPerTable,
				SampleRows:         cfg.Guard.SampleRows,
			},
		},
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Readiness:         readiness,
		DependencyTimeout: time.Second,
		Copilot:           service,
		Loader:            loader,
		Datasets:          datasetStore,
		UI:                uistatic.Handler(),
	})
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
			slog.String("mode", string(cfg.Mode)))
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

// reloadDatasets rebuilds demo tables from CSV files persisted in the
// dataset store. Failures are logged per object so one bad file does not
// block startup.
func reloadDatasets(ctx context.Context, logger *slog.Logger, store dataset.ObjectStore, loader api.CSVLoader) {
	objects, err := store.List(ctx)
	if err != nil {
		logger.Warn("failed to list persisted datasets", slog.Any("error", err))
		return
	}
	for _, object := range objects {
		if !strings.EqualFold(path.Ext(object.Key), ".csv") {
			continue
		}
		tableName, err := duckdbengine.SanitizeTableName(object.Key)
		if err != nil {
			logger.Warn("skipping persisted dataset with unusable name",
				slog.String("key", object.Key), slog.Any("error", err))
			continue
		}
		body, err := store.Get(ctx, object.Key)
		if err != nil {
			logger.Warn("failed to fetch persisted dataset",
				slog.String("key", object.Key), slog.Any("error", err))
			continue
		}
		data, err := io.ReadAll(body)
		_ = body.Close()
		if err != nil {
			logger.Warn("failed to read persisted dataset",
				slog.String("key", object.Key), slog.Any("error", err))
			continue
		}
		rows, err := loader.LoadCSV(ctx, tableName, data)
		if err != nil {
			logger.Warn("failed to rebuild table from persisted dataset",
				slog.String("key", object.Key), slog.Any("error", err))
			continue
		}
		logger.Info("rebuilt table from persisted dataset",
			slog.String("table", tableName), slog.Int64("rows", rows))
	}
}
