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

	"github.com/patriciodunstan/chat-analytics-api/internal/api"
	"github.com/patriciodunstan/chat-analytics-api/internal/auth"
	"github.com/patriciodunstan/chat-analytics-api/internal/chat"
	"github.com/patriciodunstan/chat-analytics-api/internal/config"
	"github.com/patriciodunstan/chat-analytics-api/internal/llm"
	"github.com/patriciodunstan/chat-analytics-api/internal/nl2sql"
	"github.com/patriciodunstan/chat-analytics-api/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("chat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := chat.Open(context.Background(), chat.DBConfig{
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

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize llm client", slog.Any("error", err))
		os.Exit(1)
	}

	detector := nl2sql.NewDetector(client, cfg.NL2SQL.DetectorUseLLM, logger)
	discovery := nl2sql.NewDiscovery(db, nl2sql.DiscoveryConfig{
		Dialect:               cfg.Database.Dialect,
		Schema:                cfg.Database.Schema,
		SampleValuesPerCol:    cfg.NL2SQL.SampleValuesPerCol,
		IncludeInternalTables: cfg.NL2SQL.IncludeInternalTables,
	}, logger)
	parser := nl2sql.NewIntentParser(client, logger)
	generator := nl2sql.NewGenerator(logger)
	executor := nl2sql.NewExecutor(db, logger)
	store := chat.NewStore(db)

	service := chat.NewService(detector, discovery, parser, generator, executor, client, store, chat.ServiceConfig{
		ConfidenceThreshold: cfg.NL2SQL.ConfidenceThreshold,
		HistoryLimit:        cfg.NL2SQL.HistoryLimit,
	}, logger)

	deps := api.Dependencies{
		Logger: logger,
		Chat:   service,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabaseDSN(cfg),
			api.CheckLLMConfig(cfg),
			store.HealthCheck,
		),
		DependencyTimeout: time.Second,
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
		logger.Info("starting chat api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("chat api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down chat api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
