package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/meghx-ai/meghx/internal/api"
	"github.com/meghx-ai/meghx/internal/chat"
	"github.com/meghx-ai/meghx/internal/checkpoint"
	"github.com/meghx-ai/meghx/internal/config"
	"github.com/meghx-ai/meghx/internal/crypto"
	"github.com/meghx-ai/meghx/internal/database"
	"github.com/meghx-ai/meghx/internal/events"
	"github.com/meghx-ai/meghx/internal/llm"
	"github.com/meghx-ai/meghx/internal/memory"
	mw "github.com/meghx-ai/meghx/internal/middleware"
	iredis "github.com/meghx-ai/meghx/internal/redis"
	"github.com/meghx-ai/meghx/internal/server"
	"github.com/meghx-ai/meghx/internal/tools"
	"github.com/meghx-ai/meghx/internal/worker"
)

const (
	maxHistory           = 40
	maintenanceInterval  = time.Hour
	maintenanceBatchSize = 500
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS is optional: turns run without event publishing when it is down.
	var publisher *events.Publisher
	eventsClient, err := events.NewClient(ctx, cfg.NATS)
	if err != nil {
		slog.Warn("nats unavailable, events disabled", "error", err)
	} else {
		defer eventsClient.Close()
		publisher = events.NewPublisher(eventsClient.JetStream())
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Keys)
	if err != nil {
		slog.Error("building encryptor", "error", err)
		os.Exit(1)
	}

	// Model providers: the primary is deadline-bounded, the refiner handles
	// post-processing, extraction, and summaries.
	primary := llm.WithTimeout(
		llm.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens),
		cfg.LLM.Timeout,
	)
	refiner := llm.WithTimeout(
		llm.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.RefineModel, cfg.LLM.MaxTokens),
		cfg.LLM.Timeout,
	)

	// Memory tiers
	episodic := memory.NewEpisodicStore(redisClient, cfg.Memory.EpisodicLimit, cfg.Memory.EpisodicTTL, cfg.Memory.EpisodicMaxChars)
	semantic := memory.NewPostgresSemanticStore(pool, memory.HashEmbedder{}, encryptor)
	procedural := memory.NewPostgresProceduralStore(pool)
	settings := memory.NewPostgresSettingsStore(pool, cfg.Memory.SemanticRetentionDays)
	summarizer := memory.NewSummarizer(redisClient, refiner)

	injector := memory.NewInjector(episodic, semantic, procedural, settings, summarizer, slog.Default(),
		cfg.Memory.EpisodicLimit, cfg.Memory.SemanticTopK, cfg.Memory.SummaryTrigger)
	extractor := memory.NewExtractor(refiner, episodic, semantic, procedural, settings, slog.Default(),
		cfg.Memory.ExtractionWindow, cfg.Memory.ConfidenceThreshold)

	go memory.RunMaintenance(ctx, semantic, maintenanceInterval, maintenanceBatchSize, func(removed int64) {
		slog.Info("semantic memory decayed", "removed", removed)
	})

	// Tool server
	executor := tools.NewHTTPExecutor(cfg.Tools.BaseURL, cfg.Tools.Timeout)
	registry := tools.NewRegistry()
	if defs, err := executor.LoadDefinitions(ctx); err != nil {
		slog.Warn("tool catalog unavailable, starting with no tools", "error", err)
	} else {
		registry.Refresh(defs)
		slog.Info("tool catalog loaded", "tools", len(defs))
	}

	// Workflow state
	checkpoints := checkpoint.NewStore(redisClient, checkpoint.NewTTLPolicy(
		cfg.Checkpoint.TTL, cfg.Checkpoint.PrivilegedTTL, cfg.Checkpoint.PrivilegedUsers))

	workerPool := worker.NewPool(cfg.Memory.BackgroundConcurrency, slog.Default())
	defer workerPool.Close()

	engine := chat.NewEngine(chat.Deps{
		Provider:    primary,
		Refiner:     refiner,
		Registry:    registry,
		Executor:    executor,
		Checkpoints: checkpoints,
		Injector:    injector,
		Extractor:   extractor,
		Summarizer:  summarizer,
		Settings:    settings,
		Pool:        workerPool,
		Publisher:   publisher,
		Logger:      slog.Default(),
	}, chat.Config{
		MaxTokens:      cfg.LLM.MaxTokens,
		MaxHistory:     maxHistory,
		SummaryTrigger: cfg.Memory.SummaryTrigger,
	})

	chatHandler := api.NewChatHandler(engine, chat.NewStreamer(engine))

	rateLimiter := mw.NewRateLimiter(redisClient, cfg.Server.RateLimitMax, cfg.Server.RateLimitWindowSec)
	router := api.NewRouter(pool, eventsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		ChatRateLimiter:    rateLimiter.Middleware,
	}, chatHandler)

	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
