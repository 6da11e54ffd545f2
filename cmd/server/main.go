package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/persona-labs/persona/internal/api"
	"github.com/persona-labs/persona/internal/config"
	"github.com/persona-labs/persona/internal/embedding"
	"github.com/persona-labs/persona/internal/extract"
	"github.com/persona-labs/persona/internal/ingest"
	"github.com/persona-labs/persona/internal/llm"
	"github.com/persona-labs/persona/internal/query"
	"github.com/persona-labs/persona/internal/retrieval"
	"github.com/persona-labs/persona/internal/store"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	// Logger
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// SQLite
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Stores
	memoryStore := store.NewMemoryStore(db)
	linkStore := store.NewLinkStore(db)
	entityStore := store.NewEntityStore(db)
	cardStore := store.NewUserCardStore(db)
	embCacheStore := store.NewEmbeddingCacheStore(db)

	// Ollama behind a shared rate/concurrency limiter
	limiter := llm.NewLimiter(cfg.LLMRequestsPerSec, cfg.LLMBurst, cfg.LLMMaxInFlight, cfg.LLMMaxAttempts, logger)
	ollama := llm.NewOllama(cfg.OllamaBaseURL, cfg.ChatModel, cfg.EmbedModel, limiter)

	// Embedding with cache
	embedder := embedding.NewCachedEmbedder(ollama, embCacheStore, cfg.EmbedModel, cfg.EmbeddingDim)

	// Write path
	extractor := extract.New(ollama, logger)
	matcher := ingest.NewMatcher(entityStore, embedder, cfg.EntityMatchThreshold, logger)
	linker := ingest.NewLinker(memoryStore, linkStore, cardStore, matcher, logger)
	ingestSvc := ingest.NewService(memoryStore, linkStore, cardStore, extractor, embedder, linker, logger)

	// Read path
	expander := query.NewExpander(ollama, logger)
	retriever := retrieval.NewRetriever(memoryStore, linkStore, cardStore, expander, embedder, logger)
	retriever.SetDefaults(retrieval.Defaults{
		TopK:     cfg.DefaultTopK,
		HopDepth: cfg.DefaultHopDepth,
		MaxItems: cfg.DefaultMaxItems,
	})

	if err := ollama.HealthCheck(context.Background()); err != nil {
		logger.Warn("ollama not available at startup, will retry on first use", "error", err)
	}

	// Router
	router := api.NewRouter(db, memoryStore, cardStore, ingestSvc, retriever, ollama, cfg.AuthToken, logger)

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("persona server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
