package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	apiPkg "github.com/agentbridge-io/agentbridge/internal/api"
	"github.com/agentbridge-io/agentbridge/internal/config"
	"github.com/agentbridge-io/agentbridge/internal/escalation"
	"github.com/agentbridge-io/agentbridge/internal/logring"
	"github.com/agentbridge-io/agentbridge/internal/qdrant"
	"github.com/agentbridge-io/agentbridge/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	ring := logring.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logring.NewHandler(jsonHandler, ring))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("bridged starting", "bridge_id", cfg.Bridge.ID,
		"store", cfg.Store.URL, "embeddings", cfg.Embeddings.URL)

	// Store client + escalation repository
	var storeOpts []qdrant.Option
	if cfg.Store.APIKey != "" {
		storeOpts = append(storeOpts, qdrant.WithAPIKey(cfg.Store.APIKey))
	}
	store := qdrant.New(cfg.Store.URL, storeOpts...)
	repo := escalation.New(store, cfg.Store.Collection, logger)

	// Embedding relay client
	embedder := relay.NewClient(cfg.Embeddings.URL)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Best-effort collection init. Failure is only logged: every Create and
	// List re-attempts the ensure, so the store becoming ready later heals
	// this on its own.
	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := repo.EnsureCollection(initCtx); err != nil {
		logger.Warn("startup collection init failed, will retry per request", "error", err)
	}
	initCancel()

	srv := apiPkg.NewServer(repo, embedder, store, embedder, apiPkg.Config{
		Host:       cfg.API.Host,
		Port:       cfg.API.Port,
		Key:        cfg.API.Key,
		EmbedModel: cfg.Embeddings.Model,
	}, logger, ring)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("bridged stopped")
}
