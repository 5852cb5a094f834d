package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"lorekeeper/internal/adapter/repo"
	"lorekeeper/internal/domain"
	"lorekeeper/internal/infra"
	"lorekeeper/internal/providers"
	"lorekeeper/internal/queue"
	"lorekeeper/internal/storage"
	"lorekeeper/internal/worker"
)

func main() {
	maxMessages := flag.Int("max-messages", 1, "deliveries pulled per poll round (1-10)")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "pause between empty poll rounds")
	waitTime := flag.Duration("wait-time", 0, "long-poll block per receive (overrides QUEUE_WAIT_SECONDS)")
	debug := flag.Bool("debug", false, "force debug logging")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if *waitTime > 0 {
		cfg.QueueWaitTime = *waitTime
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if *debug {
		logger = logger.Level(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	queueClient := queue.NewClient(queue.Config{
		URL:         cfg.RedisURL,
		Base:        cfg.QueueBase,
		Visibility:  cfg.QueueVisibility,
		Block:       cfg.QueueWaitTime,
		MaxAttempts: cfg.QueueMaxAttempts,
	})
	if err := queueClient.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: queue connection failed")
	}
	defer queueClient.Close()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage setup failed")
	}

	registry := providers.NewRegistry()
	registry.Register("synthetic", providers.NewSyntheticGenerator())
	if key := strings.TrimSpace(cfg.GeminiAPIKey); key != "" {
		gemini, err := providers.NewGeminiGenerator(providers.GeminiOptions{
			APIKey:  key,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: gemini setup failed")
		}
		registry.Register("gemini", gemini)
	} else {
		logger.Warn().Msg("worker: gemini api key missing, synthetic generation only")
	}
	logger.Info().Strs("providers", registry.Names()).Str("consumer", queueClient.Consumer()).Msg("worker: started")

	store := repo.NewStore(pool)
	generation := worker.NewAssetGeneration(registry, fileStore, logger)

	runtime := worker.NewRuntime(queueClient, store, map[domain.JobType]worker.Handler{
		domain.JobTypeAssetGeneration: generation,
	}, worker.Options{
		MaxMessages:  *maxMessages,
		PollInterval: *pollInterval,
		ExtendEvery:  cfg.QueueVisibility / 3,
		StaleAfter:   cfg.QueueVisibility,
	}, logger)

	producer := queue.NewProducer(queueClient, logger)
	sweeper := worker.NewSweeper(store, producer, cfg.SweepInterval, cfg.SweepAfter, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker: sweeper stopped with error")
		}
	}()
	go func() {
		defer wg.Done()
		if err := runtime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker: runtime stopped with error")
		}
	}()

	wg.Wait()
	logger.Info().Msg("worker: stopped")
}
