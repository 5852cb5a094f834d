package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"lorekeeper/internal/adapter/repo"
	"lorekeeper/internal/http/handlers"
	"lorekeeper/internal/http/httpapi"
	"lorekeeper/internal/infra"
	"lorekeeper/internal/queue"
	"lorekeeper/internal/service"
	"lorekeeper/internal/storage"
	"lorekeeper/migrations"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	if err := infra.Migrate(ctx, pool, migrations.FS, logger); err != nil {
		logger.Fatal().Err(err).Msg("api: migrations failed")
	}

	queueClient := queue.NewClient(queue.Config{
		URL:         cfg.RedisURL,
		Base:        cfg.QueueBase,
		Visibility:  cfg.QueueVisibility,
		Block:       cfg.QueueWaitTime,
		MaxAttempts: cfg.QueueMaxAttempts,
	})
	if err := queueClient.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: queue connection failed")
	}
	defer queueClient.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: storage setup failed")
	}

	store := repo.NewStore(pool)
	producer := queue.NewProducer(queueClient, logger)
	submission := service.NewSubmission(store, store.Lore, store.Derivations, store.Assets, producer, logger)

	app := &handlers.App{
		Submission:  submission,
		Jobs:        store.Jobs,
		Assets:      store.Assets,
		Derivations: store.Derivations,
		Worker:      store,
		Blobs:       fileStore,
		Log:         logger,
	}

	router := httpapi.NewRouter(app, cfg.WorkerToken)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
