package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vidhub/backend/internal/api"
	"github.com/vidhub/backend/internal/apperrors"
	"github.com/vidhub/backend/internal/auth"
	"github.com/vidhub/backend/internal/cache"
	"github.com/vidhub/backend/internal/cleanup"
	"github.com/vidhub/backend/internal/config"
	"github.com/vidhub/backend/internal/db"
	"github.com/vidhub/backend/internal/health"
	"github.com/vidhub/backend/internal/logger"
	"github.com/vidhub/backend/internal/metrics"
	"github.com/vidhub/backend/internal/middleware"
	"github.com/vidhub/backend/internal/storage"
	"github.com/vidhub/backend/internal/users"
)

const version = "1.0.0"

func main() {
	// Missing .env is fine; production sets real environment variables.
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "server")
	logger.SetDefault(log)
	ctx := context.Background()

	if cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "" {
		log.Error(ctx, "ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must be set", nil)
		os.Exit(1)
	}

	database, err := db.New(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
	if err != nil {
		log.Error(ctx, "failed to connect to database", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Error(ctx, "failed to run migrations", err)
		os.Exit(1)
	}

	storageCfg := &storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Region:    cfg.MinioRegion,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MediaPublicURL,
	}

	storageClient, err := storage.New(storageCfg)
	if err != nil {
		log.Error(ctx, "failed to create storage client", err)
		os.Exit(1)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		log.Error(ctx, "failed to ensure media bucket", err)
		os.Exit(1)
	}

	mediaStore, err := storage.NewMediaStore(storageCfg)
	if err != nil {
		log.Error(ctx, "failed to create media store", err)
		os.Exit(1)
	}

	cleanupQueue, err := cleanup.NewQueue(cfg.RedisAddr)
	if err != nil {
		log.Error(ctx, "failed to connect to redis for cleanup queue", err)
		os.Exit(1)
	}
	defer cleanupQueue.Close()

	workerPool := cleanup.NewWorkerPool(cleanupQueue, mediaStore, &cleanup.WorkerPoolConfig{
		WorkerCount: cfg.CleanupWorkers,
	})
	workerPool.Start()

	profileCache, err := cache.New(cfg.RedisAddr)
	if err != nil {
		log.Error(ctx, "failed to connect to redis for profile cache", err)
		os.Exit(1)
	}
	defer profileCache.Close()

	userRepo := db.NewUserRepository(database)
	subscriptionRepo := db.NewSubscriptionRepository(database)
	videoRepo := db.NewVideoRepository(database)

	authService := auth.NewService(userRepo, cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)

	userHandlers := users.NewHandlers(userRepo, subscriptionRepo, videoRepo, authService, mediaStore, cleanupQueue, profileCache, users.Config{
		AccessTokenMaxAge:  cfg.AccessTokenExpiry,
		RefreshTokenMaxAge: cfg.RefreshTokenExpiry,
	})

	m := metrics.Default()

	healthChecker := health.NewChecker(&health.CheckerConfig{
		DB:          database.DB,
		Redis:       profileCache.Client(),
		StoragePing: storageClient.Ping,
		Version:     version,
	})

	router := api.NewRouter(userHandlers, authService, health.NewHandler(healthChecker), m)

	handler := middleware.Chain(
		router,
		apperrors.RequestIDMiddleware,
		middleware.Recoverer(log),
		middleware.Logging(log),
		middleware.Metrics(m),
		middleware.CORS(cfg.CORSOrigins),
	)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info(ctx, "starting server", map[string]interface{}{"addr": cfg.ServerAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "server failed", err)
			os.Exit(1)
		}
	}()

	<-stop
	log.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", err)
	}
	if err := workerPool.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "cleanup worker pool shutdown failed", err)
	}
}
