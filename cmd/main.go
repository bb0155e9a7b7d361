package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cpbr-dev/Clog-Bot/broadcast"
	"github.com/cpbr-dev/Clog-Bot/config"
	"github.com/cpbr-dev/Clog-Bot/db"
	"github.com/cpbr-dev/Clog-Bot/handlers"
	"github.com/cpbr-dev/Clog-Bot/hiscores"
	"github.com/cpbr-dev/Clog-Bot/metrics"
	"github.com/cpbr-dev/Clog-Bot/repositories"
	api "github.com/cpbr-dev/Clog-Bot/routes"
	"github.com/cpbr-dev/Clog-Bot/services"
	"github.com/cpbr-dev/Clog-Bot/storage"
	"github.com/cpbr-dev/Clog-Bot/utils"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
)

// @title Clog-Bot API
// @version 1.0
// @description Синхронизация журналов коллекций OSRS и лидерборд сообщества.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// clog-bot hash-secret <secret> печатает значение для DISPATCHER_SECRET_HASH
	if len(os.Args) > 1 && os.Args[1] == "hash-secret" {
		os.Exit(hashSecret(os.Args[2:]))
	}

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort), slog.Duration("sync_interval", cfg.SyncInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	if err := db.Migrate(ctx, dbConn); err != nil {
		logger.Error("failed to apply schema", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("database connection established")

	metrics.InitPrometheus()

	// Репозитории
	accountRepo := repositories.NewPostgresAccountRepository(dbConn)
	overrideRepo := repositories.NewPostgresOverrideRepository(dbConn)
	settingsRepo := repositories.NewPostgresSettingsRepository(dbConn)

	// Запросы к hiscores
	lookup := hiscores.New(hiscores.Options{
		BaseURL:       cfg.LookupURL,
		Timeout:       cfg.FetchTimeout,
		RatePerSecond: cfg.FetchRatePerSec,
		Burst:         cfg.FetchBurst,
	})

	// Сервисы
	locks := services.NewAccountLocks()
	syncer := services.NewScoreSyncer(accountRepo, lookup, locks, services.SyncOptions{
		FetchTimeout: cfg.FetchTimeout,
		Backoff:      cfg.FetchBackoff,
		MaxBackoff:   cfg.FetchMaxBackoff,
		MaxRetries:   cfg.FetchMaxRetries,
	}, logger)
	aggregator := services.NewAggregator(accountRepo, overrideRepo)
	ranking := services.NewRankingEngine(aggregator, cfg.LeaderboardSize, logger)
	registry := services.NewAccountRegistry(accountRepo, syncer, locks, ranking, logger)
	overrideService := services.NewOverrideService(overrideRepo, ranking, logger)
	settingsService := services.NewSettingsService(settingsRepo, logger)
	authService := services.NewAuthService(cfg.DispatcherSecretHash, cfg.AdminUserIDs)
	scheduler := services.NewSyncScheduler(accountRepo, syncer, ranking, services.SchedulerConfig{
		Interval:   cfg.SyncInterval,
		Workers:    cfg.SyncWorkers,
		RunOnStart: true,
	}, logger)
	if cfg.DispatcherSecretHash == "" {
		logger.Warn("DISPATCHER_SECRET_HASH is not set, token issuing is disabled")
	}

	// Подписчики на новые снимки
	wsHub := broadcast.NewHub(logger)
	go wsHub.Run(ctx)
	ranking.AddPublisher(wsHub)
	logger.Info("WebSocket Hub started")

	if cfg.ArchiveEnabled() {
		store, err := storage.NewCloudflareR2Store(ctx, storage.CloudflareR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
			Endpoint:        cfg.R2Endpoint,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 store", slog.Any("error", err))
			os.Exit(1)
		}
		ranking.AddPublisher(storage.NewSnapshotArchiver(store, storage.DefaultArchivePrefix, logger))
		logger.Info("leaderboard archive enabled", slog.String("bucket", cfg.R2BucketName))
	}

	// Опубликовать то, что уже лежит в базе, до первого цикла
	if _, err := ranking.Refresh(ctx); err != nil {
		logger.Error("initial leaderboard build failed", slog.Any("error", err))
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	router := chi.NewRouter()
	api.SetupRoutes(router, api.Handlers{
		Auth:        handlers.NewAuthHandler(authService, cfg.JWTSecretKey),
		Accounts:    handlers.NewAccountHandler(registry),
		Leaderboard: handlers.NewLeaderboardHandler(ranking, aggregator),
		Admin:       handlers.NewAdminHandler(overrideService, scheduler, settingsService, ranking),
		WebSocket:   handlers.NewWebSocketHandler(wsHub, ranking, cfg.CORSAllowedOrigins),
	}, api.Options{
		JWTSecret:      cfg.JWTSecretKey,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	logger.Info("Routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			stop()
			<-schedulerDone
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
		} else {
			logger.Info("server shutdown complete")
		}
	}

	// текущий цикл, если он идёт, прерывается вместе с контекстом
	<-schedulerDone
	logger.Info("application exited")
}

func hashSecret(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: clog-bot hash-secret <secret>")
		return 2
	}
	hash, err := utils.HashSecret(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}
