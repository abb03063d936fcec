package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/tournament-history/config"
	"github.com/Dosada05/tournament-history/db"
	"github.com/Dosada05/tournament-history/handlers"
	"github.com/Dosada05/tournament-history/middleware"
	"github.com/Dosada05/tournament-history/realtime"
	"github.com/Dosada05/tournament-history/repositories"
	"github.com/Dosada05/tournament-history/routes"
	"github.com/Dosada05/tournament-history/scheduler"
	"github.com/Dosada05/tournament-history/services"
	"github.com/Dosada05/tournament-history/storage"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second
	sweepRunTimeout = time.Minute
)

type repositorySet struct {
	history    repositories.HistoryRepository
	tournament repositories.PrivateTournamentRepository
	spectator  repositories.SpectatorRepository
	chat       repositories.ChatRepository
}

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("application failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application exited")
}

func run(logger *slog.Logger) error {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Репозитории: Postgres, если задан DATABASE_URL, иначе в памяти
	repos, closeDB, err := setupRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	// Канал доставки событий и WebSocket Hub
	wsHub := realtime.NewHub(logger)
	channel, closeChannel, err := setupChannel(cfg, wsHub, logger)
	if err != nil {
		return err
	}
	defer closeChannel()
	gateway := realtime.NewGateway(channel, logger)
	defer gateway.Close()
	if !channel.Connect(ctx) {
		logger.Warn("realtime channel not connected at startup, live events disabled until it recovers")
	}

	// Хранилище экспортов (Cloudflare R2)
	var uploader storage.FileUploader
	if cfg.R2Configured() {
		uploader, err = storage.NewCloudflareR2Uploader(ctx, storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Cloudflare R2 uploader: %w", err)
		}
		logger.Info("Cloudflare R2 uploader initialized")
	} else {
		logger.Info("R2 not configured, history export disabled")
	}

	// Инициализация сервисов
	resultStore := services.NewResultStore(repos.history, logger)
	statisticsEngine := services.NewStatisticsEngine(resultStore, logger)
	accessController := services.NewAccessController(repos.tournament, logger)
	chatLog := services.NewChatLog(repos.chat, gateway, logger)
	spectatorRegistry := services.NewSpectatorRegistry(repos.spectator, chatLog, gateway, logger)
	historyExporter := services.NewHistoryExporter(resultStore, uploader, logger)
	logger.Info("services initialized")

	sched, err := scheduler.New(ctx, spectatorRegistry, scheduler.Config{
		SweepInterval: cfg.StaleSpectatorSweepInterval,
		MaxAge:        cfg.StaleSpectatorMaxAge,
		RunTimeout:    sweepRunTimeout,
	}, logger)
	if err != nil {
		return err
	}

	// Настройка маршрутизатора
	router := chi.NewRouter()
	routes.SetupRoutes(router, middleware.NewAuth(cfg.JWTSecretKey), routes.Handlers{
		History:   handlers.NewHistoryHandler(resultStore, statisticsEngine, historyExporter),
		Access:    handlers.NewAccessHandler(accessController),
		Spectator: handlers.NewSpectatorHandler(spectatorRegistry),
		Chat:      handlers.NewChatHandler(chatLog),
		WebSocket: handlers.NewWebSocketHandler(wsHub, gateway, cfg.CORSAllowedOrigins, logger),
	}, cfg.CORSAllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		return sched.Shutdown()
	})
	g.Go(func() error {
		logger.Info("starting server", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// Если не удалось остановить корректно, закрываем принудительно.
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("server shutdown complete")
		return nil
	})

	return g.Wait()
}

func setupRepositories(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositorySet, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
		return repositorySet{
			history:    repositories.NewMemoryHistoryRepository(),
			tournament: repositories.NewMemoryPrivateTournamentRepository(),
			spectator:  repositories.NewMemorySpectatorRepository(),
			chat:       repositories.NewMemoryChatRepository(),
		}, func() {}, nil
	}

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second, db.DefaultPoolOptions)
	if err != nil {
		return repositorySet{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closeDB := func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}
	if err := db.Migrate(ctx, dbConn); err != nil {
		closeDB()
		return repositorySet{}, nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("database connection established")

	return postgresRepositories(dbConn), closeDB, nil
}

func postgresRepositories(dbConn *sql.DB) repositorySet {
	return repositorySet{
		history:    repositories.NewPostgresHistoryRepository(dbConn),
		tournament: repositories.NewPostgresPrivateTournamentRepository(dbConn),
		spectator:  repositories.NewPostgresSpectatorRepository(dbConn),
		chat:       repositories.NewPostgresChatRepository(dbConn),
	}
}

func setupChannel(cfg *config.Config, hub *realtime.Hub, logger *slog.Logger) (realtime.Channel, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-process realtime channel")
		return hub, func() { _ = hub.Close() }, nil
	}
	client, err := realtime.NewRedisClientFromURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	logger.Info("using redis realtime channel", slog.String("topic", realtime.DefaultRedisTopic))
	channel := realtime.NewRedisChannel(client, realtime.DefaultRedisTopic, logger)
	closeChannel := func() {
		if err := channel.Close(); err != nil {
			logger.Error("failed to close realtime channel", slog.Any("error", err))
		}
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", slog.Any("error", err))
		}
	}
	return channel, closeChannel, nil
}
