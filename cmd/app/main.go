package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kiosk-fleet/internal/api"
	"kiosk-fleet/internal/auth"
	"kiosk-fleet/internal/cache"
	"kiosk-fleet/internal/config"
	"kiosk-fleet/internal/fleet"
	"kiosk-fleet/internal/httpserver"
	"kiosk-fleet/internal/ledger"
	"kiosk-fleet/internal/locator"
	"kiosk-fleet/internal/logging"
	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/notify"
	"kiosk-fleet/internal/ota"
	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
	"kiosk-fleet/internal/storage"
	"kiosk-fleet/internal/support"
	"kiosk-fleet/internal/wa"
	"kiosk-fleet/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting kiosk-fleet", "env", cfg.AppEnv, "database_driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	migrationFiles, err := migrations.For(cfg.DatabaseDriver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := repository.RunMigrations(ctx, migrationFiles); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var redisClient *cache.Redis
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	}

	hub := realtime.NewHub(redisClient, logger, metricRegistry)
	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.Error("realtime hub stopped", "error", err)
		}
	}()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("init token issuer: %w", err)
	}
	authService := auth.NewService(repository, issuer, logger)
	if cfg.BootstrapAdminEmail != "" {
		if _, err := authService.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	bucket, err := storage.NewBucket(cfg.FirmwareDir, cfg.FirmwarePublicURL, cfg.FirmwareMaxBytes, logger)
	if err != nil {
		return fmt.Errorf("init firmware bucket: %w", err)
	}

	var messenger notify.Messenger
	if cfg.WhatsAppEnabled {
		waClient, err := wa.New(ctx, wa.Config{
			StorePath: cfg.WhatsAppStorePath,
			LogLevel:  cfg.WhatsAppLogLevel,
			Metrics:   metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()

		go func() {
			if err := waClient.Start(ctx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
			}
		}()
		messenger = waClient
	}

	directory := locator.NewDirectory(repository, hub, logger)
	if err := directory.Load(ctx); err != nil {
		return fmt.Errorf("load kiosk directory: %w", err)
	}
	go directory.Run(ctx)

	geocoder := locator.NewGeocoder(locator.GeocoderConfig{
		BaseURL:   cfg.GeocoderBaseURL,
		UserAgent: cfg.GeocoderUserAgent,
		Timeout:   cfg.GeocoderTimeout,
		CacheTTL:  cfg.GeocodeCacheTTL,
	}, logger, metricRegistry, redisClient)

	apiServer := api.NewServer(api.Deps{
		Auth:           authService,
		Profiles:       repository,
		Ledger:         ledger.NewService(repository, hub, metricRegistry, logger, cfg.TopUpDefaultAmount, cfg.TopUpMaxAmount),
		OTA:            ota.NewService(repository, bucket, hub, metricRegistry, logger),
		Fleet:          fleet.NewService(repository, hub, logger),
		Support:        support.NewService(repository, hub, logger),
		Notify:         notify.NewService(repository, messenger, hub, logger),
		Directory:      directory,
		Geocoder:       geocoder,
		Hub:            hub,
		Metrics:        metricRegistry,
		Logger:         logger,
		MaxUploadBytes: cfg.FirmwareMaxBytes,
	})

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, httpserver.Handlers{
		API:          apiServer.Router(),
		Firmware:     bucket.Handler(),
		FirmwarePath: bucket.MountPath(),
	}, repository, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (repo.Repository, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		return repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	}
}
