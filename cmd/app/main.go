package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchbot/internal/api"
	"matchbot/internal/billing"
	"matchbot/internal/cache"
	"matchbot/internal/config"
	"matchbot/internal/convo"
	"matchbot/internal/httpserver"
	"matchbot/internal/logging"
	"matchbot/internal/matching"
	"matchbot/internal/metrics"
	"matchbot/internal/repo"
	"matchbot/internal/wa"
	"matchbot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	mintRole := flag.String("mint-token", "", "print an API token for the given role (operator or admin) and exit")
	mintSubject := flag.String("subject", "cli", "subject of the minted token")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if *mintRole != "" {
		token, err := api.MintToken(cfg.AdminJWTSecret, *mintSubject, *mintRole, cfg.AdminTokenTTL)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		fmt.Println(token)
		return nil
	}

	logger := logging.NewLogger(cfg.LogLevel)
	if cfg.SentryDSN != "" {
		flush, err := logging.InitSentry(cfg.SentryDSN, cfg.AppEnv)
		if err != nil {
			return err
		}
		defer flush()
		logger = logging.WithSentry(logger)
	}
	logger.Info("starting matchbot", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()
	logger.Info("database migrated", "postgres", cfg.UsePostgres())

	deps := matching.Deps{
		Entitlements: billing.Entitlements{},
		Metrics:      metricRegistry,
	}
	readiness := httpserver.Dependencies{Database: repository}

	var sessions convo.Sessions
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
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
		deps.Locker = redisClient
		deps.BoostCache = redisClient
		sessions = convo.NewRedisSessions(redisClient)
		readiness.Redis = redisClient
	} else {
		logger.Warn("redis not configured, using in-process sessions without action locks")
	}

	var waClient *wa.Client
	if !cfg.WhatsAppDisabled {
		waClient, err = wa.New(ctx, wa.Config{
			StorePath: cfg.WhatsAppStorePath,
			LogLevel:  cfg.WhatsAppLogLevel,
			Metrics:   metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()
		deps.Notifier = convo.NewNotifier(waClient)
	}

	engine := matching.NewEngine(repository, matching.Config{
		DailyLikesLimit:    cfg.DailyLikesLimit,
		DailyDislikesLimit: cfg.DailyDislikesLimit,
		ReferralBonusLikes: cfg.ReferralBonusLikes,
	}, deps, logger)

	if waClient != nil {
		waClient.SetMessageProcessor(convo.New(engine, waClient, sessions, metricRegistry, logger))

		waCtx, waCancel := context.WithCancel(ctx)
		defer waCancel()
		go func() {
			if err := waClient.Start(waCtx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
				stop()
			}
		}()
	} else {
		logger.Info("whatsapp disabled, serving the http api only")
	}

	payments := billing.NewService(repository, engine.Boosts(), billing.Config{
		SubscriptionPeriod: cfg.SubscriptionPeriod(),
	}, metricRegistry, logger)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		API:            api.New(engine, cfg.AdminJWTSecret, logger, metricRegistry),
		PaymentWebhook: billing.NewWebhookHandler(logger, metricRegistry, cfg.PaymentWebhookSecret, payments),
	}, cfg.PublicBasePath)
	httpSrv.SetDependencies(readiness)

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

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	if cfg.UsePostgres() {
		repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DBSchema, logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres repository: %w", err)
		}
		if err := repository.RunMigrations(ctx, migrations.Postgres()); err != nil {
			repository.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return repository, nil
	}

	repository, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	if err != nil {
		return nil, fmt.Errorf("init sqlite repository: %w", err)
	}
	if err := repository.RunMigrations(ctx, migrations.SQLite()); err != nil {
		repository.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return repository, nil
}
