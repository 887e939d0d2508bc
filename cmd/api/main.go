package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dealerops/notify-engine/internal/config"
	"github.com/dealerops/notify-engine/internal/dispatch"
	"github.com/dealerops/notify-engine/internal/domain"
	"github.com/dealerops/notify-engine/internal/events"
	"github.com/dealerops/notify-engine/internal/handler"
	"github.com/dealerops/notify-engine/internal/infra/postgresql"
	"github.com/dealerops/notify-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/dealerops/notify-engine/internal/infra/redis"
	"github.com/dealerops/notify-engine/internal/observability"
	"github.com/dealerops/notify-engine/internal/provider"
	"github.com/dealerops/notify-engine/internal/repository"
	"github.com/dealerops/notify-engine/internal/retry"
	"github.com/dealerops/notify-engine/internal/transport"
	"github.com/dealerops/notify-engine/internal/webhook"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		rabbit, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rabbit.Close()
		publisher = rabbit
	} else {
		logger.Warn("RABBITMQ_URL not set, delivery lifecycle events will be dropped")
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("adapter registry initialization failed", zap.Error(err))
	}

	deliveries := repository.NewGormDeliveryLogRepo(db)
	subscriptions := repository.NewGormSubscriptionRepo(db)

	metrics := observability.NewMetrics()

	dispatcher, err := dispatch.NewDispatcher(deliveries, subscriptions, registry, publisher, cfg.SendTimeout(), logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	ingestor, err := webhook.NewIngestor(deliveries, registry, publisher, logger)
	if err != nil {
		logger.Fatal("webhook ingestor initialization failed", zap.Error(err))
	}
	ingestor.SetMetrics(metrics)

	verifier := webhook.NewVerifier(map[domain.Provider]string{
		domain.ProviderMobilePush:  cfg.MobilePushWebhookSecret,
		domain.ProviderBrowserPush: cfg.BrowserPushWebhookSecret,
		domain.ProviderSMSCarrier:  cfg.SMSWebhookSecret,
		domain.ProviderEmail:       cfg.EmailWebhookSecret,
	}, cfg.WebhookSigningSecret, cfg.WebhookDevBypass, logger)
	if verifier.BypassEnabled() {
		logger.Warn("webhook signature verification is bypassed, do not run this in production")
	}

	scheduler, err := retry.NewScheduler(deliveries, subscriptions, dispatcher, limiter, cfg.RetryScanLimit, logger)
	if err != nil {
		logger.Fatal("retry scheduler initialization failed", zap.Error(err))
	}
	scheduler.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	if err := handler.RegisterDispatchRoutes(app, dispatcher); err != nil {
		logger.Fatal("failed to register dispatch routes", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(app, ingestor, verifier, logger); err != nil {
		logger.Fatal("failed to register webhook routes", zap.Error(err))
	}
	if err := handler.RegisterRetryRoutes(app, scheduler, cfg.RetryTriggerToken); err != nil {
		logger.Fatal("failed to register retry routes", zap.Error(err))
	}
	if err := handler.RegisterDeliveryRoutes(app, deliveries); err != nil {
		logger.Fatal("failed to register delivery routes", zap.Error(err))
	}
	handler.RegisterHealthRoutes(app, sqlDB, rdb, registry)

	// Prometheus scrapes a dedicated listener so the exposition endpoint
	// stays off the public API port.
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()
	logger.Info("notify-engine api started", zap.Int("port", cfg.APIPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Close(); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
}

// buildRegistry constructs every adapter whose credentials are configured.
// A missing credential disables that provider with a warning instead of
// refusing to boot; the in-app adapter needs none and is always present.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	adapters := []provider.Adapter{provider.NewInAppAdapter()}

	if cfg.MobilePushAccessToken != "" {
		adapter, err := provider.NewMobilePushAdapter(provider.MobilePushConfig{
			Endpoint:    cfg.MobilePushEndpoint,
			AccessToken: cfg.MobilePushAccessToken,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	} else {
		logger.Warn("mobile push credentials not configured, provider disabled")
	}

	if cfg.BrowserPushAuthorization != "" {
		adapter, err := provider.NewBrowserPushAdapter(provider.BrowserPushConfig{
			Authorization: cfg.BrowserPushAuthorization,
			TTL:           cfg.BrowserPushTTL(),
			Urgency:       cfg.BrowserPushUrgency,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	} else {
		logger.Warn("browser push credentials not configured, provider disabled")
	}

	if cfg.SMSAccountSID != "" {
		adapter, err := provider.NewSMSCarrierAdapter(provider.SMSCarrierConfig{
			BaseURL:    cfg.SMSBaseURL,
			AccountSID: cfg.SMSAccountSID,
			AuthToken:  cfg.SMSAuthToken,
			FromNumber: cfg.SMSFromNumber,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	} else {
		logger.Warn("sms carrier credentials not configured, provider disabled")
	}

	if cfg.EmailAPIKey != "" {
		adapter, err := provider.NewEmailCarrierAdapter(provider.EmailCarrierConfig{
			BaseURL:   cfg.EmailBaseURL,
			APIKey:    cfg.EmailAPIKey,
			FromEmail: cfg.EmailFromAddr,
			FromName:  cfg.EmailFromName,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	} else {
		logger.Warn("email carrier credentials not configured, provider disabled")
	}

	return provider.NewRegistry(adapters...)
}
