package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	httpapi "github.com/i474232898/temperature-monitoring/internal/api/http"
	"github.com/i474232898/temperature-monitoring/internal/config"
	"github.com/i474232898/temperature-monitoring/internal/ingest"
	"github.com/i474232898/temperature-monitoring/internal/metrics"
	"github.com/i474232898/temperature-monitoring/internal/monitoring"
	"github.com/i474232898/temperature-monitoring/internal/scheduler"
	"github.com/i474232898/temperature-monitoring/internal/selection"
	"github.com/i474232898/temperature-monitoring/internal/sources"
	"github.com/i474232898/temperature-monitoring/internal/store"
)

func main() {
	// Load configuration (also reads .env when present).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()

	// Local reading store with configured retention.
	var readingStore monitoring.ReadingStore
	switch cfg.StoreBackend {
	case config.StoreRedis:
		client, err := store.NewRedisClient(ctx, store.RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer client.Close()
		readingStore = store.NewRedisStore(client, cfg.StoreMaxHistory, cfg.StoreMaxAge)
	default:
		readingStore = store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
	}
	log.Printf("INFO: using %s reading store", cfg.StoreBackend)

	// Upstream database holding the sensor directory and recorded readings.
	var upstream monitoring.Upstream
	switch cfg.Upstream {
	case config.UpstreamPostgres:
		pg, err := sources.NewPostgresSource(ctx, sources.PostgresConfig{
			URL:               cfg.DatabaseURL,
			MinConns:          int32(cfg.DBMinConns),
			MaxConns:          int32(cfg.DBMaxConns),
			ConnectTimeout:    cfg.HTTPTimeout,
			HealthCheckPeriod: time.Minute,
		})
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pg.Close()
		upstream = pg
	default:
		// Shared HTTP client for outbound REST calls.
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		upstream = sources.NewPostgRESTSource(httpClient, cfg.SupabaseURL, cfg.SupabaseAnonKey)
	}
	log.Printf("INFO: using %s upstream", cfg.Upstream)

	service := monitoring.NewService(readingStore, upstream, cfg.Palette)
	sessions := selection.NewRegistry(cfg.SessionTTL, selection.Selection{Range: cfg.DefaultRange})

	// Scheduler that periodically pulls readings and expires idle sessions.
	sched := scheduler.New(cfg.SyncOrgs, cfg.SyncInterval, cfg.SyncLookback, service, sessions, rec)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Live readings pushed by sensors.
	if cfg.MQTTBrokerURL != "" {
		sub := ingest.NewSubscriber(ingest.Config{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			QoS:       1,
		}, service, rec)
		if err := sub.Start(); err != nil {
			log.Printf("ERROR: mqtt ingest unavailable: %v", err)
		}
		defer sub.Stop()
	}

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "temperature-monitoring",
		DisableStartupMessage: true,
		Immutable:             true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"service":  "temperature-monitoring",
			"sessions": sessions.Len(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(rec.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Service:      service,
		Sessions:     sessions,
		Metrics:      rec,
		DefaultRange: cfg.DefaultRange,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()
	log.Printf("INFO: listening on :%s", cfg.Port)

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
