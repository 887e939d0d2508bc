package handler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dealerops/notify-engine/internal/provider"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// HealthChecker probes one dependency the engine cannot deliver without.
type HealthChecker func(ctx context.Context) error

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client, registry *provider.Registry) {
	checks := map[string]HealthChecker{
		"postgres": func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		// The ledger and rate limiter being up is not enough: with zero
		// adapters every dispatch would fail at the registry.
		"providers": func(ctx context.Context) error {
			if len(registry.Providers()) == 0 {
				return errors.New("no provider adapters configured")
			}
			return nil
		},
	}

	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(checks map[string]HealthChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		results := make(fiber.Map, len(checks))
		ready := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = "down"
				ready = false
				continue
			}
			results[name] = "ok"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
