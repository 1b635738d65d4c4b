package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stakeflow/stakeflow/internal/chain"
	"github.com/stakeflow/stakeflow/internal/config"
	"github.com/stakeflow/stakeflow/internal/metrics"
	"github.com/stakeflow/stakeflow/internal/middleware"
	"github.com/stakeflow/stakeflow/internal/notification"
	"github.com/stakeflow/stakeflow/internal/workflow"
)

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// are optional in development.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Ledger  chain.Reader
	Engine  *workflow.Engine
	Feed    *notification.Feed
	Metrics *metrics.Recorder
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Engine == nil {
		return fmt.Errorf("workflow engine is required")
	}
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger, "/healthz", "/metrics"))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	handler := workflow.NewHandler(d.Engine)
	guard := middleware.APIKey(d.Cfg.APIKeyHash)
	limiter := middleware.SubmitRateLimit(d.Cache, d.Cfg.SubmitRateLimit, connectedAccount(d.Engine), d.Logger)

	RegisterStakeRoutes(api, handler, guard, limiter)
	RegisterActivityRoutes(api, d.Feed, d.Engine)
	return nil
}

func connectedAccount(e *workflow.Engine) func(*fiber.Ctx) string {
	return func(*fiber.Ctx) string {
		if addr, ok := e.Account(); ok {
			return addr.Hex()
		}
		return ""
	}
}
