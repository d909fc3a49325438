// Package status serves the pipeline's operational surface: liveness,
// deep health, and Prometheus metrics.
package status

import (
	"context"
	"database/sql"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"pricewatch/internal/browser"
	"pricewatch/internal/metrics"
)

type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger
}

// Deps are the collaborators the deep health check probes. Any of
// them may be nil, reporting "disabled".
type Deps struct {
	DB   *sql.DB
	RDB  *redis.Client
	Pool *browser.Pool
}

func NewServer(addr string, m *metrics.Metrics, deps Deps, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	// Request logging middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", c.Method(),
				"path", c.Path(),
				"status", c.Response().StatusCode(),
				"latency_ms", time.Since(start).Milliseconds(),
			)
		}
		return err
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "disabled"
		if deps.DB != nil {
			dbStatus = "ok"
			if err := deps.DB.PingContext(ctx); err != nil {
				dbStatus = "error"
			}
		}

		redisStatus := "disabled"
		if deps.RDB != nil {
			redisStatus = "ok"
			if err := deps.RDB.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			}
		}

		poolStatus := "disabled"
		if deps.Pool != nil {
			poolStatus = "ok"
		}

		status := "ok"
		if dbStatus == "error" || redisStatus == "error" {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"database": dbStatus,
				"redis":    redisStatus,
				"browsers": poolStatus,
			},
		})
	})

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	return &Server{app: app, addr: addr, logger: logger}
}

// Listen blocks serving until Shutdown.
func (s *Server) Listen() error {
	return s.app.Listen(s.addr)
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
