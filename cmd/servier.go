package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/Abraxas-365/batchx/pkg/config"
	"github.com/Abraxas-365/batchx/pkg/errx"
	"github.com/Abraxas-365/batchx/pkg/logx"
	"github.com/Abraxas-365/batchx/pkg/schedx"
)

func main() {
	// 1. Initialize Logger
	logLevel := getEnv("LOG_LEVEL", "info")
	switch logLevel {
	case "debug":
		logx.SetLevel(logx.LevelDebug)
	case "warn":
		logx.SetLevel(logx.LevelWarn)
	case "error":
		logx.SetLevel(logx.LevelError)
	default:
		logx.SetLevel(logx.LevelInfo)
	}

	logx.Info("🚀 Starting Batchx Processor...")

	// 2. Load Config & Initialize Dependency Container
	cfg := config.Load()
	container := NewContainer(cfg)
	defer container.Cleanup()

	// 3. Start the processing loop
	container.StartBackgroundServices(context.Background())

	// 4. Create Fiber App with Config
	app := fiber.New(fiber.Config{
		AppName:               "Batchx Processor",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// 5. Global Middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return "req-" + uuid.NewString()
		},
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:  getCORSOrigins(),
		AllowHeaders:  "Origin, Content-Type, Accept, X-API-Key, X-Request-ID",
		AllowMethods:  "GET, POST, PUT, HEAD, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}))

	// 6. Health & Info Endpoints (unauthenticated)
	app.Get("/health", healthCheckHandler(container))
	app.Get("/", infoHandler)

	// 7. Monitoring & Admin Routes
	api := app.Group("/api/v1", apiKeyMiddleware(cfg.Server.APIKey))

	api.Get("/status", statusHandler(container))
	api.Get("/stats/queue", queueStatsHandler(container))
	api.Get("/stats/executing", executingStatsHandler(container))
	api.Get("/stats/concurrency", concurrencyStatsHandler(container))

	api.Post("/admin/process-batch", processBatchHandler(container))
	api.Post("/admin/reset-stuck", resetStuckHandler(container))
	api.Post("/admin/jobs/:id/retry", manualRetryHandler(container))
	api.Put("/admin/retry-configs", upsertRetryConfigHandler(container))
	logx.Info("✓ Monitoring and admin routes registered")

	// 8. 404 Handler
	app.Use(notFoundHandler)

	// 9. Start Server with Graceful Shutdown
	startServer(app, cfg.Server.Port)
}

// ============================================================================
// Middleware
// ============================================================================

// apiKeyMiddleware guards the admin surface. With no key configured the
// surface is open, which is only sensible in development.
func apiKeyMiddleware(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return c.Next()
		}
		provided := c.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":      "Invalid or missing API key",
				"code":       "UNAUTHORIZED",
				"request_id": c.Get("X-Request-ID"),
			})
		}
		return c.Next()
	}
}

// ============================================================================
// Handler Functions
// ============================================================================

func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := container.Processor.Health(c.Context())

		response := fiber.Map{
			"status":       "healthy",
			"service":      "batchx-processor",
			"processor_id": health.ProcessorID,
			"running":      health.Running,
		}
		if err := container.DB.Ping(); err != nil {
			response["db"] = "unhealthy"
			response["db_error"] = err.Error()
			response["status"] = "degraded"
		} else {
			response["db"] = "healthy"
		}
		if !health.Healthy {
			response["status"] = "degraded"
		}

		status := fiber.StatusOK
		if response["status"] == "degraded" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(response)
	}
}

func infoHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service":     "Batchx Processor",
		"version":     getEnv("APP_VERSION", "1.0.0"),
		"description": "Automated batch job scheduling and retry engine",
		"endpoints": fiber.Map{
			"health": "/health",
			"status": "/api/v1/status",
			"stats":  "/api/v1/stats/{queue,executing,concurrency}",
		},
	})
}

func statusHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, lastCycle, running := container.Processor.Status()
		return c.JSON(fiber.Map{
			"processor_id": container.Processor.ID(),
			"running":      running,
			"stats":        stats,
			"last_cycle":   lastCycle,
		})
	}
}

func queueStatsHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := container.Loader.QueueStats(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(stats)
	}
}

func executingStatsHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := container.Loader.ExecutingStats(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(stats)
	}
}

func concurrencyStatsHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := container.Controller.Stats(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(stats)
	}
}

func processBatchHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := container.Processor.RunCycle(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(result)
	}
}

func resetStuckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		n, err := container.Loader.ResetStuckJobs(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"reset": n})
	}
}

func manualRetryHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		jobID := c.Params("id")
		if err := container.Retry.ManualRetry(c.Context(), jobID); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"job_id": jobID, "reset": true})
	}
}

func upsertRetryConfigHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var cfg schedx.RetryConfig
		if err := c.BodyParser(&cfg); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid retry config body")
		}
		if cfg.JobType == "" {
			return fiber.NewError(fiber.StatusBadRequest, "job_type is required")
		}
		if err := container.Store.UpsertRetryConfig(c.Context(), cfg); err != nil {
			return err
		}
		return c.JSON(cfg)
	}
}

func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":      "Route not found",
		"code":       "NOT_FOUND",
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": c.Get("X-Request-ID"),
	})
}

// ============================================================================
// Error Handler
// ============================================================================

// globalErrorHandler converts internal errors to standard HTTP responses
func globalErrorHandler(c *fiber.Ctx, err error) error {
	logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"request_id": c.Get("X-Request-ID"),
	}).Errorf("Request error: %v", err)

	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"error":      e.Message,
			"code":       "FIBER_ERROR",
			"status":     e.Code,
			"request_id": c.Get("X-Request-ID"),
		})
	}

	if e, ok := err.(*errx.Error); ok {
		response := fiber.Map{
			"error":      e.Message,
			"code":       e.Code,
			"type":       string(e.Type),
			"status":     e.HTTPStatus,
			"request_id": c.Get("X-Request-ID"),
		}
		if len(e.Details) > 0 {
			response["details"] = e.Details
		}
		if getEnv("DEBUG", "false") == "true" && e.Err != nil {
			response["underlying_error"] = e.Err.Error()
		}
		return c.Status(e.HTTPStatus).JSON(response)
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "Internal Server Error",
		"type":       "INTERNAL",
		"code":       "INTERNAL_ERROR",
		"request_id": c.Get("X-Request-ID"),
	})
}

// ============================================================================
// Utility Functions
// ============================================================================

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getCORSOrigins returns allowed CORS origins
func getCORSOrigins() string {
	origins := os.Getenv("CORS_ORIGINS")
	if origins == "" {
		return "*" // Default for development
	}
	return origins
}

// startServer starts the server with graceful shutdown
func startServer(app *fiber.App, port int) {
	go func() {
		logx.Infof("🚀 Server listening on port %d", port)
		logx.Infof("💚 Health Check: http://localhost:%d/health", port)

		if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
			logx.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(app)
}

// gracefulShutdown handles graceful server shutdown
func gracefulShutdown(app *fiber.App) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logx.Infof("🛑 Received signal: %v", sig)
	logx.Info("Shutting down gracefully...")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logx.Errorf("Server forced to shutdown: %v", err)
	}

	logx.Info("✅ Server exited successfully")
}
