package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm/agentx"
	"github.com/Abraxas-365/copiloto/pkg/config"
	"github.com/Abraxas-365/copiloto/pkg/errx"
	"github.com/Abraxas-365/copiloto/pkg/logx"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
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

	logx.Info("🚀 Starting Copiloto Assistant Server...")

	// 2. Load Configuration & Build Container
	cfg := config.Load()
	container := NewContainer(cfg)
	defer container.Cleanup()

	// 3. Create Fiber App with Config
	app := fiber.New(fiber.Config{
		AppName:               "Copiloto Assistant API",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		BodyLimit:             cfg.Server.BodyLimit,
		IdleTimeout:           120 * time.Second,
		EnablePrintRoutes:     false,
	})

	// 4. Global Middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return "req-" + uuid.New().String()
		},
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:  "GET, POST, DELETE, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}))

	// 5. Health Check & Info Endpoints
	app.Get("/health", healthCheckHandler(container))
	app.Get("/", infoHandler)

	// 6. Assistant Routes
	api := app.Group("/api/v1")
	api.Get("/tools", listToolsHandler(container))
	api.Post("/conversations/:id/turns", sendTurnHandler(container))
	api.Get("/conversations/:id/messages", historyHandler(container))
	api.Delete("/conversations/:id", clearConversationHandler(container))
	logx.Info("✓ Assistant routes registered")

	// 7. 404 Handler
	app.Use(notFoundHandler)

	// 8. Start Server with Graceful Shutdown
	startServer(app, cfg)
}

// ============================================================================
// Handler Functions
// ============================================================================

type turnRequest struct {
	Message string `json:"message"`
}

type toolEvent struct {
	Tool    string `json:"tool"`
	Server  string `json:"server"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

// sendTurnHandler runs one full assistant turn and returns the final text
// along with the tool calls that happened along the way.
func sendTurnHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID := c.Params("id")

		var req turnRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if strings.TrimSpace(req.Message) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Field 'message' is required")
		}

		var events []toolEvent
		reply, err := container.Runtime.SendTurn(c.Context(), conversationID, req.Message, agentx.Callbacks{
			OnToolResult: func(ev agentx.ToolResultEvent) {
				events = append(events, toolEvent{
					Tool:    ev.ToolName,
					Server:  ev.ServerID,
					IsError: ev.IsError,
					Result:  ev.Result,
				})
			},
		})
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"conversation_id": conversationID,
			"reply":           reply,
			"tool_events":     events,
		})
	}
}

// historyHandler returns the stored messages of a conversation.
func historyHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID := c.Params("id")

		messages, err := container.Runtime.History(conversationID)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"conversation_id": conversationID,
			"messages":        messages,
			"count":           len(messages),
		})
	}
}

// clearConversationHandler resets a conversation's history and tool cache.
func clearConversationHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID := c.Params("id")

		if err := container.Runtime.ClearConversation(c.Context(), conversationID); err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"conversation_id": conversationID,
			"cleared":         true,
		})
	}
}

// listToolsHandler returns the tools discovered across all registered
// tool servers.
func listToolsHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entries := container.Registry.Entries()

		tools := make([]fiber.Map, 0, len(entries))
		for _, e := range entries {
			tools = append(tools, fiber.Map{
				"server":      e.ServerID,
				"name":        e.Name,
				"description": e.Description,
			})
		}

		return c.JSON(fiber.Map{
			"tools": tools,
			"count": len(tools),
		})
	}
}

// healthCheckHandler returns a health check handler
func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":   "healthy",
			"service":  "copiloto-assistant",
			"version":  getEnv("APP_VERSION", "1.0.0"),
			"provider": container.Config.Providers.Active,
			"tools":    len(container.Registry.Entries()),
		}

		// Check database
		if container.DB != nil {
			if err := container.DB.Ping(); err != nil {
				health["db"] = "unhealthy"
				health["db_error"] = err.Error()
				health["status"] = "degraded"
			} else {
				health["db"] = "healthy"
			}
		}

		// Check Redis
		if container.Redis != nil {
			if err := container.Redis.Ping(c.Context()).Err(); err != nil {
				health["redis"] = "unhealthy"
				health["redis_error"] = err.Error()
				health["status"] = "degraded"
			} else {
				health["redis"] = "healthy"
			}
		}

		status := fiber.StatusOK
		if health["status"] == "degraded" {
			status = fiber.StatusServiceUnavailable
		}

		return c.Status(status).JSON(health)
	}
}

// infoHandler returns basic API information
func infoHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service":     "Copiloto Assistant API",
		"version":     getEnv("APP_VERSION", "1.0.0"),
		"description": "Embedded LLM assistant with tool execution",
		"endpoints": fiber.Map{
			"turn":    "POST /api/v1/conversations/:id/turns",
			"history": "GET /api/v1/conversations/:id/messages",
			"clear":   "DELETE /api/v1/conversations/:id",
			"tools":   "GET /api/v1/tools",
			"health":  "GET /health",
		},
	})
}

// notFoundHandler handles 404 errors
func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":      "Route not found",
		"code":       "NOT_FOUND",
		"path":       c.Path(),
		"method":     c.Method(),
		"message":    "The requested endpoint does not exist",
		"request_id": c.Get("X-Request-ID"),
	})
}

// ============================================================================
// Error Handler
// ============================================================================

// globalErrorHandler converts internal errors to standard HTTP responses
func globalErrorHandler(c *fiber.Ctx, err error) error {
	// Log the error with context
	logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"request_id": c.Get("X-Request-ID"),
	}).Errorf("Request error: %v", err)

	// If it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"error":      e.Message,
			"code":       "FIBER_ERROR",
			"status":     e.Code,
			"request_id": c.Get("X-Request-ID"),
		})
	}

	// If it's our custom errx.Error
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

	// Default unknown error
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "Internal Server Error",
		"type":       "INTERNAL",
		"code":       "INTERNAL_ERROR",
		"message":    "An unexpected error occurred",
		"request_id": c.Get("X-Request-ID"),
	})
}

// ============================================================================
// Utility Functions
// ============================================================================

// startServer starts the server with graceful shutdown
func startServer(app *fiber.App, cfg *config.Config) {
	port := cfg.Server.Port

	go func() {
		logx.Info("=" + strings.Repeat("=", 60))
		logx.Infof("🚀 Server listening on port %s", port)
		logx.Infof("💚 Health Check: http://localhost:%s/health", port)
		logx.Info("=" + strings.Repeat("=", 60))

		if err := app.Listen(":" + port); err != nil {
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
