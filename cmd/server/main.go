package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"

	"github.com/agrostack/fieldsync/internal/config"
	"github.com/agrostack/fieldsync/internal/database"
	"github.com/agrostack/fieldsync/internal/handlers"
	"github.com/agrostack/fieldsync/internal/middleware"
	"github.com/agrostack/fieldsync/internal/services"

	_ "github.com/agrostack/fieldsync/docs/api" // Swagger docs
)

// @title FieldSync API
// @version 1.0.0
// @description Field boundary delta-sync service with optimistic concurrency control
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/agrostack/fieldsync
// @contact.email dev@agrostack.io

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:3000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name cookie_session

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	// Run auto-migrations (models + append-only history triggers)
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: false,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())

	// Prometheus metrics
	prometheus := fiberprometheus.New("fieldsync")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Lazy Authorizer initialization on first authenticated request
	middleware.Setup(cfg)

	// API routes under /api
	api := app.Group("/api")

	// Version middleware
	api.Use(middleware.VersionMiddleware())

	// Create handlers
	fieldHandler := &handlers.FieldHandler{DB: db}
	syncHandler := &handlers.SyncHandler{DB: db, Cfg: cfg}
	historyHandler := &handlers.HistoryHandler{DB: db}

	// Health
	api.Get("/health", func(c *fiber.Ctx) error {
		result := services.HealthCheck(cfg, db)
		status := fiber.StatusOK
		if result.Status != "healthy" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(result)
	})

	fields := api.Group("/fields")

	// Sync protocol routes (registered before /:id so the literal segment wins)
	fields.Get("/sync", middleware.AuthUser(), syncHandler.PullChanges)
	fields.Post("/sync/batch", middleware.AuthUser(), syncHandler.PushBatch)

	// Field record routes
	fields.Post("/", middleware.AuthUser(), fieldHandler.CreateField)
	fields.Get("/:id", middleware.AuthUser(), fieldHandler.GetField)
	fields.Put("/:id", middleware.AuthUser(), fieldHandler.UpdateField)
	fields.Delete("/:id", middleware.AuthUser(), fieldHandler.DeleteField)

	// Boundary history routes (rollback is admin-only)
	fields.Get("/:id/boundary-history", middleware.AuthUser(), historyHandler.ListHistory)
	fields.Post("/:id/boundary-history/rollback", middleware.AuthAdmin(), historyHandler.Rollback)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":    fiber.StatusNotFound,
			"message":   "[404] Resource Not Found",
			"ok":        false,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"url":       c.OriginalURL(),
		})
	})

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Gracefully shutting down...")
		_ = app.Shutdown()
	}()

	// Start server
	port := cfg.Port
	log.Printf("Starting server on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server stopped")
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	errorType := "unknown"

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Token-tagged domain errors
	versionError := false
	switch {
	case code == fiber.StatusConflict || hasToken(message, "E_VERSION"):
		versionError = true
		errorType = "version"
		code = fiber.StatusConflict
	case hasToken(message, "E_ETAG"):
		errorType = "etag"
		code = fiber.StatusBadRequest
	case hasToken(message, "E_VALIDATION"):
		errorType = "validation"
		code = fiber.StatusBadRequest
	}

	return c.Status(code).JSON(fiber.Map{
		"status":       code,
		"message":      message,
		"ok":           false,
		"versionError": versionError,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"url":          c.OriginalURL(),
		"type":         errorType,
	})
}

func hasToken(message, token string) bool {
	return len(message) >= len(token) && message[:len(token)] == token
}
