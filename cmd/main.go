package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arc-database/internal/database/config"
	"arc-database/internal/di"
	"arc-database/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	appLogger := logger.NewLogger()
	appLogger.Info("Arc Database - Starting Application...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger.Info("Application configuration loaded successfully", zap.String("driver", cfg.Driver.Kind))

	container := di.NewContainer(appLogger)
	defer func() {
		if err := container.Close(); err != nil {
			appLogger.Error("Failed to close container", zap.Error(err))
		}
	}()

	initCtx, cancel := context.WithTimeout(context.Background(), cfg.Driver.ConnectTimeout+5*time.Second)
	err = container.InitializeDatabase(initCtx, cfg)
	cancel()
	if err != nil {
		appLogger.Error("Failed to initialize database module", zap.Error(err))
		os.Exit(1)
	}
	appLogger.Info("Database module initialized successfully")

	app := fiber.New(fiber.Config{
		AppName:      "Arc Database v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				appLogger.Error("HTTP Error", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		if err := container.HealthCheck(healthCtx); err != nil {
			appLogger.Error("Health check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "UNHEALTHY",
				"error":   err.Error(),
				"message": "One or more services are unhealthy",
			})
		}

		module := container.GetDatabaseModule()
		return c.JSON(fiber.Map{
			"status":    "HEALTHY",
			"message":   "Arc Database is running",
			"timestamp": time.Now().UTC(),
			"driver":    module.Driver.Name(),
			"realtime": fiber.Map{
				"connections":   module.RelayHandler.ConnectionCount(),
				"subscriptions": module.Usecase.Registry().Count(),
			},
		})
	})

	container.GetDatabaseModule().RegisterRoutes(app)

	serverAddr := cfg.Server.Addr()
	appLogger.Info("All modules initialized. Starting HTTP server", zap.String("addr", serverAddr))

	serverShutdown := make(chan error, 1)
	go func() {
		serverShutdown <- app.Listen(serverAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverShutdown:
		if err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			return
		}
	case sig := <-quit:
		appLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Relay connections are hijacked and not tracked by fiber; close them first.
		container.GetDatabaseModule().RelayHandler.Close()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", zap.Error(err))
		}
		appLogger.Info("HTTP server stopped")
	}

	appLogger.Info("Application stopped gracefully")
}
