package database

import (
	"context"
	"fmt"

	httpadapter "arc-database/internal/database/adapter/http"
	"arc-database/internal/database/adapter/persistence"
	redisjournal "arc-database/internal/database/adapter/persistence/redis"
	"arc-database/internal/database/config"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/database/usecase"
	"arc-database/internal/shared/eventbus"
	"arc-database/internal/shared/logger"
	"arc-database/internal/shared/metrics"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// DatabaseModule wires a storage driver to the command façade and its transports.
type DatabaseModule struct {
	Config         *config.DatabaseConfig
	Driver         repository.StorageDriver
	EventBus       *eventbus.EventBus
	Journal        *redisjournal.Journal
	Usecase        *usecase.DatabaseUsecase
	Facade         *usecase.CommandFacade
	RelayHandler   *httpadapter.RelayHandler
	CommandHandler *httpadapter.CommandHandler
	JournalHandler *httpadapter.JournalHandler
	Logger         logger.Logger
}

// NewDatabaseModule opens the configured driver and builds the module. The
// Redis journal is attached only when enabled.
func NewDatabaseModule(ctx context.Context, cfg *config.DatabaseConfig, log logger.Logger) (*DatabaseModule, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg == nil {
		cfg = config.DefaultDatabaseConfig()
		log.Info("No database configuration provided, using defaults")
	}
	log.Info("Initializing Database Module", zap.String("driver", cfg.Driver.Kind))

	driver, err := persistence.NewDriver(cfg.Driver, log)
	if err != nil {
		return nil, err
	}
	if err := driver.Open(ctx); err != nil {
		return nil, fmt.Errorf("open %s driver: %w", driver.Name(), err)
	}
	log.Info("Storage driver opened", zap.String("driver", driver.Name()))

	bus := eventbus.NewEventBus(log)

	var journal *redisjournal.Journal
	if cfg.Journal.Enabled {
		client := config.NewRedisClient(&cfg.Journal.Redis)
		journal = redisjournal.NewJournal(client, cfg.Journal.Redis.StreamMaxLength, log)
		journal.Attach(bus)
		log.Info("Change journal attached", zap.String("redis", cfg.Journal.Redis.GetAddr()))
	}

	uc := usecase.NewDatabaseUsecase(driver, bus, log)
	facade := usecase.NewCommandFacade(uc, log)

	module := &DatabaseModule{
		Config:         cfg,
		Driver:         driver,
		EventBus:       bus,
		Journal:        journal,
		Usecase:        uc,
		Facade:         facade,
		RelayHandler:   httpadapter.NewRelayHandler(facade, uc, cfg.Realtime.ClientSendChannelBuffer, log),
		CommandHandler: httpadapter.NewCommandHandler(facade, log),
		Logger:         log,
	}
	if journal != nil {
		module.JournalHandler = httpadapter.NewJournalHandler(journal, log)
	}
	return module, nil
}

// RegisterRoutes mounts metrics, the REST commands and journal under /api/v1
// and the relay.
func (m *DatabaseModule) RegisterRoutes(app *fiber.App) {
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api/v1")
	m.CommandHandler.RegisterRoutes(api)
	if m.JournalHandler != nil {
		m.JournalHandler.RegisterRoutes(api)
	}
	m.RelayHandler.RegisterRoutes(app, m.Config.Realtime.WebSocketPath)

	m.Logger.Info("Database routes registered", zap.String("relay", m.Config.Realtime.WebSocketPath))
}

// HealthCheck pings the driver and, when enabled, the journal.
func (m *DatabaseModule) HealthCheck(ctx context.Context) error {
	if err := m.Driver.Ping(ctx); err != nil {
		return fmt.Errorf("%s driver: %w", m.Driver.Name(), err)
	}
	if m.Journal != nil {
		if err := m.Journal.Ping(ctx); err != nil {
			return fmt.Errorf("change journal: %w", err)
		}
	}
	return nil
}

// Stop disconnects relay clients, closes every subscription and releases the
// driver and journal connections.
func (m *DatabaseModule) Stop(ctx context.Context) error {
	m.Logger.Info("Stopping Database Module...")
	m.RelayHandler.Close()
	closed := m.Usecase.Shutdown()

	var firstErr error
	if err := m.Driver.Close(ctx); err != nil {
		firstErr = fmt.Errorf("close %s driver: %w", m.Driver.Name(), err)
	}
	if m.Journal != nil {
		if err := m.Journal.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close change journal: %w", err)
		}
	}
	m.Logger.Info("Database Module stopped", zap.Int("closedSubscriptions", closed))
	return firstErr
}
