package persistence

import (
	"fmt"

	"arc-database/internal/database/adapter/persistence/memory"
	"arc-database/internal/database/adapter/persistence/mongodb"
	"arc-database/internal/database/config"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/logger"
)

// NewDriver returns the storage driver named by cfg.Kind. The driver is not
// opened.
func NewDriver(cfg config.DriverConfig, log logger.Logger) (repository.StorageDriver, error) {
	switch cfg.Kind {
	case config.DriverMemory:
		return memory.New(log), nil
	case config.DriverMongoDB, "":
		return mongodb.New(mongodb.Options{
			URI:            cfg.ConnectionURI(),
			ConnectTimeout: cfg.ConnectTimeout,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Kind)
	}
}
