package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"arc-database/internal/database"
	"arc-database/internal/database/config"
	"arc-database/internal/shared/logger"

	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// Container owns the application's modules and ad-hoc services and shuts
// them down in reverse order of initialization.
type Container struct {
	mu        sync.RWMutex
	services  map[reflect.Type]interface{}
	factories map[reflect.Type]func() (interface{}, error)

	DatabaseModule *database.DatabaseModule
	Config         *config.DatabaseConfig
	Logger         logger.Logger
}

// NewContainer creates an empty container.
func NewContainer(log logger.Logger) *Container {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Container{
		services:  make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]func() (interface{}, error)),
		Logger:    log,
	}
}

// InitializeDatabase builds the database module and registers it, together
// with its configuration, as resolvable services.
func (c *Container) InitializeDatabase(ctx context.Context, cfg *config.DatabaseConfig) error {
	c.mu.Lock()
	if c.DatabaseModule != nil {
		c.mu.Unlock()
		return fmt.Errorf("database module already initialized")
	}
	c.mu.Unlock()

	module, err := database.NewDatabaseModule(ctx, cfg, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to create database module: %w", err)
	}

	c.mu.Lock()
	c.DatabaseModule = module
	c.Config = module.Config
	c.mu.Unlock()

	if err := c.Register(module); err != nil {
		return err
	}
	return c.Register(module.Config)
}

// Register stores a service instance under its dynamic type.
func (c *Container) Register(service interface{}) error {
	if service == nil {
		return fmt.Errorf("cannot register a nil service")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[reflect.TypeOf(service)] = service
	return nil
}

// RegisterFactory registers a lazily invoked constructor for serviceType.
func (c *Container) RegisterFactory(serviceType reflect.Type, factory func() (interface{}, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[serviceType] = factory
	return nil
}

// Resolve returns the instance registered for serviceType, running and
// caching its factory on first use.
func (c *Container) Resolve(serviceType reflect.Type) (interface{}, error) {
	c.mu.RLock()
	if service, ok := c.services[serviceType]; ok {
		c.mu.RUnlock()
		return service, nil
	}
	factory, ok := c.factories[serviceType]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("service of type %v not registered", serviceType)
	}

	service, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create service %v: %w", serviceType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.services[serviceType]; ok {
		return existing, nil
	}
	c.services[serviceType] = service
	return service, nil
}

// GetService is a generic helper for resolving services.
func GetService[T any](c *Container) (T, error) {
	var zero T
	service, err := c.Resolve(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("service is not of expected type %T", zero)
	}
	return typed, nil
}

// GetDatabaseModule returns the database module, or nil before InitializeDatabase.
func (c *Container) GetDatabaseModule() *database.DatabaseModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DatabaseModule
}

// HealthCheck checks every initialized module.
func (c *Container) HealthCheck(ctx context.Context) error {
	module := c.GetDatabaseModule()
	if module == nil {
		return fmt.Errorf("database module not initialized")
	}
	if err := module.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Cleanup stops the modules and any registered service exposing
// Cleanup(context.Context) error.
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	module := c.DatabaseModule
	services := c.services
	c.DatabaseModule = nil
	c.services = make(map[reflect.Type]interface{})
	c.factories = make(map[reflect.Type]func() (interface{}, error))
	c.mu.Unlock()

	var errs []error
	if module != nil {
		if err := module.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop database module: %w", err))
		}
	}
	for _, service := range services {
		if cleaner, ok := service.(interface{ Cleanup(context.Context) error }); ok {
			if err := cleaner.Cleanup(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to cleanup service: %w", err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// Close runs Cleanup bounded by the shutdown timeout.
func (c *Container) Close() error {
	c.Logger.Info("Closing container resources...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		c.Logger.Warn("Cleanup errors occurred", zap.Error(err))
		return err
	}
	c.Logger.Info("Container resources closed")
	return nil
}
