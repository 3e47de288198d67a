package di

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"arc-database/internal/database"
	"arc-database/internal/database/config"
	"arc-database/internal/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cleanupService struct {
	cleaned bool
	err     error
}

func (s *cleanupService) Cleanup(context.Context) error {
	s.cleaned = true
	return s.err
}

func memoryConfig() *config.DatabaseConfig {
	cfg := config.DefaultDatabaseConfig()
	cfg.Driver.Kind = config.DriverMemory
	return cfg
}

func TestContainer_InitializeDatabase(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(logger.NewNopLogger())

	assert.Nil(t, c.GetDatabaseModule())
	assert.Error(t, c.HealthCheck(ctx), "no module yet")

	require.NoError(t, c.InitializeDatabase(ctx, memoryConfig()))
	require.NotNil(t, c.GetDatabaseModule())
	assert.Error(t, c.InitializeDatabase(ctx, memoryConfig()))
	assert.NoError(t, c.HealthCheck(ctx))

	module, err := GetService[*database.DatabaseModule](c)
	require.NoError(t, err)
	assert.Same(t, c.GetDatabaseModule(), module)

	cfg, err := GetService[*config.DatabaseConfig](c)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.Driver.Kind)

	require.NoError(t, c.Close())
	assert.Nil(t, c.GetDatabaseModule())
}

func TestContainer_InitializeDatabaseFails(t *testing.T) {
	cfg := memoryConfig()
	cfg.Driver.Kind = "unknown"
	c := NewContainer(logger.NewNopLogger())
	assert.Error(t, c.InitializeDatabase(context.Background(), cfg))
	assert.Nil(t, c.GetDatabaseModule())
}

func TestContainer_FactoryResolvesOnce(t *testing.T) {
	c := NewContainer(logger.NewNopLogger())
	calls := 0
	require.NoError(t, c.RegisterFactory(reflect.TypeOf(&cleanupService{}), func() (interface{}, error) {
		calls++
		return &cleanupService{}, nil
	}))

	first, err := GetService[*cleanupService](c)
	require.NoError(t, err)
	second, err := GetService[*cleanupService](c)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	_, err = GetService[*config.DatabaseConfig](c)
	assert.Error(t, err)

	require.NoError(t, c.RegisterFactory(reflect.TypeOf(""), func() (interface{}, error) {
		return nil, errors.New("boom")
	}))
	_, err = GetService[string](c)
	assert.ErrorContains(t, err, "boom")
}

func TestContainer_CleanupRunsServiceCleanup(t *testing.T) {
	c := NewContainer(logger.NewNopLogger())
	ok := &cleanupService{}
	require.NoError(t, c.Register(ok))
	assert.Error(t, c.Register(nil))

	require.NoError(t, c.Close())
	assert.True(t, ok.cleaned)

	failing := &cleanupService{err: errors.New("stuck")}
	require.NoError(t, c.Register(failing))
	assert.Error(t, c.Close())
	assert.True(t, failing.cleaned)
}
