package persistence

import (
	"testing"

	"arc-database/internal/database/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDriver(t *testing.T) {
	d, err := NewDriver(config.DriverConfig{Kind: config.DriverMemory}, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", d.Name())

	d, err = NewDriver(config.DriverConfig{Kind: config.DriverMongoDB, Host: "db", Port: 27017}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mongodb", d.Name())

	_, err = NewDriver(config.DriverConfig{Kind: "rethinkdb"}, nil)
	assert.ErrorContains(t, err, "unknown storage driver")
}
