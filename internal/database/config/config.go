package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/caarlos0/env/v6"
)

// Driver kinds accepted by DRIVER_KIND.
const (
	DriverMemory  = "memory"
	DriverMongoDB = "mongodb"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"localhost" json:"host"`
	Port string `env:"SERVER_PORT" envDefault:"3000" json:"port"`
}

// Addr returns host:port for fiber's Listen.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// DriverConfig selects and connects the storage driver.
type DriverConfig struct {
	Kind     string `env:"DRIVER_KIND" envDefault:"mongodb" json:"kind"`
	Host     string `env:"DRIVER_HOST" envDefault:"localhost" json:"host"`
	Port     int    `env:"DRIVER_PORT" envDefault:"27017" json:"port"`
	Username string `env:"DRIVER_USERNAME" json:"username,omitempty"`
	Password string `env:"DRIVER_PASSWORD" json:"-"`
	// URI, when set, takes precedence over host/port/credentials.
	URI            string        `env:"MONGODB_URI" json:"-"`
	ReplicaSet     string        `env:"MONGODB_REPLICA_SET" json:"replica_set,omitempty"`
	ConnectTimeout time.Duration `env:"DRIVER_CONNECT_TIMEOUT" envDefault:"10s" json:"connect_timeout"`
}

// ConnectionURI builds a mongodb:// URI from the discrete options.
func (d DriverConfig) ConnectionURI() string {
	if d.URI != "" {
		return d.URI
	}
	u := url.URL{Scheme: "mongodb", Host: net.JoinHostPort(d.Host, fmt.Sprint(d.Port)), Path: "/"}
	switch {
	case d.Username != "" && d.Password != "":
		u.User = url.UserPassword(d.Username, d.Password)
	case d.Username != "":
		u.User = url.User(d.Username)
	}
	if d.ReplicaSet != "" {
		u.RawQuery = url.Values{"replicaSet": {d.ReplicaSet}}.Encode()
	}
	return u.String()
}

// RealtimeConfig holds configuration specific to the websocket relay.
type RealtimeConfig struct {
	// WebSocketPath is the endpoint path for relay connections.
	WebSocketPath string `env:"WEBSOCKET_PATH" envDefault:"/ws" json:"websocket_path"`

	// ClientSendChannelBuffer is the buffer size of each connection's outbound queue.
	// Replies and change pushes wait on it when a client reads slowly.
	ClientSendChannelBuffer int `env:"CLIENT_SEND_CHANNEL_BUFFER" envDefault:"64" json:"client_send_channel_buffer"`
}

// JournalConfig controls the Redis change journal.
type JournalConfig struct {
	Enabled bool        `env:"JOURNAL_ENABLED" envDefault:"false" json:"enabled"`
	Redis   RedisConfig `json:"redis"`
}

// DatabaseConfig holds all configuration for the database module.
type DatabaseConfig struct {
	Server   ServerConfig   `json:"server"`
	Driver   DriverConfig   `json:"driver"`
	Realtime RealtimeConfig `json:"realtime"`
	Journal  JournalConfig  `json:"journal"`
}

// LoadConfig loads configuration from environment variables and applies defaults.
func LoadConfig() (*DatabaseConfig, error) {
	cfg := &DatabaseConfig{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load database configuration from environment: " + err.Error())
	}

	if cfg.Realtime.WebSocketPath == "" {
		cfg.Realtime.WebSocketPath = "/ws"
	}
	if cfg.Realtime.ClientSendChannelBuffer <= 0 {
		cfg.Realtime.ClientSendChannelBuffer = 64
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultDatabaseConfig returns a DatabaseConfig with default values.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Server: ServerConfig{Host: "localhost", Port: "3000"},
		Driver: DriverConfig{
			Kind:           DriverMemory,
			Host:           "localhost",
			Port:           27017,
			ConnectTimeout: 10 * time.Second,
		},
		Realtime: RealtimeConfig{
			WebSocketPath:           "/ws",
			ClientSendChannelBuffer: 64,
		},
		Journal: JournalConfig{
			Redis: *DefaultRedisConfig(),
		},
	}
}

// Validate checks option combinations env tags cannot express.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver.Kind {
	case DriverMemory:
	case DriverMongoDB:
		if c.Driver.URI == "" && c.Driver.Host == "" {
			return errors.New("mongodb driver requires MONGODB_URI or DRIVER_HOST")
		}
		if c.Driver.URI == "" && (c.Driver.Port <= 0 || c.Driver.Port > 65535) {
			return fmt.Errorf("invalid DRIVER_PORT %d", c.Driver.Port)
		}
	default:
		return fmt.Errorf("unknown DRIVER_KIND %q (want %s or %s)", c.Driver.Kind, DriverMemory, DriverMongoDB)
	}
	if c.Journal.Enabled && c.Journal.Redis.Host == "" {
		return errors.New("journal enabled but REDIS_HOST is empty")
	}
	if c.Journal.Redis.StreamMaxLength < 0 {
		return errors.New("REDIS_STREAM_MAX_LENGTH must not be negative")
	}
	return nil
}
