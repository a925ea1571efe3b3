// Package config handles loading and validation of application configuration
// from environment variables and potentially configuration files.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/SplitSync/split-sync-backend/logger"
)

// Environment represents the application's running environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// SyncBackend selects how events propagate between devices.
type SyncBackend string

const (
	BackendRelay SyncBackend = "relay"
	BackendMesh  SyncBackend = "mesh"
)

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Environment Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	Port        string      `mapstructure:"PORT" yaml:"port"`
}

// DatabaseConfig holds PostgreSQL connection details.
type DatabaseConfig struct {
	Host         string `mapstructure:"HOST" yaml:"host"`
	Port         int    `mapstructure:"PORT" yaml:"port"`
	User         string `mapstructure:"USER" yaml:"user"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	Name         string `mapstructure:"NAME" yaml:"name"`
	SSLMode      string `mapstructure:"SSL_MODE" yaml:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"MAX_OPEN_CONNS" yaml:"max_open_conns"`
}

// URL returns a postgres:// connection URL suitable for pgxpool and
// golang-migrate.
func (c *DatabaseConfig) URL() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		sslmode,
	)
}

// RedisConfig holds relay connection details. Only used when the sync
// backend is "relay".
type RedisConfig struct {
	Address  string `mapstructure:"ADDRESS" yaml:"address"`
	Password string `mapstructure:"PASSWORD" yaml:"password"`
	DB       int    `mapstructure:"DB" yaml:"db"`
}

// MeshConfig holds peer-to-peer settings. Only used when the sync backend
// is "mesh".
type MeshConfig struct {
	ListenAddr string   `mapstructure:"LISTEN_ADDR" yaml:"listen_addr"`
	PeerAddrs  []string `mapstructure:"PEER_ADDRS" yaml:"peer_addrs"`
}

// SyncConfig holds backend selection and processing knobs.
type SyncConfig struct {
	Backend SyncBackend `mapstructure:"BACKEND" yaml:"backend"`
	// Worker pool applying inbound events.
	Workers   int `mapstructure:"WORKERS" yaml:"workers"`
	QueueSize int `mapstructure:"QUEUE_SIZE" yaml:"queue_size"`
	// Retention of processed-event markers before garbage collection.
	RetentionHours int `mapstructure:"RETENTION_HOURS" yaml:"retention_hours"`
	// Hours between retention sweeps.
	SweepIntervalHours     int `mapstructure:"SWEEP_INTERVAL_HOURS" yaml:"sweep_interval_hours"`
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds"`
}

// Config aggregates all configuration sections.
type Config struct {
	Server   ServerConfig   `mapstructure:"SERVER" yaml:"server"`
	Database DatabaseConfig `mapstructure:"DATABASE" yaml:"database"`
	Redis    RedisConfig    `mapstructure:"REDIS" yaml:"redis"`
	Mesh     MeshConfig     `mapstructure:"MESH" yaml:"mesh"`
	Sync     SyncConfig     `mapstructure:"SYNC" yaml:"sync"`
	LogLevel string         `mapstructure:"LOG_LEVEL" yaml:"log_level"`
}

// IsProduction returns true when running in production.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables using Viper,
// applies defaults, unmarshals, and validates the result.
func LoadConfig() (*Config, error) {
	v := viper.New()
	log := logger.GetLogger()

	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.NAME", "splitsync_dev")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.MAX_OPEN_CONNS", 5)
	v.SetDefault("REDIS.ADDRESS", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("MESH.LISTEN_ADDR", "")
	v.SetDefault("MESH.PEER_ADDRS", []string{})
	v.SetDefault("SYNC.BACKEND", BackendRelay)
	v.SetDefault("SYNC.WORKERS", 4)
	v.SetDefault("SYNC.QUEUE_SIZE", 256)
	v.SetDefault("SYNC.RETENTION_HOURS", 720)
	v.SetDefault("SYNC.SWEEP_INTERVAL_HOURS", 24)
	v.SetDefault("SYNC.SHUTDOWN_TIMEOUT_SECONDS", 30)
	v.SetDefault("LOG_LEVEL", "info")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envBindings := [][2]string{
		{"SERVER.ENVIRONMENT", "SERVER_ENVIRONMENT"},
		{"SERVER.PORT", "PORT"},
		{"DATABASE.HOST", "DB_HOST"},
		{"DATABASE.PORT", "DB_PORT"},
		{"DATABASE.USER", "DB_USER"},
		{"DATABASE.PASSWORD", "DB_PASSWORD"},
		{"DATABASE.NAME", "DB_NAME"},
		{"DATABASE.SSL_MODE", "DB_SSL_MODE"},
		{"DATABASE.MAX_OPEN_CONNS", "DB_MAX_OPEN_CONNS"},
		{"REDIS.ADDRESS", "REDIS_ADDRESS"},
		{"REDIS.PASSWORD", "REDIS_PASSWORD"},
		{"REDIS.DB", "REDIS_DB"},
		{"MESH.LISTEN_ADDR", "MESH_LISTEN_ADDR"},
		{"MESH.PEER_ADDRS", "MESH_PEER_ADDRS"},
		{"SYNC.BACKEND", "SYNC_BACKEND"},
		{"SYNC.WORKERS", "SYNC_WORKERS"},
		{"SYNC.QUEUE_SIZE", "SYNC_QUEUE_SIZE"},
		{"SYNC.RETENTION_HOURS", "SYNC_RETENTION_HOURS"},
		{"SYNC.SWEEP_INTERVAL_HOURS", "SYNC_SWEEP_INTERVAL_HOURS"},
		{"SYNC.SHUTDOWN_TIMEOUT_SECONDS", "SYNC_SHUTDOWN_TIMEOUT_SECONDS"},
		{"LOG_LEVEL", "LOG_LEVEL"},
	}
	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Infow("Configuration loaded",
		"environment", cfg.Server.Environment,
		"syncBackend", cfg.Sync.Backend,
		"port", cfg.Server.Port,
	)
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults alone cannot
// guarantee.
func (c *Config) Validate() error {
	switch c.Sync.Backend {
	case BackendRelay:
		if c.Redis.Address == "" {
			return fmt.Errorf("relay backend requires REDIS_ADDRESS")
		}
	case BackendMesh:
		if c.Mesh.ListenAddr == "" && len(c.Mesh.PeerAddrs) == 0 {
			return fmt.Errorf("mesh backend requires MESH_LISTEN_ADDR or MESH_PEER_ADDRS")
		}
	default:
		return fmt.Errorf("unknown sync backend %q", c.Sync.Backend)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be at least 1")
	}
	if c.Sync.QueueSize < 1 {
		return fmt.Errorf("SYNC_QUEUE_SIZE must be at least 1")
	}
	return nil
}
