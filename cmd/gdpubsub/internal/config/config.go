// Package config provides configuration management for the gdpubsub CLI.
// It loads settings from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend values selecting the queue storage engine.
const (
	BackendSQL = "sql"
	BackendKV  = "kv"
)

// Config holds all configuration for the gdpubsub CLI.
type Config struct {
	Backend  string // sql or kv
	Database DatabaseConfig
	Badger   BadgerConfig
	Engine   EngineConfig
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string // mysql, postgres, sqlite3
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// BadgerConfig holds the key-value engine configuration.
type BadgerConfig struct {
	Dir string // Data directory
}

// EngineConfig holds the delivery policy knobs.
type EngineConfig struct {
	ServerID                int64
	BatchSize               int
	DeliveryTimeout         time.Duration
	MaxDeliveryCount        int
	IdleSubscriptionHorizon time.Duration
	RetrySleep              time.Duration
	RetryWarnEvery          int
	EnableNotifications     bool
}

// Load loads configuration from environment variables.
// Follows 12-factor app principles - configuration via environment.
func Load() (*Config, error) {
	cfg := &Config{
		Backend: getEnv("PUBSUB_BACKEND", BackendSQL),
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "mysql"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "pubsub"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "pubsub"),
		},
		Badger: BadgerConfig{
			Dir: getEnv("PUBSUB_BADGER_DIR", "./pubsub-data"),
		},
		Engine: EngineConfig{
			ServerID:                int64(getEnvInt("PUBSUB_SERVER_ID", 1)),
			BatchSize:               getEnvInt("PUBSUB_BATCH_SIZE", 100),
			DeliveryTimeout:         time.Duration(getEnvInt("PUBSUB_DELIVERY_TIMEOUT", 60)) * time.Second,
			MaxDeliveryCount:        getEnvInt("PUBSUB_MAX_DELIVERY_COUNT", 5),
			IdleSubscriptionHorizon: time.Duration(getEnvInt("PUBSUB_IDLE_SUB_HORIZON", 86400)) * time.Second,
			RetrySleep:              time.Duration(getEnvInt("PUBSUB_RETRY_SLEEP_MS", 5)) * time.Millisecond,
			RetryWarnEvery:          getEnvInt("PUBSUB_RETRY_WARN_EVERY", 50),
			EnableNotifications:     getEnvBool("PUBSUB_ENABLE_NOTIFICATIONS", true),
		},
	}

	if cfg.Backend != BackendSQL && cfg.Backend != BackendKV {
		return nil, fmt.Errorf("PUBSUB_BACKEND must be %q or %q, got %q", BackendSQL, BackendKV, cfg.Backend)
	}

	// SQLite needs no credentials; the other drivers do.
	if cfg.Backend == BackendSQL && cfg.Database.Driver != "sqlite3" && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD environment variable is required for driver %q", cfg.Database.Driver)
	}

	return cfg, nil
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	case "sqlite3":
		return c.Database // SQLite uses file path as DSN
	default:
		return ""
	}
}

// getEnv retrieves environment variable or returns default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves environment variable as integer or returns default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves environment variable as boolean or returns default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
