package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Dispatch DispatchConfig
	Kafka    KafkaConfig
	Log      LogConfig
	Features FeatureConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// DispatchConfig holds the offer loop settings.
type DispatchConfig struct {
	OfferTimeout   time.Duration
	SearchRadiusKm float64
	// LockTTL bounds how long a crashed instance can hold a ride or driver lock.
	LockTTL time.Duration
}

// KafkaConfig holds the event export settings. Export is off when Brokers is empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

// Event bus backends.
const (
	EventBusRedis  = "redis"
	EventBusMemory = "memory"
)

// FeatureConfig toggles optional behavior.
type FeatureConfig struct {
	EventBus string
	// SyntheticDrivers fills the nearby-drivers map with demo markers.
	SyntheticDrivers bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "mototaxi"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns: getIntEnv("DB_MAX_IDLE_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "mototaxi-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Dispatch: DispatchConfig{
			OfferTimeout:   getDurationEnv("DISPATCH_OFFER_TIMEOUT", 60*time.Second),
			SearchRadiusKm: getFloatEnv("DISPATCH_SEARCH_RADIUS_KM", 5),
			LockTTL:        getDurationEnv("DISPATCH_LOCK_TTL", 90*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "ride-events"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Features: FeatureConfig{
			EventBus:         getEnv("EVENT_BUS", EventBusRedis),
			SyntheticDrivers: getBoolEnv("SYNTHETIC_DRIVERS_ENABLED", false),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("SERVER_PORT is required"))
	}
	if c.Dispatch.OfferTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_OFFER_TIMEOUT must be positive, got %s", c.Dispatch.OfferTimeout))
	}
	if c.Dispatch.SearchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_SEARCH_RADIUS_KM must be positive, got %v", c.Dispatch.SearchRadiusKm))
	}
	if c.Dispatch.LockTTL < c.Dispatch.OfferTimeout {
		errs = append(errs, fmt.Errorf("DISPATCH_LOCK_TTL (%s) must not be shorter than DISPATCH_OFFER_TIMEOUT (%s)",
			c.Dispatch.LockTTL, c.Dispatch.OfferTimeout))
	}
	if c.Features.EventBus != EventBusRedis && c.Features.EventBus != EventBusMemory {
		errs = append(errs, fmt.Errorf("EVENT_BUS must be %q or %q, got %q", EventBusRedis, EventBusMemory, c.Features.EventBus))
	}
	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		errs = append(errs, errors.New("NEW_RELIC_LICENSE_KEY is required when NEW_RELIC_ENABLED is set"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated value, dropping empty entries.
func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
