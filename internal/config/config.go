package config

import (
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
	Kafka    KafkaConfig
	NewRelic NewRelicConfig
	Dispatch DispatchConfig
	LogLevel string
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
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds the driver-location feed configuration.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// DispatchConfig holds the tunables of the dispatch engine.
type DispatchConfig struct {
	// OfferTimeout is how long a driver has to respond to an offer.
	OfferTimeout time.Duration
	// GlobalTimeout caps the total duration of a dispatch session,
	// independent of per-offer deadlines.
	GlobalTimeout time.Duration
	// SearchRadiusKm bounds the candidate search around the pickup.
	SearchRadiusKm float64
	// FreshnessWindow is the maximum age of a usable location ping.
	FreshnessWindow time.Duration
	// SweepInterval is how often the expiry sweeper scans the ledger.
	SweepInterval time.Duration
	// ClaimRetryBackoff and ClaimRetryMax bound retries against a
	// temporarily unreachable ledger.
	ClaimRetryBackoff time.Duration
	ClaimRetryMax     int
	// RetryExhausted controls whether drivers already tried in this
	// session become eligible again after the queue is exhausted and
	// re-ranked.
	RetryExhausted bool
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
			DBName:   getEnv("DB_NAME", "dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "driver-locations"),
			GroupID: getEnv("KAFKA_GROUP", "dispatch-locations-consumer"),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "dispatch-engine"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Dispatch: DispatchConfig{
			OfferTimeout:      getDurationEnv("DISPATCH_OFFER_TIMEOUT", 15*time.Second),
			GlobalTimeout:     getDurationEnv("DISPATCH_GLOBAL_TIMEOUT", 2*time.Minute),
			SearchRadiusKm:    getFloatEnv("DISPATCH_SEARCH_RADIUS_KM", 5.0),
			FreshnessWindow:   getDurationEnv("DISPATCH_FRESHNESS_WINDOW", 5*time.Minute),
			SweepInterval:     getDurationEnv("DISPATCH_SWEEP_INTERVAL", time.Second),
			ClaimRetryBackoff: getDurationEnv("DISPATCH_CLAIM_RETRY_BACKOFF", 200*time.Millisecond),
			ClaimRetryMax:     getIntEnv("DISPATCH_CLAIM_RETRY_MAX", 5),
			RetryExhausted:    getBoolEnv("DISPATCH_RETRY_EXHAUSTED", false),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
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

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
