package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the poller service
type Config struct {
	// Store
	Store        string `validate:"oneof=sqlite postgres memory"`
	DatabasePath string `validate:"required_if=Store sqlite"`
	DatabaseURL  string `validate:"required_if=Store postgres"`

	// Observation source
	Source             string        `validate:"oneof=oasa gtfsrt"`
	OASAAPIURL         string        `validate:"required_if=Source oasa"`
	GTFSTripUpdatesURL string        `validate:"required_if=Source gtfsrt"`
	FetchTimeout       time.Duration `validate:"gt=0"`

	// Polling
	PollInterval      time.Duration `validate:"gt=0"`
	RetentionDuration time.Duration `validate:"gte=0"`
	RunOnce           bool
	StopsFile         string      `validate:"required"`
	Stops             []StopRoute `validate:"required,min=1,dive"`

	// Read API; empty HTTPAddr disables it
	HTTPAddr    string
	CORSOrigins []string

	LogLevel string
}

// Load reads configuration from .env and environment variables with defaults, then
// loads and validates the stop list.
func Load() (*Config, error) {
	// A missing .env is normal in production
	_ = godotenv.Load()

	cfg := &Config{
		Store:        getEnv("STORE", "sqlite"),
		DatabasePath: getEnv("SQLITE_DATABASE", "/data/arrivals.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		Source:             getEnv("SOURCE", "oasa"),
		OASAAPIURL:         getEnv("OASA_API_URL", "http://telematics.oasa.gr/api/"),
		GTFSTripUpdatesURL: getEnv("GTFS_TRIP_UPDATES_URL", ""),
		FetchTimeout:       time.Duration(getEnvInt("FETCH_TIMEOUT", 10)) * time.Second,

		PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL", 60)) * time.Second,
		RetentionDuration: time.Duration(getEnvInt("RETENTION_HOURS", 24*30)) * time.Hour,
		RunOnce:           getEnvBool("RUN_ONCE", false),
		StopsFile:         getEnv("STOPS_FILE", "stops.yml"),

		HTTPAddr:    getEnv("HTTP_ADDR", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	stops, err := LoadStops(cfg.StopsFile)
	if err != nil {
		return nil, err
	}
	cfg.Stops = stops

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
