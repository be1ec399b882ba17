package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config represents the full application configuration surface.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Log        LogConfig
	Compliance ComplianceConfig
	Telemetry  TelemetryConfig
	Catalog    CatalogConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port            int
	AllowedOrigins  []string
	WritesPerSecond float64
	WriteBurst      int
}

// DatabaseConfig selects the store. ":memory:" keeps everything in process.
type DatabaseConfig struct {
	Path string
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string
}

// TelemetryConfig points the tracer at an OTLP/HTTP collector.
type TelemetryConfig struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

// CatalogConfig points at an optional JSON category catalog merged over the
// built-in one.
type CatalogConfig struct {
	File string
}

// ComplianceConfig holds the detector schedule and the filing deadline.
type ComplianceConfig struct {
	Enabled          bool
	CronSchedule     string
	Timezone         string
	DeadlineDays     int
	DeadlineWarnDays int
}

// Location resolves Timezone, falling back to UTC.
func (c ComplianceConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// A missing .env is fine when configuration comes from the environment.
		_ = godotenv.Load()
	}

	port, err := getenvInt("APP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	deadline, err := getenvInt("DEADLINE_DAYS", 30)
	if err != nil {
		return nil, err
	}
	warn, err := getenvInt("DEADLINE_WARNING_DAYS", 25)
	if err != nil {
		return nil, err
	}

	rps, err := strconv.ParseFloat(getenvWithDefault("RATE_LIMIT_RPS", "50"), 64)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_RPS must be a number: %w", err)
	}
	burst, err := getenvInt("RATE_LIMIT_BURST", 100)
	if err != nil {
		return nil, err
	}
	ratio, err := strconv.ParseFloat(getenvWithDefault("OTEL_SAMPLE_RATIO", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATIO must be a number: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            port,
			AllowedOrigins:  splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
			WritesPerSecond: rps,
			WriteBurst:      burst,
		},
		Database: DatabaseConfig{
			Path: getenvWithDefault("DB_PATH", "contralor.db"),
		},
		Log: LogConfig{
			Level: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Compliance: ComplianceConfig{
			Enabled:          getenvWithDefault("COMPLIANCE_ENABLED", "true") != "false",
			CronSchedule:     getenvWithDefault("COMPLIANCE_CRON", "0 * * * *"),
			Timezone:         getenvWithDefault("TIMEZONE", "America/Montevideo"),
			DeadlineDays:     deadline,
			DeadlineWarnDays: warn,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    getenvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "true") != "false",
			ServiceName: getenvWithDefault("OTEL_SERVICE_NAME", "contralor"),
			SampleRatio: ratio,
		},
		Catalog: CatalogConfig{
			File: os.Getenv("CATEGORIES_FILE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that configuration fields are usable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("APP_PORT out of range: %d", c.Server.Port)
	}
	if c.Server.WritesPerSecond < 0 {
		return errors.New("RATE_LIMIT_RPS must not be negative")
	}
	if c.Database.Path == "" {
		return errors.New("DB_PATH must not be empty")
	}

	switch {
	case c.Compliance.DeadlineDays <= 0:
		return errors.New("DEADLINE_DAYS must be positive")
	case c.Compliance.DeadlineWarnDays <= 0 || c.Compliance.DeadlineWarnDays > c.Compliance.DeadlineDays:
		return errors.New("DEADLINE_WARNING_DAYS must be between 1 and DEADLINE_DAYS")
	}

	if c.Compliance.Enabled {
		if _, err := cron.ParseStandard(c.Compliance.CronSchedule); err != nil {
			return fmt.Errorf("COMPLIANCE_CRON is not a valid schedule: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.Compliance.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Compliance.Timezone, err)
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
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
