// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// HTTP server
	Port string

	// Database
	SQLiteDBPath string

	// Backend selection: "sqlite" or "memory"
	DataBackend string

	// AMQP (mirror sync + maintenance queue)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets mirror (worker side, optional)
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Grid controller
	DebounceInterval time.Duration

	// Analytics cache
	AnalyticsCacheSize int
	AnalyticsCacheTTL  time.Duration

	// Worker
	DedupSweepSchedule string // cron spec
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8082"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/gridbook.db"),
		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "gridbook"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "mirror_entries"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Gridbook"),

		DebounceInterval: getEnvDuration("GRID_DEBOUNCE_INTERVAL", 400*time.Millisecond),

		AnalyticsCacheSize: getEnvInt("ANALYTICS_CACHE_SIZE", 128),
		AnalyticsCacheTTL:  getEnvDuration("ANALYTICS_CACHE_TTL", 2*time.Minute),

		DedupSweepSchedule: getEnv("DEDUP_SWEEP_SCHEDULE", "@hourly"),
	}
}

// Validate checks the configuration and returns all problems as one error.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of [sqlite memory]", c.DataBackend))
	}

	if c.AMQPURL != "" {
		if parsed, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.DebounceInterval < 10*time.Millisecond || c.DebounceInterval > 10*time.Second {
		errs = append(errs, fmt.Sprintf("invalid debounce interval %v: must be between 10ms and 10s", c.DebounceInterval))
	}

	if c.AnalyticsCacheSize < 1 {
		errs = append(errs, fmt.Sprintf("invalid analytics cache size %d: must be at least 1", c.AnalyticsCacheSize))
	}
	if c.AnalyticsCacheTTL < time.Second {
		errs = append(errs, fmt.Sprintf("invalid analytics cache TTL %v: must be at least 1 second", c.AnalyticsCacheTTL))
	}

	if _, err := cron.ParseStandard(c.DedupSweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("invalid dedup sweep schedule '%s': %v", c.DedupSweepSchedule, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
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
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
