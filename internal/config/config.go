// Package config reads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPort                 = "8080"
	DefaultMarketBaseURL        = "https://query1.finance.yahoo.com"
	DefaultSymbolSuffix         = ".NS"
	DefaultMarketRateLimit      = 2
	DefaultMarketTimeout        = 30 * time.Second
	DefaultSnapshotSchedule     = "0 18 * * 1-5"
	DefaultWeeklySchedule       = "0 6 * * 6"
	DefaultFundamentalsSchedule = "0 2 * * *"
)

// DefaultHistorySince is the start of a full price history backfill.
var DefaultHistorySince = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    string
	LogFormat   string

	MarketBaseURL      string
	MarketSymbolSuffix string
	MarketRateLimit    int
	MarketTimeout      time.Duration
	HistorySince       time.Time

	SnapshotSchedule     string
	WeeklySchedule       string
	FundamentalsSchedule string

	// EnvFileLoaded reports whether a .env file was found.
	EnvFileLoaded bool
}

// Load reads a .env file if one exists, then the environment.
func Load() (*Config, error) {
	loaded := godotenv.Load() == nil
	cfg, err := FromEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	cfg.EnvFileLoaded = loaded
	return cfg, nil
}

// FromEnv builds a Config from lookup, applying defaults for unset keys.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		DatabaseURL:          get("DATABASE_URL", ""),
		Port:                 get("PORT", DefaultPort),
		LogLevel:             get("LOG_LEVEL", "info"),
		LogFormat:            get("LOG_FORMAT", "json"),
		MarketBaseURL:        get("MARKET_BASE_URL", DefaultMarketBaseURL),
		MarketSymbolSuffix:   get("MARKET_SYMBOL_SUFFIX", DefaultSymbolSuffix),
		MarketRateLimit:      DefaultMarketRateLimit,
		MarketTimeout:        DefaultMarketTimeout,
		HistorySince:         DefaultHistorySince,
		SnapshotSchedule:     schedule(get("SNAPSHOT_SCHEDULE", DefaultSnapshotSchedule)),
		WeeklySchedule:       schedule(get("WEEKLY_SCHEDULE", DefaultWeeklySchedule)),
		FundamentalsSchedule: schedule(get("FUNDAMENTALS_SCHEDULE", DefaultFundamentalsSchedule)),
	}

	if v := get("MARKET_RATE_LIMIT", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MARKET_RATE_LIMIT must be a positive integer, got %q", v)
		}
		cfg.MarketRateLimit = n
	}
	if v := get("MARKET_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parsing MARKET_TIMEOUT: %w", err)
		}
		cfg.MarketTimeout = d
	}
	if v := get("HISTORY_SINCE", ""); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, fmt.Errorf("parsing HISTORY_SINCE: %w", err)
		}
		cfg.HistorySince = t
	}
	return cfg, nil
}

// schedule maps "off" to the empty schedule, which disables a job.
func schedule(v string) string {
	if strings.EqualFold(v, "off") {
		return ""
	}
	return v
}
