// Package config holds the pipeline's tunables (spec §6.6) plus the
// ambient settings (database path, log level) every deployment needs.
// Values come from environment variables, optionally seeded from a
// local .env file — the teacher's loader for double-clicked binaries
// without a shell.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the fully-resolved set of settings for one pipeline run.
type Config struct {
	StructureID int64
	RegionID    int32

	DoctrineTarget        int64
	HistoryLookbackDays   int
	HistoryConcurrency    int
	RequestTimeoutSeconds int
	MaxRetriesPerPage     int
	RetryBackoffSeconds   int
	FreshHistory          bool

	DatabasePath   string
	FitCatalogPath string
	ESIBaseURL     string
	LogLevel       string
	CycleInterval  int // seconds between cycles; 0 runs once and exits
}

// Default returns a Config with the spec's documented defaults.
func Default() *Config {
	return &Config{
		DoctrineTarget:        20,
		HistoryLookbackDays:   30,
		HistoryConcurrency:    8,
		RequestTimeoutSeconds: 10,
		MaxRetriesPerPage:     5,
		RetryBackoffSeconds:   3,
		FreshHistory:          true,
		DatabasePath:          "market-intel.db",
		FitCatalogPath:        "fitcatalog.db",
		ESIBaseURL:            "https://esi.evetech.net/latest",
		LogLevel:              "info",
		CycleInterval:         3600,
	}
}

// LoadFromEnv builds a Config by layering environment variables over
// Default(). StructureID and RegionID have no sane default and must be
// set; their absence is reported as an error rather than silently
// running against a zero id.
func LoadFromEnv() (*Config, error) {
	loadDotEnv()
	c := Default()

	var err error
	if c.StructureID, err = requireInt64Env("EMI_STRUCTURE_ID"); err != nil {
		return nil, err
	}
	regionID, err := requireInt64Env("EMI_REGION_ID")
	if err != nil {
		return nil, err
	}
	c.RegionID = int32(regionID)

	c.DoctrineTarget = envInt64("EMI_DOCTRINE_TARGET", c.DoctrineTarget)
	c.HistoryLookbackDays = int(envInt64("EMI_HISTORY_LOOKBACK_DAYS", int64(c.HistoryLookbackDays)))
	c.HistoryConcurrency = clamp(int(envInt64("EMI_HISTORY_CONCURRENCY", int64(c.HistoryConcurrency))), 1, 16)
	c.RequestTimeoutSeconds = int(envInt64("EMI_REQUEST_TIMEOUT_SECONDS", int64(c.RequestTimeoutSeconds)))
	c.MaxRetriesPerPage = int(envInt64("EMI_MAX_RETRIES_PER_PAGE", int64(c.MaxRetriesPerPage)))
	c.RetryBackoffSeconds = int(envInt64("EMI_RETRY_BACKOFF_SECONDS", int64(c.RetryBackoffSeconds)))
	c.FreshHistory = envBool("EMI_FRESH_HISTORY", c.FreshHistory)
	c.CycleInterval = int(envInt64("EMI_CYCLE_INTERVAL_SECONDS", int64(c.CycleInterval)))

	c.DatabasePath = envString("EMI_DATABASE_PATH", c.DatabasePath)
	c.FitCatalogPath = envString("EMI_FITCATALOG_PATH", c.FitCatalogPath)
	c.ESIBaseURL = envString("EMI_ESI_BASE_URL", c.ESIBaseURL)
	c.LogLevel = envString("EMI_LOG_LEVEL", c.LogLevel)

	return c, nil
}

func requireInt64Env(key string) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("config: %s is required", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// loadDotEnv loads environment variables from a local .env file so that
// a binary run outside a shell (no exported env) can still pick up
// EMI_* settings. Existing OS env vars are never overridden.
func loadDotEnv() {
	paths := []string{".env"}
	if exePath, err := os.Executable(); err == nil {
		if exeDir := filepath.Dir(exePath); exeDir != "" {
			paths = append(paths, filepath.Join(exeDir, ".env"))
		}
	}

	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true

		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			l := strings.TrimSpace(line)
			if l == "" || strings.HasPrefix(l, "#") {
				continue
			}
			parts := strings.SplitN(l, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			if key == "" {
				continue
			}
			if os.Getenv(key) == "" {
				os.Setenv(key, val)
			}
		}
	}
}
