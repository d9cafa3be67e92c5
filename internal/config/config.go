package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// Config holds the engine and server settings
type Config struct {
	DatabaseURL string
	DataDir     string
	ListenAddr  string

	HashcatPath       string
	HashcatHashMode   int
	HashcatAttackMode int
	HashcatExtraArgs  []string
	StatusTimer       time.Duration
	ExtractorPath     string

	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	MonitorInterval   time.Duration
	KillGrace         time.Duration
	ExtractTimeout    time.Duration
	JobTimeout        time.Duration
	DictionaryTimeout time.Duration

	ScratchRetention time.Duration
	SweepSchedule    string

	// TestMode swaps the external tools for the mock runner
	TestMode bool
	Mock     MockConfig
}

// MockConfig tunes the simulated tools used in test mode
type MockConfig struct {
	RunDuration time.Duration
	CrackRate   float64 // percentage of handshakes cracked per dictionary (0-100)
	HashRate    int64
}

// JobsDir is where per-job scratch directories live
func (c *Config) JobsDir() string {
	return filepath.Join(c.DataDir, "jobs")
}

// CapturesDir is where uploaded capture files live
func (c *Config) CapturesDir() string {
	return filepath.Join(c.DataDir, "captures")
}

// Load reads .env (when present) and the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		DatabaseURL: getEnvString("DATABASE_URL", ""),
		DataDir:     getEnvString("DATA_DIR", "./data"),
		ListenAddr:  getEnvString("LISTEN_ADDR", ":8080"),

		HashcatPath:       getEnvString("HASHCAT_PATH", "hashcat"),
		HashcatHashMode:   getEnvInt("HASHCAT_HASH_MODE", 22000),
		HashcatAttackMode: getEnvInt("HASHCAT_ATTACK_MODE", 0),
		HashcatExtraArgs:  strings.Fields(getEnvString("HASHCAT_EXTRA_ARGS", "")),
		StatusTimer:       getEnvDuration("STATUS_TIMER", 10*time.Second),
		ExtractorPath:     getEnvString("EXTRACTOR_PATH", "hcxpcapngtool"),

		PollInterval:      getEnvDuration("POLL_INTERVAL", 5*time.Second),
		ErrorBackoff:      getEnvDuration("ERROR_BACKOFF", 30*time.Second),
		MonitorInterval:   getEnvDuration("MONITOR_INTERVAL", 5*time.Second),
		KillGrace:         getEnvDuration("KILL_GRACE", 5*time.Second),
		ExtractTimeout:    getEnvDuration("EXTRACT_TIMEOUT", 60*time.Second),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 24*time.Hour),
		DictionaryTimeout: getEnvDuration("DICTIONARY_TIMEOUT", 12*time.Hour),

		ScratchRetention: getEnvDuration("SCRATCH_RETENTION", 24*time.Hour),
		SweepSchedule:    getEnvString("SWEEP_SCHEDULE", "@every 1h"),

		TestMode: getEnvBool("TEST_MODE", false),
		Mock: MockConfig{
			RunDuration: getEnvDuration("MOCK_RUN_DURATION", 20*time.Second),
			CrackRate:   getEnvFloat("MOCK_CRACK_RATE", 50.0),
			HashRate:    getEnvInt64("MOCK_HASH_RATE", 450000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	debug.Info("Configuration loaded - data dir: %s, hashcat: %s (mode %d), extractor: %s, test mode: %v",
		cfg.DataDir, cfg.HashcatPath, cfg.HashcatHashMode, cfg.ExtractorPath, cfg.TestMode)
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.DataDir == "" {
		return errors.New("DATA_DIR is required")
	}

	durations := map[string]time.Duration{
		"POLL_INTERVAL":      c.PollInterval,
		"ERROR_BACKOFF":      c.ErrorBackoff,
		"MONITOR_INTERVAL":   c.MonitorInterval,
		"KILL_GRACE":         c.KillGrace,
		"EXTRACT_TIMEOUT":    c.ExtractTimeout,
		"JOB_TIMEOUT":        c.JobTimeout,
		"DICTIONARY_TIMEOUT": c.DictionaryTimeout,
		"STATUS_TIMER":       c.StatusTimer,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.Mock.CrackRate < 0 || c.Mock.CrackRate > 100 {
		return fmt.Errorf("MOCK_CRACK_RATE must be between 0 and 100, got %.1f", c.Mock.CrackRate)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		debug.Warning("Invalid integer for %s: %q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
		debug.Warning("Invalid integer for %s: %q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		debug.Warning("Invalid number for %s: %q, using default %.2f", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		debug.Warning("Invalid boolean for %s: %q, using default %v", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	debug.Warning("Invalid duration for %s: %q, using default %v", key, value, defaultValue)
	return defaultValue
}
