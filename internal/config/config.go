package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Host string
	Port string

	// Database settings
	DatabasePath string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Upstream API settings
	APIBaseURL     string
	APIToken       string
	RequestTimeout time.Duration

	// Opinion detail cache settings
	CacheSize int
	CacheTTL  time.Duration

	// Court sync settings
	CourtMaxPages  int
	CourtPagePause time.Duration

	// Decision sync settings
	SyncBatchSize   int
	SyncBatchPause  time.Duration
	MaxJudgesPerRun int

	// Queue settings
	QueuePollInterval time.Duration
	JobMaxRetries     int
	JobRetentionDays  int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not an error if .env doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Host:         getEnv("HOST", "0.0.0.0"),
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/judge_sync.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		APIBaseURL:   getEnv("COURTLISTENER_BASE_URL", "https://www.courtlistener.com/api/rest/v4"),
		APIToken:     os.Getenv("COURTLISTENER_API_TOKEN"),
	}

	// The upstream API rejects unauthenticated requests, so an absent token
	// means every sync would fail. Abort before any work starts.
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("COURTLISTENER_API_TOKEN is required")
	}

	requestTimeout, err := strconv.Atoi(getEnv("REQUEST_TIMEOUT", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = time.Duration(requestTimeout) * time.Second

	cfg.CacheSize, err = strconv.Atoi(getEnv("CACHE_SIZE", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_SIZE: %w", err)
	}

	cacheTTL, err := strconv.Atoi(getEnv("CACHE_TTL", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	cfg.CacheTTL = time.Duration(cacheTTL) * time.Minute

	cfg.CourtMaxPages, err = strconv.Atoi(getEnv("COURT_MAX_PAGES", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid COURT_MAX_PAGES: %w", err)
	}

	courtPagePause, err := strconv.Atoi(getEnv("COURT_PAGE_PAUSE_MS", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid COURT_PAGE_PAUSE_MS: %w", err)
	}
	cfg.CourtPagePause = time.Duration(courtPagePause) * time.Millisecond

	cfg.SyncBatchSize, err = strconv.Atoi(getEnv("SYNC_BATCH_SIZE", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_BATCH_SIZE: %w", err)
	}

	batchPause, err := strconv.Atoi(getEnv("SYNC_BATCH_PAUSE_MS", "3000"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_BATCH_PAUSE_MS: %w", err)
	}
	cfg.SyncBatchPause = time.Duration(batchPause) * time.Millisecond

	cfg.MaxJudgesPerRun, err = strconv.Atoi(getEnv("MAX_JUDGES_PER_RUN", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_JUDGES_PER_RUN: %w", err)
	}

	pollInterval, err := strconv.Atoi(getEnv("QUEUE_POLL_INTERVAL", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_POLL_INTERVAL: %w", err)
	}
	cfg.QueuePollInterval = time.Duration(pollInterval) * time.Second

	cfg.JobMaxRetries, err = strconv.Atoi(getEnv("JOB_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_MAX_RETRIES: %w", err)
	}

	cfg.JobRetentionDays, err = strconv.Atoi(getEnv("JOB_RETENTION_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_RETENTION_DAYS: %w", err)
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
