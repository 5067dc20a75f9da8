package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken  string
	GitHubAPIURL string

	// Search
	MinInterval    time.Duration // minimum spacing between request starts
	MaxAttempts    int           // attempts per page, including the first
	RetryBackoff   time.Duration // extra pause between attempts, on top of MinInterval
	RequestTimeout time.Duration

	// Extraction
	StartDate          string
	EndDate            string
	FiltersFile        string
	DiscardPartial     bool
	AbortAfterFailures int

	// Storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// Audit sinks
	AuditLogFile string
	RedisURL     string

	// Logging
	LogLevel  string
	LogDir    string
	LogPretty bool

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads an env file (default .env) and then reads the environment
func LoadFile(envFile string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	minInterval, err := getDuration("SEARCH_MIN_INTERVAL", 2100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	retryBackoff, err := getDuration("SEARCH_RETRY_BACKOFF", 0)
	if err != nil {
		return nil, err
	}
	timeout, err := getDuration("SEARCH_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := getInt("SEARCH_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	abortAfter, err := getInt("ABORT_AFTER_FAILURES", 0)
	if err != nil {
		return nil, err
	}
	discard, err := getBool("DISCARD_PARTIAL", false)
	if err != nil {
		return nil, err
	}
	pretty, err := getBool("LOG_PRETTY", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		GitHubToken:        getEnv("GITHUB_TOKEN", ""),
		GitHubAPIURL:       getEnv("GITHUB_API_URL", "https://api.github.com/"),
		MinInterval:        minInterval,
		MaxAttempts:        maxAttempts,
		RetryBackoff:       retryBackoff,
		RequestTimeout:     timeout,
		StartDate:          getEnv("EXTRACT_START", "2025-01-01"),
		EndDate:            getEnv("EXTRACT_END", "2025-12-31"),
		FiltersFile:        getEnv("FILTERS_FILE", ""),
		DiscardPartial:     discard,
		AbortAfterFailures: abortAfter,
		StorageType:        getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:         getEnv("SQLITE_PATH", "./repositories.db"),
		PostgresURL:        postgresURL(),
		AuditLogFile:       getEnv("AUDIT_LOG_FILE", "logs/audit.jsonl"),
		RedisURL:           getEnv("REDIS_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogDir:             getEnv("LOG_DIR", "logs"),
		LogPretty:          pretty,
		APIPort:            getEnv("API_PORT", "8080"),
		APIHost:            getEnv("API_HOST", "localhost"),
		APIEndpoint:        getEnv("API_ENDPOINT", "http://localhost:8080"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: fmt.Sprintf("invalid duration %q", value)}
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: fmt.Sprintf("invalid integer %q", value)}
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, &ConfigError{Field: key, Message: fmt.Sprintf("invalid boolean %q", value)}
	}
	return b, nil
}

// postgresURL prefers POSTGRES_URL and falls back to the DB_* variables
func postgresURL() string {
	if u := os.Getenv("POSTGRES_URL"); u != "" {
		return u
	}
	user, pass := os.Getenv("DB_USER"), os.Getenv("DB_PASS")
	host, port, name := os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_NAME")
	if user == "" || host == "" || port == "" || name == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     host + ":" + port,
		Path:     "/" + name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// DateRange parses the configured extraction range
func (c *Config) DateRange() (domain.DateRange, error) {
	return domain.ParseDateRange(c.StartDate, c.EndDate)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL (or DB_USER, DB_HOST, DB_PORT, DB_NAME) is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.MinInterval <= 0 {
		return &ConfigError{Field: "SEARCH_MIN_INTERVAL", Message: "must be positive"}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Field: "SEARCH_MAX_ATTEMPTS", Message: "must be at least 1"}
	}
	if c.RetryBackoff < 0 {
		return &ConfigError{Field: "SEARCH_RETRY_BACKOFF", Message: "must not be negative"}
	}
	if c.AbortAfterFailures < 0 {
		return &ConfigError{Field: "ABORT_AFTER_FAILURES", Message: "must not be negative"}
	}
	if _, err := url.Parse(c.GitHubAPIURL); err != nil {
		return &ConfigError{Field: "GITHUB_API_URL", Message: err.Error()}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
