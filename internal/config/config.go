package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPort             = "3000"
	DefaultGeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel      = "gemini-3-pro-image-preview"
	DefaultBatchConcurrency = 3
	DefaultMaxBatchSize     = 10
	DefaultMaxUploadMB      = 20
)

// Config is the process-wide configuration, built once at start.
type Config struct {
	APIKey string
	Port   string

	GeminiBaseURL  string
	GeminiModel    string
	GeminiTimeout  time.Duration
	MaxUploadBytes int64

	BatchConcurrency int
	MaxBatchSize     int

	LogLevel string

	// Optional backing stores for generation summaries.
	DatabaseDSN   string
	RedisAddr     string
	RedisPassword string
	ResultTTL     time.Duration

	StaticDir       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, after merging an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		APIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Port:          getEnv("PORT", DefaultPort),
		GeminiBaseURL: strings.TrimRight(getEnv("GEMINI_BASE_URL", DefaultGeminiBaseURL), "/"),
		GeminiModel:   getEnv("GEMINI_MODEL", DefaultGeminiModel),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		StaticDir:     os.Getenv("STATIC_DIR"),
	}

	var err error
	if cfg.BatchConcurrency, err = getEnvInt("BATCH_CONCURRENCY", DefaultBatchConcurrency); err != nil {
		return nil, err
	}
	if cfg.MaxBatchSize, err = getEnvInt("MAX_BATCH_SIZE", DefaultMaxBatchSize); err != nil {
		return nil, err
	}

	uploadMB, err := getEnvInt("MAX_UPLOAD_MB", DefaultMaxUploadMB)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(uploadMB) << 20

	timeoutSeconds, err := getEnvInt("GEMINI_TIMEOUT_SECONDS", 120)
	if err != nil {
		return nil, err
	}
	cfg.GeminiTimeout = time.Duration(timeoutSeconds) * time.Second

	ttlMinutes, err := getEnvInt("RESULT_TTL_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	cfg.ResultTTL = time.Duration(ttlMinutes) * time.Minute

	shutdownSeconds, err := getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = time.Duration(shutdownSeconds) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that numeric settings are usable.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid PORT %q", c.Port)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if c.GeminiTimeout <= 0 {
		return fmt.Errorf("GEMINI_TIMEOUT_SECONDS must be positive")
	}
	if c.ResultTTL <= 0 {
		return fmt.Errorf("RESULT_TTL_MINUTES must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// HasAPIKey reports whether the provider credential is configured.
func (c *Config) HasAPIKey() bool {
	return c != nil && c.APIKey != ""
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}
