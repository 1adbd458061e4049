// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
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
	devJWTSecret  = "dev-secret-change-in-production"
	devSubjectKey = "dev-subject-key-change-in-production"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"
	LogLevel    string
	LogFormat   string // "json" | "console"

	// Storage
	StoreBackend string // "memory" | "postgres" | "redis"
	DatabaseURL  string
	RedisURL     string

	// Per-case locking
	LockBackend string // "memory" | "redis"
	LockTTL     time.Duration
	LockTimeout time.Duration

	// Security
	JWTSecret      string
	SubjectKey     string
	AllowedOrigins []string
	RateLimitRPM   int

	// Classification
	KeywordPolicyPath     string
	AnalysisURL           string
	AnalysisTimeout       time.Duration
	AnalysisMinConfidence float64

	// Contact notification
	NotifyWebhookURL   string
	NotifyWebhookToken string
	NotifyTimeout      time.Duration
	NotifyRetries      int

	// Escalation policy; zero means a high-risk warning fires once per case
	HighWarningCooldown time.Duration

	// Merkle tree
	MerkleRebuildInterval int // minutes
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		StoreBackend: getEnv("STORE_BACKEND", "memory"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),

		LockBackend: getEnv("LOCK_BACKEND", "memory"),
		LockTTL:     getEnvDuration("LOCK_TTL", 30*time.Second),
		LockTimeout: getEnvDuration("LOCK_TIMEOUT", 10*time.Second),

		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		SubjectKey:     getEnv("SUBJECT_KEY", devSubjectKey),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"), ","),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 60),

		KeywordPolicyPath:     getEnv("KEYWORD_POLICY_PATH", ""),
		AnalysisURL:           getEnv("ANALYSIS_URL", ""),
		AnalysisTimeout:       getEnvDuration("ANALYSIS_TIMEOUT", 2*time.Second),
		AnalysisMinConfidence: getEnvFloat("ANALYSIS_MIN_CONFIDENCE", 0),

		NotifyWebhookURL:   getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyWebhookToken: getEnv("NOTIFY_WEBHOOK_TOKEN", ""),
		NotifyTimeout:      getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second),
		NotifyRetries:      getEnvInt("NOTIFY_RETRIES", 2),

		HighWarningCooldown: getEnvDuration("HIGH_WARNING_COOLDOWN", 0),

		MerkleRebuildInterval: getEnvInt("MERKLE_REBUILD_INTERVAL", 5),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, postgres or redis, got %q", c.StoreBackend)
	}
	switch c.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("LOCK_BACKEND must be memory or redis, got %q", c.LockBackend)
	}
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
	}
	if c.AnalysisMinConfidence < 0 || c.AnalysisMinConfidence > 1 {
		return fmt.Errorf("ANALYSIS_MIN_CONFIDENCE must be within [0,1]")
	}
	if c.MerkleRebuildInterval <= 0 {
		return fmt.Errorf("MERKLE_REBUILD_INTERVAL must be positive")
	}

	// Validate required fields in production
	if c.Environment == "production" {
		if c.JWTSecret == devJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.SubjectKey == devSubjectKey {
			return fmt.Errorf("SUBJECT_KEY must be set in production")
		}
		if c.StoreBackend == "memory" {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("1500ms", "2s") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
