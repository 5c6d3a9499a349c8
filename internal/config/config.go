package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds every runtime setting of the trust service.
type Config struct {
	Port        string
	DatabaseURL string
	CORSOrigin  string
	AdminToken  string
	LogLevel    logrus.Level
	GinMode     string

	IdentityServiceURL string
	ContentServiceURL  string
	DependencyTimeout  time.Duration
	ProfileCacheTTL    time.Duration

	FlagRatePerMinute float64
	FlagRateBurst     int

	ProactiveReviewThreshold int
	RecomputeReactionDelta   int
	TrustRecomputeInterval   time.Duration
}

// LoadEnv loads a local .env file if present. Production sets variables directly.
func LoadEnv(logger *logrus.Logger) {
	if _, err := os.Stat(".env"); err != nil {
		logger.Debug("No .env file found, reading from environment")
		return
	}
	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Warn("Failed to load .env")
	}
}

// Load reads Config from the environment, applying defaults.
func Load() Config {
	return Config{
		Port:        GetEnv("PORT", "8080"),
		DatabaseURL: GetEnv("DATABASE_URL", "sqlite://trust.db"),
		CORSOrigin:  GetEnv("CORS_ORIGIN", "*"),
		AdminToken:  strings.TrimSpace(os.Getenv("X_ADMIN_TOKEN")),
		LogLevel:    GetLogLevel(),
		GinMode:     GetEnv("GIN_MODE", "debug"),

		IdentityServiceURL: strings.TrimRight(GetEnv("IDENTITY_SERVICE_URL", ""), "/"),
		ContentServiceURL:  strings.TrimRight(GetEnv("CONTENT_SERVICE_URL", ""), "/"),
		DependencyTimeout:  GetEnvDuration("DEPENDENCY_TIMEOUT", 2*time.Second),
		ProfileCacheTTL:    GetEnvDuration("PROFILE_CACHE_TTL", time.Minute),

		FlagRatePerMinute: GetEnvFloat("FLAG_RATE_PER_MINUTE", 6),
		FlagRateBurst:     GetEnvInt("FLAG_RATE_BURST", 3),

		ProactiveReviewThreshold: GetEnvInt("PROACTIVE_REVIEW_THRESHOLD", 50),
		RecomputeReactionDelta:   GetEnvInt("RECOMPUTE_REACTION_DELTA", 10),
		TrustRecomputeInterval:   GetEnvDuration("TRUST_RECOMPUTE_INTERVAL", 10*time.Minute),
	}
}

// GetEnv gets an environment variable with a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvDuration accepts Go duration strings ("2s", "10m"). "0" disables.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if value == "0" {
			return 0
		}
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetLogLevel gets the log level from environment
func GetLogLevel() logrus.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
