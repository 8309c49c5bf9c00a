// Package config centralises configuration parsing for the treniren binaries.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration values shared by the proxy, CLI and reference API.
type Config struct {
	HTTPAddress    string
	UpstreamURL    string // Origin of the treniren web app fronted by the offline proxy.
	APIBaseURL     string // Base URL the reconciler submits workouts to.
	StorePath      string
	CachePath      string
	ManifestPath   string
	CacheVersion   int
	ProbeURL       string
	ProbeInterval  time.Duration
	PollInterval   time.Duration // Connectivity re-poll interval while offline.
	SessionToken   string
	CSRFToken      string
	KafkaBrokers   []string
	EventTopic     string
	JWTSecret      string
	JWTIssuer      string
	PostgresURL    string
	MetricsAddress string
	LogLevel       string
}

// Load reads an optional dotenv file and then environment variables into Config,
// applying defaults suitable for local development.
func Load() Config {
	envFile := getEnv("TRENIREN_ENV_FILE", ".env")
	// A missing dotenv file is the normal case outside development.
	_ = godotenv.Load(envFile)

	cfg := Config{
		HTTPAddress:    getEnv("HTTP_ADDRESS", ":8080"),
		UpstreamURL:    getEnv("UPSTREAM_URL", "http://localhost:3000"),
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:3000"),
		StorePath:      getEnv("STORE_PATH", "treniren-offline.db"),
		CachePath:      getEnv("CACHE_PATH", "treniren-cache.db"),
		ManifestPath:   getEnv("MANIFEST_PATH", ""),
		CacheVersion:   getIntEnv("CACHE_VERSION", 0),
		ProbeURL:       getEnv("PROBE_URL", ""),
		ProbeInterval:  getDurationEnv("PROBE_INTERVAL", 5*time.Second),
		PollInterval:   getDurationEnv("OFFLINE_POLL_INTERVAL", 5*time.Second),
		SessionToken:   getEnv("SESSION_TOKEN", ""),
		CSRFToken:      getEnv("CSRF_TOKEN", ""),
		EventTopic:     getEnv("EVENT_TOPIC", "workout_state_changed"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:      getEnv("JWT_ISSUER", "treniren"),
		PostgresURL:    getEnv("POSTGRES_URL", ""),
		MetricsAddress: getEnv("METRICS_ADDRESS", ":9195"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", ""))
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = strings.TrimRight(cfg.UpstreamURL, "/") + "/healthz"
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
