// Package config provides application configuration management.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BuildBaseURL is the API base baked in at build time:
//
//	go build -ldflags "-X github.com/kolibri-omega/kolibri-studio/config.BuildBaseURL=https://node.example"
var BuildBaseURL string

// Config holds all application configuration.
type Config struct {
	// Client configuration
	APIBase         string
	Origin          string
	Timeout         time.Duration
	Token           string
	Headers         map[string]string
	PreferWebSocket bool
	PollInterval    time.Duration

	// Dev node configuration
	ListenAddr     string
	APIToken       string
	MetricsEnabled bool
	StreamDelay    time.Duration

	// Trace recording
	StatePath   string
	StoreDriver string
	StoreDSN    string

	// Redis / events configuration
	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool
	EventsChannel string

	LogLevel string
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	statePath := getEnv("KOLIBRI_STATE_PATH", defaultStatePath())
	storeDriver := getEnv("KOLIBRI_STORE_DRIVER", "sqlite")
	storeDSN := getEnv("KOLIBRI_STORE_DSN", "")
	if storeDSN == "" && storeDriver == "sqlite" {
		storeDSN = filepath.Join(statePath, "traces.db")
	}
	if storeDriver == "postgres" && storeDSN == "" {
		storeDSN = os.Getenv("POSTGRES_DSN")
	}
	apiBase := getEnv("KOLIBRI_API_BASE", os.Getenv("VITE_API_BASE"))
	return &Config{
		APIBase:         apiBase,
		Origin:          getEnv("KOLIBRI_ORIGIN", ""),
		Timeout:         getEnvDuration("KOLIBRI_TIMEOUT", 15*time.Second),
		Token:           os.Getenv("KOLIBRI_TOKEN"),
		Headers:         parseHeaders(os.Getenv("KOLIBRI_HEADERS")),
		PreferWebSocket: getEnvBool("KOLIBRI_PREFER_WEBSOCKET", false),
		PollInterval:    getEnvDuration("KOLIBRI_POLL_INTERVAL", 5*time.Second),
		ListenAddr:      getEnv("KOLIBRI_LISTEN_ADDR", ":8080"),
		APIToken:        os.Getenv("KOLIBRI_API_TOKEN"),
		MetricsEnabled:  getEnvBool("KOLIBRI_METRICS_ENABLED", true),
		StreamDelay:     getEnvDuration("KOLIBRI_STREAM_DELAY", 150*time.Millisecond),
		StatePath:       statePath,
		StoreDriver:     storeDriver,
		StoreDSN:        storeDSN,
		RedisAddr:       getEnv("KOLIBRI_REDIS_ADDR", ""),
		RedisUsername:   getEnv("KOLIBRI_REDIS_USERNAME", ""),
		RedisPassword:   os.Getenv("KOLIBRI_REDIS_PASSWORD"),
		RedisDB:         getEnvInt("KOLIBRI_REDIS_DB", 0),
		RedisTLS:        getEnvBool("KOLIBRI_REDIS_TLS", false),
		EventsChannel:   getEnv("KOLIBRI_EVENTS_CHANNEL", "kolibri-trace-events"),
		LogLevel:        getEnv("KOLIBRI_LOG_LEVEL", "info"),
	}
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".kolibri"
	}
	return filepath.Join(dir, "kolibri")
}

// parseHeaders reads "Key=Value,Key2=Value2". Malformed pairs are logged and skipped.
func parseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			log.Printf("Invalid header pair in KOLIBRI_HEADERS: %q", pair)
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
