package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration.
type Config struct {
	Port     string
	LogLevel string

	StorefrontURL string
	Shop          string
	CartPath      string
	LookupPaths   []string

	CacheTTL      time.Duration
	SnapshotTTL   time.Duration
	SettleDelay   time.Duration
	Throttle      time.Duration
	SafetyTimeout time.Duration
	PollInterval  time.Duration
	LookupRPS     float64

	SessionStore string // "memory" | "redis" | "sqlite"
	RedisAddr    string
	SQLitePath   string

	ThemeProfile string

	LimitsDatabaseURL string

	OTelEnabled  bool
	OTelEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:     getenvDefault("PORT", "8080"),
		LogLevel: getenvDefault("LOG_LEVEL", "INFO"),

		StorefrontURL: strings.TrimRight(getenvDefault("CARTGUARD_STOREFRONT_URL", "http://localhost:3000"), "/"),
		Shop:          os.Getenv("CARTGUARD_SHOP"),
		CartPath:      getenvDefault("CARTGUARD_CART_PATH", "/cart.js"),
		LookupPaths:   splitList(getenvDefault("CARTGUARD_LOOKUP_PATHS", "/apps/order-limits/limits,/apps/order-limits/api/limits")),

		CacheTTL:      getenvDuration("CARTGUARD_CACHE_TTL", 5*time.Minute),
		SnapshotTTL:   getenvDuration("CARTGUARD_SNAPSHOT_TTL", 5*time.Minute),
		SettleDelay:   getenvDuration("CARTGUARD_SETTLE_DELAY", 500*time.Millisecond),
		Throttle:      getenvDuration("CARTGUARD_THROTTLE", 50*time.Millisecond),
		SafetyTimeout: getenvDuration("CARTGUARD_SAFETY_TIMEOUT", 4*time.Second),
		PollInterval:  getenvDuration("CARTGUARD_POLL_INTERVAL", 30*time.Second),
		LookupRPS:     getenvFloat("CARTGUARD_LOOKUP_RPS", 10),

		SessionStore: getenvDefault("CARTGUARD_SESSION_STORE", "memory"),
		RedisAddr:    getenvDefault("REDIS_ADDR", "localhost:6379"),
		SQLitePath:   getenvDefault("SQLITE_PATH", "cartguard.db"),

		ThemeProfile: os.Getenv("THEME_PROFILE"),

		// Empty means the reference limit store runs in memory.
		LimitsDatabaseURL: os.Getenv("LIMITS_DATABASE_URL"),

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: getenvDefault("OTEL_ENDPOINT", "localhost:4317"),
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
