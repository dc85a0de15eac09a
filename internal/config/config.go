package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL         string
	RedisAddr           string
	ServerAddr          string
	MigrationsDir       string
	SessionTTL          time.Duration
	SessionCookieName   string
	SessionCookieSecure bool
	ExpirySweepInterval time.Duration
	SessionPurgeEvery   time.Duration
}

// Load reads configuration from environment. RedisAddr left empty
// selects the in-process idempotency store.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "campusswap")
		pass := getenv("POSTGRES_PASSWORD", "campusswap_pass")
		db := getenv("POSTGRES_DB", "campusswap")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}
	addr := getenv("SERVER_ADDR", "0.0.0.0:8080")
	redisAddr := os.Getenv("REDIS_ADDR")
	migrationsDir := getenv("MIGRATIONS_DIR", "internal/migrations")
	ttl := parseDuration(getenv("SESSION_TTL", "24h"), 24*time.Hour)
	cookieName := getenv("SESSION_COOKIE_NAME", "campusswap_session")
	cookieSecure := parseBool(getenv("SESSION_COOKIE_SECURE", "false"), false)
	sweep := parseDuration(getenv("LISTING_EXPIRY_SWEEP_INTERVAL", "1m"), time.Minute)
	purge := parseDuration(getenv("SESSION_PURGE_INTERVAL", "10m"), 10*time.Minute)

	return &Config{
		DatabaseURL:         dsn,
		RedisAddr:           redisAddr,
		ServerAddr:          addr,
		MigrationsDir:       migrationsDir,
		SessionTTL:          ttl,
		SessionCookieName:   cookieName,
		SessionCookieSecure: cookieSecure,
		ExpirySweepInterval: sweep,
		SessionPurgeEvery:   purge,
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}
