package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPPort   string
	InstanceID string
	LogLevel   string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Write-behind buffer
	FlushInterval  time.Duration
	SnapshotWindow time.Duration

	// Metadata cache
	CacheSize int
	CacheTTL  time.Duration

	// Per-connection rate limit for proximity work
	RateLimitPoints int
	RateLimitWindow time.Duration

	// Proximity
	NearbyRadiusMeters float64
	CoordPrecision     int

	// Fan-out
	SendBufferSize   int
	RelayChannelSize int

	// Auth
	AuthCacheTTL time.Duration
	StaticTokens map[string]string

	// Push
	FCMCredentialsFile string
}

func Load() *Config {
	return &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8002"),
		InstanceID:         getEnv("INSTANCE_ID", hostname()),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "5432"),
		DBUser:             getEnv("DB_USER", "fleet_user"),
		DBPassword:         getEnv("DB_PASSWORD", "fleet_password"),
		DBName:             getEnv("DB_NAME", "fleet_monitor"),
		DBMaxConns:         int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		FlushInterval:      getEnvDuration("FLUSH_INTERVAL_MS", 10000, time.Millisecond),
		SnapshotWindow:     getEnvDuration("SNAPSHOT_WINDOW_MINUTES", 15, time.Minute),
		CacheSize:          getEnvInt("CACHE_SIZE", 500),
		CacheTTL:           getEnvDuration("CACHE_TTL_SECONDS", 1800, time.Second),
		RateLimitPoints:    getEnvInt("RATE_LIMIT_POINTS", 10),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW_SECONDS", 5, time.Second),
		NearbyRadiusMeters: getEnvFloat("NEARBY_RADIUS_METERS", 400),
		CoordPrecision:     getEnvInt("COORD_PRECISION", 5),
		SendBufferSize:     getEnvInt("SEND_BUFFER_SIZE", 256),
		RelayChannelSize:   getEnvInt("RELAY_CHANNEL_SIZE", 1024),
		AuthCacheTTL:       getEnvDuration("AUTH_CACHE_TTL_SECONDS", 300, time.Second),
		StaticTokens:       parseTokens(getEnv("STATIC_TOKENS", "")),
		FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
	}
}

// parseTokens reads "token=subject:role:space" pairs separated by commas.
// Static tokens are meant for local runs and load tests.
func parseTokens(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, identity, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" || identity == "" {
			continue
		}
		out[token] = identity
	}
	return out
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "realtime-0"
	}
	return h
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration ignores values that are not positive; every duration here
// drives a ticker, TTL or window.
func getEnvDuration(key string, fallback int, unit time.Duration) time.Duration {
	n := getEnvInt(key, fallback)
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * unit
}
