package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Exchange
	Symbol        string // e.g. "BTCUSDT"
	StreamHost    string // e.g. "wss://stream.binance.com:9443/ws"
	UseTestnet    bool
	BinanceKey    string
	BinanceSecret string

	// Infrastructure
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string

	// Relay
	RelayAddr       string // listen address for the fan-out websocket server
	RelayRetryDelay time.Duration
	AllowedOrigin   string

	// Indicator API
	APIAddr string

	// Ingestion
	RetryFloor        time.Duration
	RetryCeiling      time.Duration
	HeartbeatInterval time.Duration
	BackfillPageDelay time.Duration
	BackfillInterval  time.Duration

	LogLevel string
}

// Load reads configuration from a .env file (if present) and the environment,
// applying sensible defaults.
func Load() *Config {
	// Best effort: missing .env just means plain env vars are used.
	_ = godotenv.Load()

	return &Config{
		Symbol:        sanitizeSymbol(getEnv("SYMBOL", "BTC-USDT")),
		StreamHost:    getEnv("BINANCE_STREAM_HOST", "wss://stream.binance.com:9443/ws"),
		UseTestnet:    getBool("BINANCE_TESTNET", false),
		BinanceKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceSecret: getEnv("BINANCE_SECRET_KEY", ""),

		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		RelayAddr:       getEnv("RELAY_ADDR", ":3001"),
		RelayRetryDelay: getDuration("RELAY_RETRY_DELAY", time.Second),
		AllowedOrigin:   getEnv("RELAY_CORS_ORIGIN", "*"),

		APIAddr: getEnv("API_ADDR", ":8080"),

		RetryFloor:        getDuration("WS_RETRY_FLOOR", 1500*time.Millisecond),
		RetryCeiling:      getDuration("WS_RETRY_CEILING", 10*time.Second),
		HeartbeatInterval: getDuration("WS_HEARTBEAT", 30*time.Second),
		BackfillPageDelay: getDuration("BACKFILL_PAGE_DELAY", 500*time.Millisecond),
		BackfillInterval:  getDuration("BACKFILL_INTERVAL", 10*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// sanitizeSymbol strips separators so "BTC-USDT" becomes "BTCUSDT".
func sanitizeSymbol(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StreamURL returns the upstream kline websocket URL for the configured symbol.
func (c *Config) StreamURL() string {
	return c.StreamHost + "/" + strings.ToLower(c.Symbol) + "@kline_1m"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using default", key, v)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid duration for %s: %q, using default", key, v)
		return fallback
	}
	return d
}
