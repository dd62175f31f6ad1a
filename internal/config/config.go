package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DBDriver      string // postgres or sqlite
	DatabaseURL   string
	SessionSecret string
	RedisURL      string // empty: in-process feed
	FeedChannel   string
	LogLevel      string

	CacheTTL        time.Duration
	RecountInterval time.Duration
	RecountBatch    int
	NightlyRecount  bool

	// EnvFileLoaded reports whether a .env file was read.
	EnvFileLoaded bool
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	envFileErr := godotenv.Load()

	return Config{
		EnvFileLoaded:   envFileErr == nil,
		Port:            getenv("PORT", "8080"),
		DBDriver:        getenv("DB_DRIVER", "postgres"),
		DatabaseURL:     getenv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=civicmap port=5432 sslmode=disable"),
		SessionSecret:   getenv("SESSION_SECRET", "secret_key_change_me"),
		RedisURL:        getenv("REDIS_URL", ""),
		FeedChannel:     getenv("FEED_CHANNEL", "civicmap:changes"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		CacheTTL:        time.Duration(getenvInt("CACHE_TTL_SECONDS", 60)) * time.Second,
		RecountInterval: time.Duration(getenvInt("RECOUNT_INTERVAL_MS", 500)) * time.Millisecond,
		RecountBatch:    getenvInt("RECOUNT_BATCH", 50),
		NightlyRecount:  getenv("NIGHTLY_RECOUNT", "true") == "true",
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
