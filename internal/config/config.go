package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr      string
	HookToken string
	LogLevel  string
	// Redis Configuration
	RedisURLOverride string
	RedisHost        string
	RedisPort        int
	RedisPassword    string
	// Origin document service
	OriginBaseURL string
	OriginTimeout time.Duration
	OriginRPS     float64
	OriginBurst   int
	// Flush outbox, disabled if DatabaseURL is empty
	DatabaseURL   string
	MigrationsDir string
	FlushInterval time.Duration
	// Search, disabled if MeiliURL is empty
	MeiliURL       string
	MeiliMasterKey string
	// Snapshot archive, disabled if ArchiveEndpoint is empty
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool
}

func Load() Config {
	return Config{
		Addr:      getenv("DOCGATE_ADDR", ":1235"),
		HookToken: getenv("DOCGATE_HOOK_TOKEN", "docgate-hook-token"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		// Redis - REDIS_URL wins over the individual settings
		RedisURLOverride: getenv("REDIS_URL", ""),
		RedisHost:        getenv("REDIS_HOST", "localhost"),
		RedisPort:        getenvInt("REDIS_PORT", 6379),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
		OriginBaseURL:    strings.TrimRight(getenv("ORIGIN_BASE_URL", "http://localhost:9095/api/v1/editor"), "/"),
		OriginTimeout:    time.Duration(getenvInt("ORIGIN_TIMEOUT_SECONDS", 10)) * time.Second,
		OriginRPS:        getenvFloat("ORIGIN_RPS", 50),
		OriginBurst:      getenvInt("ORIGIN_BURST", 20),
		DatabaseURL:      getenv("DATABASE_URL", ""),
		MigrationsDir:    getenv("DOCGATE_MIGRATIONS_DIR", "./db/migrations"),
		FlushInterval:    time.Duration(getenvInt("DOCGATE_FLUSH_INTERVAL_SECONDS", 15)) * time.Second,
		MeiliURL:         getenv("MEILI_URL", ""),
		MeiliMasterKey:   getenv("MEILI_MASTER_KEY", ""),
		ArchiveEndpoint:  getenv("ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey: getenv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getenv("ARCHIVE_SECRET_KEY", ""),
		ArchiveBucket:    getenv("ARCHIVE_BUCKET", "docgate-archive"),
		ArchiveUseSSL:    getenvBool("ARCHIVE_USE_SSL", false),
	}
}

// RedisURL returns REDIS_URL when set, otherwise a URL built from host, port and password.
func (c Config) RedisURL() string {
	if strings.TrimSpace(c.RedisURLOverride) != "" {
		return c.RedisURLOverride
	}
	u := url.URL{
		Scheme: "redis",
		Host:   net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort)),
		Path:   "/0",
	}
	if c.RedisPassword != "" {
		u.User = url.UserPassword("", c.RedisPassword)
	}
	return u.String()
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

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
