package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	Port         int
	WSPath       string
	CookieSecure bool

	// Database
	DBPath string

	// Logging
	LogLevel slog.Level

	// Stamp requests
	RequestTTL       time.Duration
	ReapInterval     time.Duration
	DefaultThreshold int

	// Telegram
	BotToken string
}

func Load() *Config {
	return &Config{
		// HTTP
		Port:         getEnvInt("PORT", 3000),
		WSPath:       getEnv("WS_PATH", "/_ws"),
		CookieSecure: getEnvBool("COOKIE_SECURE", false),

		// Database
		DBPath: getEnv("DB_PATH", "./brewstamp.db"),

		// Logging
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),

		// Stamp requests
		RequestTTL:       getEnvDuration("REQUEST_TTL", 5*time.Minute),
		ReapInterval:     getEnvDuration("REAP_INTERVAL", 30*time.Second),
		DefaultThreshold: getEnvInt("DEFAULT_THRESHOLD", 8),

		// Telegram
		BotToken: getEnv("BOT_TOKEN", ""),
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT out of range: %d", c.Port)
	case !strings.HasPrefix(c.WSPath, "/"):
		return fmt.Errorf("WS_PATH must start with /: %q", c.WSPath)
	case c.RequestTTL <= 0:
		return errors.New("REQUEST_TTL must be positive")
	case c.ReapInterval <= 0:
		return errors.New("REAP_INTERVAL must be positive")
	case c.DefaultThreshold <= 0:
		return errors.New("DEFAULT_THRESHOLD must be positive")
	}
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
