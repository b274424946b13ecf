package config

import (
	"log/slog"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "WS_PATH", "COOKIE_SECURE", "DB_PATH", "LOG_LEVEL", "REQUEST_TTL", "REAP_INTERVAL", "DEFAULT_THRESHOLD", "BOT_TOKEN"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	want := Config{
		Port:             3000,
		WSPath:           "/_ws",
		DBPath:           "./brewstamp.db",
		LogLevel:         slog.LevelInfo,
		RequestTTL:       5 * time.Minute,
		ReapInterval:     30 * time.Second,
		DefaultThreshold: 8,
	}
	if *cfg != want {
		t.Errorf("Load() = %+v, want %+v", *cfg, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("WS_PATH", "/relay")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REQUEST_TTL", "90s")
	t.Setenv("DEFAULT_THRESHOLD", "10")
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg := Load()
	if cfg.Port != 8080 || cfg.WSPath != "/relay" || !cfg.CookieSecure {
		t.Errorf("http settings = %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.RequestTTL != 90*time.Second || cfg.DefaultThreshold != 10 {
		t.Errorf("settings = %+v", cfg)
	}
	if cfg.BotToken != "123:abc" {
		t.Errorf("BotToken = %q", cfg.BotToken)
	}
}

func TestLoadIgnoresMalformed(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")
	t.Setenv("REQUEST_TTL", "soon")
	t.Setenv("COOKIE_SECURE", "maybe")
	t.Setenv("LOG_LEVEL", "loud")

	cfg := Load()
	if cfg.Port != 3000 || cfg.RequestTTL != 5*time.Minute || cfg.CookieSecure || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Load() = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"ws path", func(c *Config) { c.WSPath = "ws" }},
		{"ttl", func(c *Config) { c.RequestTTL = 0 }},
		{"interval", func(c *Config) { c.ReapInterval = -time.Second }},
		{"threshold", func(c *Config) { c.DefaultThreshold = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}
