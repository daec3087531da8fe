package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the server, read from the environment.
type Config struct {
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	FreeUsageLimit int64 `mapstructure:"FREE_USAGE_LIMIT"`
	DevMode        bool  `mapstructure:"DEV_MODE"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	RedisURL       string        `mapstructure:"REDIS_URL"`
	StatusCacheTTL time.Duration `mapstructure:"STATUS_CACHE_TTL"`

	AppleSharedSecret  string        `mapstructure:"APPLE_SHARED_SECRET"`
	AppleVerifyTimeout time.Duration `mapstructure:"APPLE_VERIFY_TIMEOUT"`

	ArkAPIKey   string        `mapstructure:"ARK_API_KEY"`
	ArkEndpoint string        `mapstructure:"ARK_ENDPOINT"`
	ArkModel    string        `mapstructure:"ARK_MODEL"`
	ArkTimeout  time.Duration `mapstructure:"ARK_TIMEOUT"`

	MaxImageSizeMB int64    `mapstructure:"MAX_IMAGE_SIZE_MB"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
}

var defaults = map[string]any{
	"PORT":                 "8000",
	"LOG_LEVEL":            "info",
	"FREE_USAGE_LIMIT":     1,
	"DEV_MODE":             false,
	"DATABASE_DRIVER":      driverSQLite,
	"DATABASE_URL":         "watermark.db",
	"REDIS_URL":            "",
	"STATUS_CACHE_TTL":     "30s",
	"APPLE_SHARED_SECRET":  "",
	"APPLE_VERIFY_TIMEOUT": "30s",
	"ARK_API_KEY":          "",
	"ARK_ENDPOINT":         "https://ark.cn-beijing.volces.com/api/v3",
	"ARK_MODEL":            "doubao-seedream-4-5-251128",
	"ARK_TIMEOUT":          "120s",
	"MAX_IMAGE_SIZE_MB":    10,
	"CORS_ORIGINS":         "",
}

// LoadConfig reads configuration from environment variables. A .env file in
// the working directory is loaded first when present; real environment
// variables take precedence over it.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
		// Bind explicitly so every key appears in Unmarshal.
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.CORSOrigins = splitOrigins(cfg.CORSOrigins)

	if cfg.FreeUsageLimit < 0 {
		return Config{}, fmt.Errorf("config: FREE_USAGE_LIMIT must not be negative, got %d", cfg.FreeUsageLimit)
	}
	switch cfg.DatabaseDriver {
	case driverSQLite, driverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("config: DATABASE_URL is required for driver %q", cfg.DatabaseDriver)
		}
	case driverMemory:
	default:
		return Config{}, fmt.Errorf("config: unknown DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.MaxImageSizeMB <= 0 {
		return Config{}, fmt.Errorf("config: MAX_IMAGE_SIZE_MB must be positive, got %d", cfg.MaxImageSizeMB)
	}
	return cfg, nil
}

// Level parses LogLevel, defaulting to info.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// MaxImageBytes converts MaxImageSizeMB to bytes.
func (c Config) MaxImageBytes() int64 { return c.MaxImageSizeMB << 20 }

// splitOrigins accepts both a viper-split slice and a single comma separated value.
func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, o := range strings.Split(item, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}
