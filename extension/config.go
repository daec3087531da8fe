package extension

import "time"

// Store driver names accepted in Config.StoreDriver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the paywall extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.paywall" or "paywall" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for paywall routes (default: "/paywall").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// FreeUsageLimit is the number of free edits per install (default: 1).
	FreeUsageLimit int64 `json:"free_usage_limit" mapstructure:"free_usage_limit" yaml:"free_usage_limit"`

	// DevBypass authorizes every use without counting it. Never enable in production.
	DevBypass bool `json:"dev_bypass" mapstructure:"dev_bypass" yaml:"dev_bypass"`

	// StatusCacheTTL controls how long entitlement snapshots are cached
	// (default: 30s). Only used with a cache passed to WithStatusCache.
	StatusCacheTTL time.Duration `json:"status_cache_ttl" mapstructure:"status_cache_ttl" yaml:"status_cache_ttl"`

	// MaxImageBytes caps the decoded image of an edit request (default: 10MiB).
	MaxImageBytes int64 `json:"max_image_bytes" mapstructure:"max_image_bytes" yaml:"max_image_bytes"`

	// StoreDriver selects the backend built around a grove.DB passed with
	// WithGroveDB: "postgres", "sqlite" or "mongo". Ignored without one.
	StoreDriver string `json:"store_driver" mapstructure:"store_driver" yaml:"store_driver"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:       "/paywall",
		FreeUsageLimit: 1,
		StatusCacheTTL: 30 * time.Second,
		MaxImageBytes:  10 << 20,
		StoreDriver:    DriverMemory,
	}
}
