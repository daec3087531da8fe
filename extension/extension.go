// Package extension provides the Forge extension adapter for the paywall.
//
// It implements the forge.Extension interface to run the paywall engine
// inside a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.paywall" or "paywall" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/api"
	"github.com/erasekit/paywall/cache"
	"github.com/erasekit/paywall/edit"
	"github.com/erasekit/paywall/store"
	"github.com/erasekit/paywall/store/memory"
	mongostore "github.com/erasekit/paywall/store/mongo"
	pgstore "github.com/erasekit/paywall/store/postgres"
	sqlitestore "github.com/erasekit/paywall/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "paywall"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Free quota, credits and in-app purchase entitlements"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the paywall engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *paywall.Engine
	handler    *api.Handler
	store      store.Store
	groveDB    *grove.DB
	cache      cache.Cache
	editor     edit.Editor
	engineOpts []paywall.Option
}

// New creates a new paywall Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine. This is nil until Register is called.
func (e *Extension) Engine() *paywall.Engine { return e.engine }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := newStore(e.config.StoreDriver, e.groveDB)
		if err != nil {
			return err
		}
		e.store = s
	}

	e.engine = paywall.New(e.store, e.buildEngineOpts()...)

	handlerOpts := []api.Option{api.WithMaxImageBytes(e.config.MaxImageBytes)}
	if e.editor != nil {
		handlerOpts = append(handlerOpts, api.WithEditor(e.editor))
	}
	e.handler = api.NewHandler(e.engine, handlerOpts...)

	if err := vessel.Provide(fapp.Container(), func() (*paywall.Engine, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	return vessel.Provide(fapp.Container(), func() (*api.Handler, error) {
		return e.handler, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("paywall: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("paywall: store not initialized")
	}
	return e.store.Ping(ctx)
}

// Handler returns the paywall routes mounted under BasePath, or nil when
// routes are disabled or the extension is not registered.
func (e *Extension) Handler() http.Handler {
	if e.handler == nil || e.config.DisableRoutes {
		return nil
	}
	return mount(e.config.BasePath, e.handler)
}

func mount(basePath string, h *api.Handler) http.Handler {
	if basePath == "" || basePath == "/" {
		return h.Handler()
	}
	r := chi.NewRouter()
	r.Route(basePath, h.Routes)
	return r
}

// newStore builds the backend named by driver. Without a grove database the
// memory store is used.
func newStore(driver string, db *grove.DB) (store.Store, error) {
	if db == nil {
		if driver != "" && driver != DriverMemory {
			return nil, fmt.Errorf("paywall: store driver %q needs a grove database", driver)
		}
		return memory.New(), nil
	}
	switch driver {
	case DriverPostgres:
		return pgstore.New(db), nil
	case DriverSQLite:
		return sqlitestore.New(db), nil
	case DriverMongo:
		return mongostore.New(db), nil
	default:
		return nil, fmt.Errorf("paywall: unknown store driver %q for grove database", driver)
	}
}

// buildEngineOpts constructs paywall.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []paywall.Option {
	opts := make([]paywall.Option, 0, len(e.engineOpts)+4)

	opts = append(opts,
		paywall.WithFreeUsageLimit(e.config.FreeUsageLimit),
		paywall.WithDevBypass(e.config.DevBypass),
	)
	// Replicas share one store, so only a host-supplied cache is used.
	if e.cache != nil && e.config.StatusCacheTTL > 0 {
		opts = append(opts,
			paywall.WithStatusCache(e.cache),
			paywall.WithStatusCacheTTL(e.config.StatusCacheTTL),
		)
	}

	// Pass-through options win over config-derived ones.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("paywall: configuration is required but not found in config files; " +
				"ensure 'extensions.paywall' or 'paywall' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("paywall: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("free_usage_limit", e.config.FreeUsageLimit),
		forge.F("dev_bypass", e.config.DevBypass),
		forge.F("status_cache_ttl", e.config.StatusCacheTTL),
		forge.F("store_driver", e.config.StoreDriver),
	)
	if e.config.DevBypass {
		e.Logger().Warn("paywall: dev bypass enabled, usage is not metered")
	}

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.paywall", "paywall"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("paywall: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("paywall: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.FreeUsageLimit == 0 {
		cfg.FreeUsageLimit = defaults.FreeUsageLimit
	}
	if cfg.StatusCacheTTL == 0 {
		cfg.StatusCacheTTL = defaults.StatusCacheTTL
	}
	if cfg.MaxImageBytes == 0 {
		cfg.MaxImageBytes = defaults.MaxImageBytes
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = defaults.StoreDriver
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DevBypass {
		yamlConfig.DevBypass = true
	}

	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.StoreDriver == "" && programmaticConfig.StoreDriver != "" {
		yamlConfig.StoreDriver = programmaticConfig.StoreDriver
	}

	if yamlConfig.FreeUsageLimit == 0 && programmaticConfig.FreeUsageLimit != 0 {
		yamlConfig.FreeUsageLimit = programmaticConfig.FreeUsageLimit
	}
	if yamlConfig.StatusCacheTTL == 0 && programmaticConfig.StatusCacheTTL != 0 {
		yamlConfig.StatusCacheTTL = programmaticConfig.StatusCacheTTL
	}
	if yamlConfig.MaxImageBytes == 0 && programmaticConfig.MaxImageBytes != 0 {
		yamlConfig.MaxImageBytes = programmaticConfig.MaxImageBytes
	}

	return mergeWithDefaults(yamlConfig)
}
