package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/cache"
	"github.com/erasekit/paywall/edit"
	"github.com/erasekit/paywall/plugin"
	"github.com/erasekit/paywall/store"
)

// Option configures the paywall Forge extension.
type Option func(*Extension)

// WithStore sets the store for the paywall engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store from db using the backend named by driver.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.StoreDriver = driver
	}
}

// WithEngineOption passes a paywall.Option through to the underlying engine.
func WithEngineOption(opt paywall.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a paywall plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, paywall.WithPlugin(p))
	}
}

// WithEditor sets the edit collaborator used by the HTTP routes.
func WithEditor(ed edit.Editor) Option {
	return func(e *Extension) { e.editor = ed }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for paywall routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithFreeUsageLimit sets the number of free edits per install.
func WithFreeUsageLimit(limit int64) Option {
	return func(e *Extension) { e.config.FreeUsageLimit = limit }
}

// WithDevBypass turns the paywall off for development builds.
func WithDevBypass() Option {
	return func(e *Extension) { e.config.DevBypass = true }
}

// WithStatusCache puts c in front of status reads. Use a cache every replica
// shares, such as cache/redis. Without one, status reads go to the store.
func WithStatusCache(c cache.Cache) Option {
	return func(e *Extension) { e.cache = c }
}

// WithStatusCacheTTL sets the entitlement snapshot cache duration.
func WithStatusCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.StatusCacheTTL = d }
}

// WithMaxImageBytes sets the decoded image size limit for edits.
func WithMaxImageBytes(n int64) Option {
	return func(e *Extension) { e.config.MaxImageBytes = n }
}
