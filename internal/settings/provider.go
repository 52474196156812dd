// Package settings serves the operator policy and the operating timezone from
// the settings store through a short-lived cache.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"antiddos/internal/cache"
	"antiddos/internal/models"
	"antiddos/internal/storage"
)

// ErrInvalidTimezone is returned by SetTimezone for a name that is not a known IANA location.
var ErrInvalidTimezone = errors.New("invalid timezone")

// Options configures a Provider.
type Options struct {
	ServiceID        string
	CoreServiceID    string
	FallbackTimezone string
	CacheTTL         time.Duration
	Logger           *slog.Logger
}

// Provider loads settings snapshots. Writes made through any provider sharing
// the cache invalidate the cached snapshot, and a load that raced with a write
// never repopulates the cache with the value read before the write.
type Provider struct {
	store    storage.SettingsStore
	cache    cache.Cache
	ttl      time.Duration
	service  string
	core     string
	fallback *time.Location
	logger   *slog.Logger
}

func NewProvider(store storage.SettingsStore, c cache.Cache, opts Options) (*Provider, error) {
	if opts.ServiceID == "" || opts.CoreServiceID == "" {
		return nil, fmt.Errorf("service id and core service id are required")
	}
	if c == nil {
		c = cache.Noop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fallback := time.UTC
	if opts.FallbackTimezone != "" {
		loc, err := time.LoadLocation(opts.FallbackTimezone)
		if err != nil {
			return nil, fmt.Errorf("invalid fallback timezone %q: %w", opts.FallbackTimezone, err)
		}
		fallback = loc
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &Provider{
		store:    store,
		cache:    c,
		ttl:      ttl,
		service:  opts.ServiceID,
		core:     opts.CoreServiceID,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// Snapshot returns the current policy. Malformed stored values fall back to
// defaults; only a storage failure is returned as an error.
func (p *Provider) Snapshot(ctx context.Context) (models.Settings, error) {
	raw, fromStore, err := p.load(ctx, p.service)
	if err != nil {
		return models.Settings{}, err
	}
	s, fallbacks := models.ParseSettings(raw)
	if fromStore && len(fallbacks) > 0 {
		p.logger.Warn("Malformed settings replaced by defaults", "service", p.service, "keys", fallbacks)
	}
	return s, nil
}

// Save writes raw values into the service scope and invalidates the cached snapshot.
func (p *Provider) Save(ctx context.Context, raw map[string]string) error {
	if err := p.store.SetSettings(ctx, p.service, raw); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	p.invalidate(ctx, p.service)
	return nil
}

// SeedDefaults stores the initial settings when the service scope is empty.
// It reports whether anything was written.
func (p *Provider) SeedDefaults(ctx context.Context) (bool, error) {
	current, err := p.store.GetSettings(ctx, p.service)
	if err != nil {
		return false, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(current) > 0 {
		return false, nil
	}
	if err := p.Save(ctx, models.InitialSettings().ToMap()); err != nil {
		return false, err
	}
	return true, nil
}

// Timezone returns the operating timezone: the core scope's timezone key when it
// names a valid location, otherwise the configured fallback.
func (p *Provider) Timezone(ctx context.Context) *time.Location {
	raw, _, err := p.load(ctx, p.core)
	if err != nil {
		p.logger.Warn("Failed to load timezone, using fallback", "error", err, "fallback", p.fallback.String())
		return p.fallback
	}
	name := strings.TrimSpace(raw[models.SettingTimezone])
	if name == "" {
		return p.fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		p.logger.Warn("Invalid timezone setting, using fallback", "timezone", name, "fallback", p.fallback.String())
		return p.fallback
	}
	return loc
}

// SetTimezone validates and stores the operating timezone in the core scope.
func (p *Provider) SetTimezone(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if _, err := time.LoadLocation(name); err != nil || name == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	if err := p.store.SetSettings(ctx, p.core, map[string]string{models.SettingTimezone: name}); err != nil {
		return fmt.Errorf("failed to save timezone: %w", err)
	}
	p.invalidate(ctx, p.core)
	return nil
}

// load returns the raw scope map and whether it came from the store.
func (p *Provider) load(ctx context.Context, scope string) (map[string]string, bool, error) {
	raw, hit, err := p.cache.Get(ctx, scope)
	if err != nil {
		p.logger.Warn("Settings cache read failed", "scope", scope, "error", err)
	}
	if hit {
		return raw, false, nil
	}

	version, verr := p.cache.Version(ctx, scope)
	if verr != nil {
		p.logger.Warn("Settings cache version read failed", "scope", scope, "error", verr)
	}

	raw, err = p.store.GetSettings(ctx, scope)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load settings for %s: %w", scope, err)
	}

	if verr == nil {
		if _, err := p.cache.Fill(ctx, scope, raw, p.ttl, version); err != nil {
			p.logger.Warn("Settings cache write failed", "scope", scope, "error", err)
		}
	}

	return raw, true, nil
}

func (p *Provider) invalidate(ctx context.Context, scope string) {
	if err := p.cache.Invalidate(ctx, scope); err != nil {
		p.logger.Warn("Settings cache invalidation failed", "scope", scope, "error", err)
	}
}
