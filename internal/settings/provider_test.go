package settings

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"antiddos/internal/cache"
	"antiddos/internal/models"
	"antiddos/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSettingsStore struct {
	mock.Mock
}

func (m *mockSettingsStore) GetSettings(ctx context.Context, scope string) (map[string]string, error) {
	args := m.Called(ctx, scope)
	if v := args.Get(0); v != nil {
		return v.(map[string]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSettingsStore) SetSettings(ctx context.Context, scope string, values map[string]string) error {
	return m.Called(ctx, scope, values).Error(0)
}

// pausingStore runs pause once, after a read and before returning it.
type pausingStore struct {
	storage.SettingsStore
	pause func()
}

func (s *pausingStore) GetSettings(ctx context.Context, scope string) (map[string]string, error) {
	raw, err := s.SettingsStore.GetSettings(ctx, scope)
	if pause := s.pause; pause != nil {
		s.pause = nil
		pause()
	}
	return raw, err
}

func newTestProvider(t *testing.T, store storage.SettingsStore, c cache.Cache) *Provider {
	t.Helper()
	p, err := NewProvider(store, c, Options{
		ServiceID:        "anti-ddos",
		CoreServiceID:    "core",
		FallbackTimezone: "UTC",
		CacheTTL:         time.Minute,
	})
	require.NoError(t, err)
	return p
}

func TestProviderSnapshotUsesCache(t *testing.T) {
	ctx := context.Background()
	store := &mockSettingsStore{}
	store.On("GetSettings", mock.Anything, "anti-ddos").
		Return(map[string]string{"enabled": "1", "max_requests_per_minute": "5"}, nil).Once()

	p := newTestProvider(t, store, cache.NewMemory())

	for i := 0; i < 3; i++ {
		s, err := p.Snapshot(ctx)
		require.NoError(t, err)
		assert.True(t, s.Enabled)
		assert.Equal(t, 5, s.MaxRequestsPerMinute)
	}
	store.AssertExpectations(t)
}

func TestProviderSaveInvalidates(t *testing.T) {
	ctx := context.Background()
	mem, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	p := newTestProvider(t, mem, cache.NewMemory())

	s, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, s.Enabled)

	require.NoError(t, p.Save(ctx, map[string]string{"enabled": "1", "whitelist_ips": `["10.0.0.1","10.0.0.2"]`}))

	s, err = p.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, s.Enabled)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, s.AllowList)
}

func TestProviderStaleLoadDoesNotRepopulate(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	store := &mockSettingsStore{}
	p := newTestProvider(t, store, c)

	// The load reads the old value, then a save lands before the load fills the cache.
	store.On("GetSettings", mock.Anything, "anti-ddos").
		Run(func(mock.Arguments) { p.invalidate(ctx, "anti-ddos") }).
		Return(map[string]string{"enabled": "0"}, nil).Once()

	_, err := p.Snapshot(ctx)
	require.NoError(t, err)

	_, hit, err := c.Get(ctx, "anti-ddos")
	require.NoError(t, err)
	assert.False(t, hit, "a load that raced with a save must not be cached")
}

func TestProviderSharedCacheKeepsOwnSave(t *testing.T) {
	ctx := context.Background()
	mem, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	require.NoError(t, mem.SetSettings(ctx, "anti-ddos", map[string]string{"enabled": "0"}))

	shared := cache.NewMemory()
	a := newTestProvider(t, mem, shared)
	slow := &pausingStore{SettingsStore: mem}
	b := newTestProvider(t, slow, shared)

	// b has read enabled=0 when a saves and invalidates the shared entry.
	slow.pause = func() {
		require.NoError(t, a.Save(ctx, map[string]string{"enabled": "1"}))
	}
	s, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, s.Enabled)

	s, err = a.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, s.Enabled, "a sees its own save")

	s, err = b.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, s.Enabled)
}

func TestProviderSnapshotStoreError(t *testing.T) {
	store := &mockSettingsStore{}
	store.On("GetSettings", mock.Anything, "anti-ddos").Return(nil, errors.New("db down"))

	p := newTestProvider(t, store, cache.Noop{})
	_, err := p.Snapshot(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestProviderSeedDefaults(t *testing.T) {
	ctx := context.Background()
	mem, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	p := newTestProvider(t, mem, cache.NewMemory())

	seeded, err := p.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	s, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.InitialSettings(), s)

	require.NoError(t, p.Save(ctx, map[string]string{"enabled": "0"}))
	seeded, err = p.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.False(t, seeded, "existing settings are never overwritten")

	s, err = p.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, s.Enabled)
}

func TestProviderTimezone(t *testing.T) {
	ctx := context.Background()
	mem, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	p, err := NewProvider(mem, cache.NewMemory(), Options{
		ServiceID:        "anti-ddos",
		CoreServiceID:    "core",
		FallbackTimezone: "Europe/Kyiv",
	})
	require.NoError(t, err)

	assert.Equal(t, "Europe/Kyiv", p.Timezone(ctx).String())

	require.NoError(t, p.SetTimezone(ctx, "America/New_York"))
	assert.Equal(t, "America/New_York", p.Timezone(ctx).String())

	assert.ErrorIs(t, p.SetTimezone(ctx, "Not/AZone"), ErrInvalidTimezone)
	assert.Error(t, p.SetTimezone(ctx, ""))

	require.NoError(t, mem.SetSettings(ctx, "core", map[string]string{"timezone": "garbage"}))
	p.invalidate(ctx, "core")
	assert.Equal(t, "Europe/Kyiv", p.Timezone(ctx).String(), "invalid stored timezone falls back")
}

func TestNewProviderValidation(t *testing.T) {
	_, err := NewProvider(&mockSettingsStore{}, nil, Options{})
	assert.Error(t, err)

	_, err = NewProvider(&mockSettingsStore{}, nil, Options{ServiceID: "a", CoreServiceID: "b", FallbackTimezone: "Nowhere/Else"})
	assert.Error(t, err)
}
