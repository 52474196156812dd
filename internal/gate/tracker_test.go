package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"antiddos/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{Type: "memory"})
	require.NoError(t, err)
	return store
}

func TestRateTracker_PerMinuteThreshold(t *testing.T) {
	ctx := context.Background()
	tracker := NewRateTracker(newMemoryStore(t))
	limits := Limits{PerMinute: 5, PerHour: 1000}
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		exceeded, err := tracker.RecordAndCheck(ctx, "203.0.113.5", base.Add(time.Duration(i)*time.Second), limits)
		require.NoError(t, err)
		assert.False(t, exceeded, "call %d", i)
	}

	exceeded, err := tracker.RecordAndCheck(ctx, "203.0.113.5", base.Add(6*time.Second), limits)
	require.NoError(t, err)
	assert.True(t, exceeded)
}

func TestRateTracker_FirstRequestCreatesRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	tracker := NewRateTracker(store)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	exceeded, err := tracker.RecordAndCheck(ctx, "203.0.113.5", now, Limits{PerMinute: 1, PerHour: 1})
	require.NoError(t, err)
	assert.False(t, exceeded)

	rec, err := tracker.Peek(ctx, "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.True(t, rec.WindowStart.Equal(now))
	assert.True(t, rec.LastSeen.Equal(now))
}

func TestRateTracker_MinuteGapRestartsCount(t *testing.T) {
	ctx := context.Background()
	tracker := NewRateTracker(newMemoryStore(t))
	limits := Limits{PerMinute: 2, PerHour: 1000}
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := tracker.RecordAndCheck(ctx, "a", base.Add(time.Duration(i)*time.Second), limits)
		require.NoError(t, err)
	}

	later := base.Add(2*time.Second + time.Minute)
	exceeded, err := tracker.RecordAndCheck(ctx, "a", later, limits)
	require.NoError(t, err)
	assert.False(t, exceeded)

	rec, err := tracker.Peek(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.True(t, rec.WindowStart.Equal(base), "window start is kept on a minute restart")
	assert.True(t, rec.LastSeen.Equal(later))
}

func TestRateTracker_HourRollover(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	tracker := NewRateTracker(store)
	limits := Limits{PerMinute: 1000, PerHour: 10}
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// A steady stream just under a minute apart keeps the counter growing.
	now := base
	for i := 0; i < 8; i++ {
		_, err := tracker.RecordAndCheck(ctx, "a", now, limits)
		require.NoError(t, err)
		now = now.Add(50 * time.Second)
	}

	rollover := base.Add(61 * time.Minute)
	exceeded, err := tracker.RecordAndCheck(ctx, "a", rollover, limits)
	require.NoError(t, err)
	assert.False(t, exceeded)

	rec, err := tracker.Peek(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.True(t, rec.WindowStart.Equal(rollover))
}

func TestRateTracker_PerHourThreshold(t *testing.T) {
	ctx := context.Background()
	tracker := NewRateTracker(newMemoryStore(t))
	limits := Limits{PerMinute: 1000, PerHour: 3}
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	var exceeded bool
	var err error
	for i := 0; i < 4; i++ {
		exceeded, err = tracker.RecordAndCheck(ctx, "a", base.Add(time.Duration(i)*30*time.Second), limits)
		require.NoError(t, err)
	}
	assert.True(t, exceeded)
}

func TestRateTracker_ConcurrentRequestsAreNotUndercounted(t *testing.T) {
	ctx := context.Background()
	tracker := NewRateTracker(newMemoryStore(t))
	limits := Limits{PerMinute: 1_000_000, PerHour: 1_000_000}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	const workers = 50
	const perWorker = 20

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := tracker.RecordAndCheck(ctx, "198.51.100.7", now, limits)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	rec, err := tracker.Peek(ctx, "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, rec.Count)
}

func TestRateTracker_PeekUnknownAddress(t *testing.T) {
	tracker := NewRateTracker(newMemoryStore(t))
	_, err := tracker.Peek(context.Background(), "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
