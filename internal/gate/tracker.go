package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"antiddos/internal/models"
	"antiddos/internal/storage"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 256

// Limits are the thresholds a RateTracker checks against.
type Limits struct {
	PerMinute int
	PerHour   int
}

// RateTracker keeps one rolling counter per address. The read-modify-write of a
// record runs under a lock shard chosen by the address hash, so concurrent
// requests from the same address are never undercounted within one process.
type RateTracker struct {
	store storage.RateRecordStore
	locks [lockShards]sync.Mutex
}

func NewRateTracker(store storage.RateRecordStore) *RateTracker {
	return &RateTracker{store: store}
}

func (t *RateTracker) lockFor(address string) *sync.Mutex {
	return &t.locks[xxhash.Sum64String(address)%lockShards]
}

// RecordAndCheck counts one request from address at now and reports whether the
// address has exceeded either threshold.
//
// One counter serves both thresholds. It restarts at 1 when the hour window
// (measured from WindowStart) has elapsed, and also when a minute has passed
// since the previous request; the latter keeps WindowStart. Restarts never
// report exceeded.
func (t *RateTracker) RecordAndCheck(ctx context.Context, address string, now time.Time, limits Limits) (bool, error) {
	mu := t.lockFor(address)
	mu.Lock()
	defer mu.Unlock()

	rec, err := t.store.GetRateRecord(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		rec = &models.RateRecord{Address: address, Count: 1, WindowStart: now, LastSeen: now}
		return false, t.save(ctx, rec)
	}
	if err != nil {
		return false, fmt.Errorf("load rate record: %w", err)
	}

	sinceLast := now.Sub(rec.LastSeen)
	minutes := int(now.Sub(rec.WindowStart) / time.Minute)

	if minutes >= 60 {
		rec.Count = 1
		rec.WindowStart = now
		rec.LastSeen = now
		return false, t.save(ctx, rec)
	}

	if sinceLast >= time.Minute {
		rec.Count = 1
		rec.LastSeen = now
		return false, t.save(ctx, rec)
	}

	rec.Count++
	rec.LastSeen = now
	if err := t.save(ctx, rec); err != nil {
		return false, err
	}

	return rec.Count > limits.PerMinute || rec.Count > limits.PerHour, nil
}

// Peek returns the stored record without counting a request.
func (t *RateTracker) Peek(ctx context.Context, address string) (*models.RateRecord, error) {
	return t.store.GetRateRecord(ctx, address)
}

func (t *RateTracker) save(ctx context.Context, rec *models.RateRecord) error {
	if err := t.store.SaveRateRecord(ctx, rec); err != nil {
		return fmt.Errorf("save rate record: %w", err)
	}
	return nil
}
