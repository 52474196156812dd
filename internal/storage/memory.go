package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"antiddos/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and single-process deployments
// where losing counters on restart is acceptable.
type MemoryStorage struct {
	mu    sync.RWMutex
	state *memoryState
}

// memoryState is the plain data shared by the memory and JSON backends.
// Callers hold the owning backend's lock.
type memoryState struct {
	Settings    map[string]map[string]string  `json:"settings"`
	RateRecords map[string]*models.RateRecord `json:"rate_records"`
	BlockEvents []*models.BlockEvent          `json:"block_events"`
}

func newMemoryState() *memoryState {
	return &memoryState{
		Settings:    make(map[string]map[string]string),
		RateRecords: make(map[string]*models.RateRecord),
		BlockEvents: []*models.BlockEvent{},
	}
}

// normalize fills nil maps left by a decoded document.
func (s *memoryState) normalize() {
	if s.Settings == nil {
		s.Settings = make(map[string]map[string]string)
	}
	if s.RateRecords == nil {
		s.RateRecords = make(map[string]*models.RateRecord)
	}
	if s.BlockEvents == nil {
		s.BlockEvents = []*models.BlockEvent{}
	}
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{state: newMemoryState()}, nil
}

func (m *MemoryStorage) GetSettings(ctx context.Context, scope string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getSettings(scope), nil
}

func (m *MemoryStorage) SetSettings(ctx context.Context, scope string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.setSettings(scope, values)
	return nil
}

func (m *MemoryStorage) GetRateRecord(ctx context.Context, address string) (*models.RateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getRateRecord(address)
}

func (m *MemoryStorage) SaveRateRecord(ctx context.Context, rec *models.RateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.saveRateRecord(rec)
	return nil
}

func (m *MemoryStorage) PruneRateRecords(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.pruneRateRecords(before), nil
}

func (m *MemoryStorage) AppendBlockEvent(ctx context.Context, ev *models.BlockEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendBlockEvent(ev)
}

func (m *MemoryStorage) CountBlockEventsSince(ctx context.Context, address string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.countSince(address, since), nil
}

func (m *MemoryStorage) CountBlockEvents(ctx context.Context, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.countBetween(from, to), nil
}

func (m *MemoryStorage) TopBlockedAddresses(ctx context.Context, limit int) ([]models.AddressCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.topAddresses(limit), nil
}

func (m *MemoryStorage) PruneBlockEvents(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.pruneBlockEvents(before), nil
}

func (m *MemoryStorage) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.clear()
	return nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close closes the storage (no-op for memory storage)
func (m *MemoryStorage) Close() error {
	return nil
}

func (s *memoryState) getSettings(scope string) map[string]string {
	out := make(map[string]string, len(s.Settings[scope]))
	for k, v := range s.Settings[scope] {
		out[k] = v
	}
	return out
}

func (s *memoryState) setSettings(scope string, values map[string]string) {
	current, ok := s.Settings[scope]
	if !ok {
		current = make(map[string]string, len(values))
		s.Settings[scope] = current
	}
	for k, v := range values {
		current[k] = v
	}
}

func (s *memoryState) getRateRecord(address string) (*models.RateRecord, error) {
	rec, ok := s.RateRecords[address]
	if !ok {
		return nil, fmt.Errorf("rate record for %s: %w", address, ErrNotFound)
	}
	// Return a copy to prevent external modification
	recCopy := *rec
	return &recCopy, nil
}

func (s *memoryState) saveRateRecord(rec *models.RateRecord) {
	recCopy := *rec
	recCopy.WindowStart = recCopy.WindowStart.UTC()
	recCopy.LastSeen = recCopy.LastSeen.UTC()
	s.RateRecords[rec.Address] = &recCopy
}

func (s *memoryState) pruneRateRecords(before time.Time) int64 {
	var n int64
	for addr, rec := range s.RateRecords {
		if rec.LastSeen.Before(before) {
			delete(s.RateRecords, addr)
			n++
		}
	}
	return n
}

func (s *memoryState) appendBlockEvent(ev *models.BlockEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("block event ID is required")
	}
	evCopy := *ev
	evCopy.BlockedAt = evCopy.BlockedAt.UTC()
	s.BlockEvents = append(s.BlockEvents, &evCopy)
	return nil
}

func (s *memoryState) countSince(address string, since time.Time) int {
	n := 0
	for _, ev := range s.BlockEvents {
		if ev.Address == address && ev.BlockedAt.After(since) {
			n++
		}
	}
	return n
}

func (s *memoryState) countBetween(from, to time.Time) int {
	n := 0
	for _, ev := range s.BlockEvents {
		if !from.IsZero() && ev.BlockedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !ev.BlockedAt.Before(to) {
			continue
		}
		n++
	}
	return n
}

func (s *memoryState) topAddresses(limit int) []models.AddressCount {
	counts := make(map[string]int)
	for _, ev := range s.BlockEvents {
		counts[ev.Address]++
	}

	result := make([]models.AddressCount, 0, len(counts))
	for addr, c := range counts {
		result = append(result, models.AddressCount{Address: addr, Count: c})
	}
	sortAddressCounts(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *memoryState) pruneBlockEvents(before time.Time) int64 {
	kept := s.BlockEvents[:0]
	var n int64
	for _, ev := range s.BlockEvents {
		if ev.BlockedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	clear(s.BlockEvents[len(kept):])
	s.BlockEvents = kept
	return n
}

func (s *memoryState) clear() {
	s.RateRecords = make(map[string]*models.RateRecord)
	s.BlockEvents = []*models.BlockEvent{}
}

// sortAddressCounts orders by count descending, then address ascending.
func sortAddressCounts(items []models.AddressCount) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Address < items[j].Address
	})
}
