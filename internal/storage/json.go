package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"antiddos/internal/models"
)

// JSONStorage implements the Storage interface on a single JSON document.
// The document is held in memory and rewritten atomically after every mutation,
// including the rate update of every admitted request, so it is meant for
// development only.
type JSONStorage struct {
	filePath string
	mu       sync.RWMutex
	data     *JSONData
	closed   bool
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	memoryState
	LastUpdated time.Time `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{
		filePath: config.Path,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return j.saveData(&JSONData{memoryState: *newMemoryState()})
	}
	return nil
}

func (j *JSONStorage) loadData() error {
	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	data.normalize()

	j.data = &data
	return nil
}

// saveData writes the document to a temporary file and renames it over the
// original so readers never observe a partial write.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	return nil
}

// read runs fn under the read lock.
func (j *JSONStorage) read(fn func(s *memoryState) error) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	return fn(&j.data.memoryState)
}

// write runs fn under the write lock and persists the document when fn succeeds.
func (j *JSONStorage) write(fn func(s *memoryState) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if err := fn(&j.data.memoryState); err != nil {
		return err
	}
	return j.saveData(j.data)
}

func (j *JSONStorage) GetSettings(ctx context.Context, scope string) (map[string]string, error) {
	var out map[string]string
	err := j.read(func(s *memoryState) error {
		out = s.getSettings(scope)
		return nil
	})
	return out, err
}

func (j *JSONStorage) SetSettings(ctx context.Context, scope string, values map[string]string) error {
	return j.write(func(s *memoryState) error {
		s.setSettings(scope, values)
		return nil
	})
}

func (j *JSONStorage) GetRateRecord(ctx context.Context, address string) (*models.RateRecord, error) {
	var rec *models.RateRecord
	err := j.read(func(s *memoryState) error {
		var err error
		rec, err = s.getRateRecord(address)
		return err
	})
	return rec, err
}

func (j *JSONStorage) SaveRateRecord(ctx context.Context, rec *models.RateRecord) error {
	return j.write(func(s *memoryState) error {
		s.saveRateRecord(rec)
		return nil
	})
}

func (j *JSONStorage) PruneRateRecords(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := j.write(func(s *memoryState) error {
		n = s.pruneRateRecords(before)
		return nil
	})
	return n, err
}

func (j *JSONStorage) AppendBlockEvent(ctx context.Context, ev *models.BlockEvent) error {
	return j.write(func(s *memoryState) error {
		return s.appendBlockEvent(ev)
	})
}

func (j *JSONStorage) CountBlockEventsSince(ctx context.Context, address string, since time.Time) (int, error) {
	var n int
	err := j.read(func(s *memoryState) error {
		n = s.countSince(address, since)
		return nil
	})
	return n, err
}

func (j *JSONStorage) CountBlockEvents(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := j.read(func(s *memoryState) error {
		n = s.countBetween(from, to)
		return nil
	})
	return n, err
}

func (j *JSONStorage) TopBlockedAddresses(ctx context.Context, limit int) ([]models.AddressCount, error) {
	var top []models.AddressCount
	err := j.read(func(s *memoryState) error {
		top = s.topAddresses(limit)
		return nil
	})
	return top, err
}

func (j *JSONStorage) PruneBlockEvents(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := j.write(func(s *memoryState) error {
		n = s.pruneBlockEvents(before)
		return nil
	})
	return n, err
}

func (j *JSONStorage) Clear(ctx context.Context) error {
	return j.write(func(s *memoryState) error {
		s.clear()
		return nil
	})
}

// Ping verifies the backing file is still reachable.
func (j *JSONStorage) Ping(_ context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return nil
}

// Close releases the in-memory document. Further calls return ErrClosed.
func (j *JSONStorage) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.data = nil
	j.closed = true
	return nil
}
