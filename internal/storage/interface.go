package storage

import (
	"context"
	"time"

	"antiddos/internal/models"
)

// Storage is the persistence contract of the gate. It holds the operator
// settings, one rate record per client address and the append-only block ledger.
// Implementations must be safe for concurrent use.
type Storage interface {
	SettingsStore
	RateRecordStore
	BlockEventStore

	// Clear deletes every block event and every rate record.
	Clear(ctx context.Context) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// SettingsStore is a scope-keyed string map. A scope is a service identifier such
// as "anti-ddos" or "core".
type SettingsStore interface {
	// GetSettings returns every key stored for the scope. An unknown scope yields an empty map.
	GetSettings(ctx context.Context, scope string) (map[string]string, error)

	// SetSettings upserts the given keys; keys not present in values are left untouched.
	SetSettings(ctx context.Context, scope string, values map[string]string) error
}

type RateRecordStore interface {
	// GetRateRecord returns ErrNotFound when the address has no record.
	GetRateRecord(ctx context.Context, address string) (*models.RateRecord, error)

	// SaveRateRecord creates or replaces the record for rec.Address.
	SaveRateRecord(ctx context.Context, rec *models.RateRecord) error

	// PruneRateRecords deletes records whose LastSeen is before the cutoff.
	PruneRateRecords(ctx context.Context, before time.Time) (int64, error)
}

type BlockEventStore interface {
	AppendBlockEvent(ctx context.Context, ev *models.BlockEvent) error

	// CountBlockEventsSince counts events for the address with BlockedAt strictly after since.
	CountBlockEventsSince(ctx context.Context, address string, since time.Time) (int, error)

	// CountBlockEvents counts events with from <= BlockedAt < to. A zero bound is open.
	CountBlockEvents(ctx context.Context, from, to time.Time) (int, error)

	// TopBlockedAddresses returns up to limit addresses ordered by event count
	// descending, then address ascending.
	TopBlockedAddresses(ctx context.Context, limit int) ([]models.AddressCount, error)

	// PruneBlockEvents deletes events with BlockedAt before the cutoff.
	PruneBlockEvents(ctx context.Context, before time.Time) (int64, error)
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, json, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`
}
