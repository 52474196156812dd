package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"antiddos/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS plugin_settings (
	plugin_slug   TEXT NOT NULL,
	setting_key   TEXT NOT NULL,
	setting_value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (plugin_slug, setting_key)
);

CREATE TABLE IF NOT EXISTS anti_ddos_requests (
	ip_address       TEXT PRIMARY KEY,
	request_count    INTEGER NOT NULL,
	first_request_at INTEGER NOT NULL,
	last_request_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anti_ddos_requests_last_request_at ON anti_ddos_requests (last_request_at);

CREATE TABLE IF NOT EXISTS anti_ddos_logs (
	id         TEXT PRIMARY KEY,
	ip_address TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	blocked_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anti_ddos_logs_blocked_at ON anti_ddos_logs (blocked_at);
CREATE INDEX IF NOT EXISTS idx_anti_ddos_logs_ip_address ON anti_ddos_logs (ip_address, blocked_at);
`

// SQLiteStorage implements the Storage interface on an SQLite database file.
// All access goes through a single connection, so SQLite's writer lock is
// never contended inside one process.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and creates the schema when missing.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (ss *SQLiteStorage) GetSettings(ctx context.Context, scope string) (map[string]string, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT setting_key, setting_value FROM plugin_settings WHERE plugin_slug = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return out, nil
}

func (ss *SQLiteStorage) SetSettings(ctx context.Context, scope string, values map[string]string) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for k, v := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO plugin_settings (plugin_slug, setting_key, setting_value) VALUES (?, ?, ?)
			ON CONFLICT (plugin_slug, setting_key) DO UPDATE SET setting_value = excluded.setting_value`,
			scope, k, v)
		if err != nil {
			return fmt.Errorf("failed to save setting %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) GetRateRecord(ctx context.Context, address string) (*models.RateRecord, error) {
	var (
		count       int
		first, last int64
	)
	err := ss.db.QueryRowContext(ctx,
		`SELECT request_count, first_request_at, last_request_at FROM anti_ddos_requests WHERE ip_address = ?`,
		address).Scan(&count, &first, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rate record for %s: %w", address, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rate record: %w", err)
	}
	return &models.RateRecord{
		Address:     address,
		Count:       count,
		WindowStart: fromUnixNano(first),
		LastSeen:    fromUnixNano(last),
	}, nil
}

func (ss *SQLiteStorage) SaveRateRecord(ctx context.Context, rec *models.RateRecord) error {
	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO anti_ddos_requests (ip_address, request_count, first_request_at, last_request_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ip_address) DO UPDATE SET
			request_count = excluded.request_count,
			first_request_at = excluded.first_request_at,
			last_request_at = excluded.last_request_at`,
		rec.Address, rec.Count, toUnixNano(rec.WindowStart), toUnixNano(rec.LastSeen))
	if err != nil {
		return fmt.Errorf("failed to save rate record: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) PruneRateRecords(ctx context.Context, before time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx,
		`DELETE FROM anti_ddos_requests WHERE last_request_at < ?`, toUnixNano(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate records: %w", err)
	}
	return res.RowsAffected()
}

func (ss *SQLiteStorage) AppendBlockEvent(ctx context.Context, ev *models.BlockEvent) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO anti_ddos_logs (id, ip_address, url, blocked_at) VALUES (?, ?, ?, ?)`,
		ev.ID, ev.Address, ev.TargetResource, toUnixNano(ev.BlockedAt))
	if err != nil {
		return fmt.Errorf("failed to append block event: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) CountBlockEventsSince(ctx context.Context, address string, since time.Time) (int, error) {
	var n int
	err := ss.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anti_ddos_logs WHERE ip_address = ? AND blocked_at > ?`,
		address, toUnixNano(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count block events: %w", err)
	}
	return n, nil
}

func (ss *SQLiteStorage) CountBlockEvents(ctx context.Context, from, to time.Time) (int, error) {
	lo, hi := rangeBounds(from, to)
	var n int
	err := ss.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anti_ddos_logs WHERE blocked_at >= ? AND blocked_at < ?`, lo, hi).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count block events: %w", err)
	}
	return n, nil
}

func (ss *SQLiteStorage) TopBlockedAddresses(ctx context.Context, limit int) ([]models.AddressCount, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := ss.db.QueryContext(ctx, `
		SELECT ip_address, COUNT(*) AS cnt FROM anti_ddos_logs
		GROUP BY ip_address
		ORDER BY cnt DESC, ip_address ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top addresses: %w", err)
	}
	defer rows.Close()

	result := []models.AddressCount{}
	for rows.Next() {
		var ac models.AddressCount
		if err := rows.Scan(&ac.Address, &ac.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top address: %w", err)
		}
		result = append(result, ac)
	}
	return result, rows.Err()
}

func (ss *SQLiteStorage) PruneBlockEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx,
		`DELETE FROM anti_ddos_logs WHERE blocked_at < ?`, toUnixNano(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune block events: %w", err)
	}
	return res.RowsAffected()
}

func (ss *SQLiteStorage) Clear(ctx context.Context) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM anti_ddos_logs`); err != nil {
		return fmt.Errorf("failed to clear block events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM anti_ddos_requests`); err != nil {
		return fmt.Errorf("failed to clear rate records: %w", err)
	}
	return tx.Commit()
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
