package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"antiddos/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS plugin_settings (
	plugin_slug   VARCHAR(100) NOT NULL,
	setting_key   VARCHAR(100) NOT NULL,
	setting_value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (plugin_slug, setting_key)
);

CREATE TABLE IF NOT EXISTS anti_ddos_requests (
	ip_address       VARCHAR(45) PRIMARY KEY,
	request_count    INTEGER NOT NULL,
	first_request_at TIMESTAMPTZ NOT NULL,
	last_request_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anti_ddos_requests_last_request_at ON anti_ddos_requests (last_request_at);

CREATE TABLE IF NOT EXISTS anti_ddos_logs (
	id         VARCHAR(36) PRIMARY KEY,
	ip_address VARCHAR(45) NOT NULL,
	url        VARCHAR(500) NOT NULL DEFAULT '',
	blocked_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anti_ddos_logs_blocked_at ON anti_ddos_logs (blocked_at);
CREATE INDEX IF NOT EXISTS idx_anti_ddos_logs_ip_address ON anti_ddos_logs (ip_address, blocked_at);
`

// maxTargetLength matches the url column width.
const maxTargetLength = 500

// PostgresStorage implements the Storage interface using PostgreSQL through a pgx pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and ensures the schema exists.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func (ps *PostgresStorage) GetSettings(ctx context.Context, scope string) (map[string]string, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT setting_key, setting_value FROM plugin_settings WHERE plugin_slug = $1`, scope)
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

func (ps *PostgresStorage) SetSettings(ctx context.Context, scope string, values map[string]string) error {
	batch := &pgx.Batch{}
	for k, v := range values {
		batch.Queue(`
			INSERT INTO plugin_settings (plugin_slug, setting_key, setting_value) VALUES ($1, $2, $3)
			ON CONFLICT (plugin_slug, setting_key) DO UPDATE SET setting_value = EXCLUDED.setting_value`,
			scope, k, v)
	}

	err := pgx.BeginFunc(ctx, ps.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) GetRateRecord(ctx context.Context, address string) (*models.RateRecord, error) {
	rec := &models.RateRecord{Address: address}
	err := ps.pool.QueryRow(ctx,
		`SELECT request_count, first_request_at, last_request_at FROM anti_ddos_requests WHERE ip_address = $1`,
		address).Scan(&rec.Count, &rec.WindowStart, &rec.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rate record for %s: %w", address, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rate record: %w", err)
	}
	rec.WindowStart = rec.WindowStart.UTC()
	rec.LastSeen = rec.LastSeen.UTC()
	return rec, nil
}

func (ps *PostgresStorage) SaveRateRecord(ctx context.Context, rec *models.RateRecord) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO anti_ddos_requests (ip_address, request_count, first_request_at, last_request_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip_address) DO UPDATE SET
			request_count = EXCLUDED.request_count,
			first_request_at = EXCLUDED.first_request_at,
			last_request_at = EXCLUDED.last_request_at`,
		rec.Address, rec.Count, rec.WindowStart.UTC(), rec.LastSeen.UTC())
	if err != nil {
		return fmt.Errorf("failed to save rate record: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) PruneRateRecords(ctx context.Context, before time.Time) (int64, error) {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM anti_ddos_requests WHERE last_request_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (ps *PostgresStorage) AppendBlockEvent(ctx context.Context, ev *models.BlockEvent) error {
	target := truncateRunes(ev.TargetResource, maxTargetLength)
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO anti_ddos_logs (id, ip_address, url, blocked_at) VALUES ($1, $2, $3, $4)`,
		ev.ID, ev.Address, target, ev.BlockedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append block event: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) CountBlockEventsSince(ctx context.Context, address string, since time.Time) (int, error) {
	var n int
	err := ps.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM anti_ddos_logs WHERE ip_address = $1 AND blocked_at > $2`,
		address, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count block events: %w", err)
	}
	return n, nil
}

func (ps *PostgresStorage) CountBlockEvents(ctx context.Context, from, to time.Time) (int, error) {
	var lo, hi *time.Time
	if !from.IsZero() {
		f := from.UTC()
		lo = &f
	}
	if !to.IsZero() {
		t := to.UTC()
		hi = &t
	}

	var n int
	err := ps.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM anti_ddos_logs
		WHERE ($1::timestamptz IS NULL OR blocked_at >= $1)
		  AND ($2::timestamptz IS NULL OR blocked_at < $2)`, lo, hi).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count block events: %w", err)
	}
	return n, nil
}

func (ps *PostgresStorage) TopBlockedAddresses(ctx context.Context, limit int) ([]models.AddressCount, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := ps.pool.Query(ctx, `
		SELECT ip_address, COUNT(*) AS cnt FROM anti_ddos_logs
		GROUP BY ip_address
		ORDER BY cnt DESC, ip_address ASC
		LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query top addresses: %w", err)
	}

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AddressCount, error) {
		var ac models.AddressCount
		err := row.Scan(&ac.Address, &ac.Count)
		return ac, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan top addresses: %w", err)
	}
	if result == nil {
		result = []models.AddressCount{}
	}
	return result, nil
}

func (ps *PostgresStorage) PruneBlockEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM anti_ddos_logs WHERE blocked_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune block events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (ps *PostgresStorage) Clear(ctx context.Context) error {
	_, err := ps.pool.Exec(ctx, `TRUNCATE anti_ddos_logs, anti_ddos_requests`)
	if err != nil {
		return fmt.Errorf("failed to clear logs: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
