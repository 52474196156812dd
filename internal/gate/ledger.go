package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"antiddos/internal/models"
	"antiddos/internal/storage"
)

// DateLayout is the format of the stats date filters.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned by Stats for a date filter that is not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// LedgerStore is the storage the ledger needs.
type LedgerStore interface {
	storage.BlockEventStore
	Clear(ctx context.Context) error
}

// TimezoneSource yields the operating timezone. It is consulted on every Stats
// call so a change takes effect without a restart.
type TimezoneSource interface {
	Timezone(ctx context.Context) *time.Location
}

// StatsQuery optionally restricts TotalBlocks to an inclusive range of local dates.
// The range applies only when both bounds are set.
type StatsQuery struct {
	DateFrom string
	DateTo   string
}

// BlockLedger is the append-only log of denials. Whether an address is currently
// blocked is derived from the log, never stored.
type BlockLedger struct {
	store  LedgerStore
	tz     TimezoneSource
	logger *slog.Logger
	now    func() time.Time
}

func NewBlockLedger(store LedgerStore, tz TimezoneSource, logger *slog.Logger) *BlockLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockLedger{store: store, tz: tz, logger: logger, now: time.Now}
}

// IsCurrentlyBlocked reports whether address has a block event newer than
// now minus the block duration. Storage failures are logged and treated as
// not blocked.
func (l *BlockLedger) IsCurrentlyBlocked(ctx context.Context, address string, now time.Time, blockDurationMinutes int) bool {
	since := now.Add(-time.Duration(blockDurationMinutes) * time.Minute)
	n, err := l.store.CountBlockEventsSince(ctx, address, since)
	if err != nil {
		l.logger.Error("Block lookup failed, allowing request",
			"address", address, "operation", "is_currently_blocked", "error", err)
		return false
	}
	return n > 0
}

// Record appends a block event. Within one request evaluation, a second record
// for the same address and target is a no-op. Storage failures are logged and
// swallowed.
func (l *BlockLedger) Record(ctx context.Context, address, target string, now time.Time) {
	if ev := evaluationFrom(ctx); ev != nil && !ev.markRecorded(address, target) {
		return
	}
	if err := l.store.AppendBlockEvent(ctx, models.NewBlockEvent(address, target, now)); err != nil {
		l.logger.Error("Failed to record block event",
			"address", address, "operation", "record", "error", err)
	}
}

// Stats aggregates the ledger. Day boundaries follow the operating timezone.
func (l *BlockLedger) Stats(ctx context.Context, q StatsQuery) (models.BlockStats, error) {
	loc := time.UTC
	if l.tz != nil {
		loc = l.tz.Timezone(ctx)
	}

	var from, to time.Time
	if q.DateFrom != "" && q.DateTo != "" {
		start, err := parseLocalDate(q.DateFrom, loc)
		if err != nil {
			return models.BlockStats{}, err
		}
		end, err := parseLocalDate(q.DateTo, loc)
		if err != nil {
			return models.BlockStats{}, err
		}
		from, to = start, end.AddDate(0, 0, 1)
		if !from.Before(to) {
			return l.statsWithTotal(ctx, loc, 0)
		}
	}

	total, err := l.store.CountBlockEvents(ctx, from, to)
	if err != nil {
		return models.BlockStats{}, fmt.Errorf("count blocks: %w", err)
	}
	return l.statsWithTotal(ctx, loc, total)
}

func (l *BlockLedger) statsWithTotal(ctx context.Context, loc *time.Location, total int) (models.BlockStats, error) {
	local := l.now().In(loc)
	todayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	today, err := l.store.CountBlockEvents(ctx, todayStart, todayStart.AddDate(0, 0, 1))
	if err != nil {
		return models.BlockStats{}, fmt.Errorf("count today's blocks: %w", err)
	}

	top, err := l.store.TopBlockedAddresses(ctx, models.TopAddressesLimit)
	if err != nil {
		return models.BlockStats{}, fmt.Errorf("top blocked addresses: %w", err)
	}
	if top == nil {
		top = []models.AddressCount{}
	}

	return models.BlockStats{
		TotalBlocks:  total,
		BlocksToday:  today,
		TopAddresses: top,
	}, nil
}

// Clear deletes every block event and rate record.
func (l *BlockLedger) Clear(ctx context.Context) error {
	if err := l.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	return nil
}

func parseLocalDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}
