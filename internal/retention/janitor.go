// Package retention prunes old block events and idle rate records so the
// ledger tables do not grow without bound.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is the subset of storage the janitor prunes.
type Store interface {
	PruneBlockEvents(ctx context.Context, before time.Time) (int64, error)
	PruneRateRecords(ctx context.Context, before time.Time) (int64, error)
}

// Options configures a Janitor.
type Options struct {
	Interval         time.Duration
	BlockEventMaxAge time.Duration
	RateRecordMaxAge time.Duration
	// Timeout bounds one pruning pass. Defaults to a minute.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Result reports what one pass deleted.
type Result struct {
	BlockEvents int64
	RateRecords int64
}

// Janitor periodically deletes expired ledger data.
type Janitor struct {
	store Store
	opts  Options
	now   func() time.Time

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

func NewJanitor(store Store, opts Options) *Janitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	return &Janitor{store: store, opts: opts, now: time.Now}
}

// Start runs a pass immediately and then every interval until Stop is called.
// Calling Start on a running janitor does nothing.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil {
		return
	}
	j.done = make(chan struct{})
	j.stopped = make(chan struct{})
	go j.run(j.done, j.stopped)
}

// Stop halts the janitor and waits for an in-flight pass to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	done, stopped := j.done, j.stopped
	j.done, j.stopped = nil, nil
	j.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	<-stopped
}

func (j *Janitor) run(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	j.pass()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			j.pass()
		}
	}
}

func (j *Janitor) pass() {
	ctx, cancel := context.WithTimeout(context.Background(), j.opts.Timeout)
	defer cancel()
	_ = j.Prune(ctx)
}

// Prune runs one pass. Failures are logged; the first one is returned.
func (j *Janitor) Prune(ctx context.Context) error {
	now := j.now()
	var res Result
	var firstErr error

	n, err := j.store.PruneBlockEvents(ctx, now.Add(-j.opts.BlockEventMaxAge))
	if err != nil {
		j.opts.Logger.Error("Failed to prune block events", "operation", "prune_block_events", "error", err)
		firstErr = err
	}
	res.BlockEvents = n

	n, err = j.store.PruneRateRecords(ctx, now.Add(-j.opts.RateRecordMaxAge))
	if err != nil {
		j.opts.Logger.Error("Failed to prune rate records", "operation", "prune_rate_records", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	res.RateRecords = n

	if res.BlockEvents > 0 || res.RateRecords > 0 {
		j.opts.Logger.Info("Pruned expired ledger data",
			"block_events", res.BlockEvents,
			"rate_records", res.RateRecords,
		)
	}
	return firstErr
}
