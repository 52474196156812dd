// Package gate decides, per inbound request, whether the request may proceed.
//
// The decision combines the operator allow and deny lists, the block ledger and
// a per-address request counter. Any fault inside the pipeline allows the
// request: only a genuine deny produces a rate-limit response.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"antiddos/internal/models"
)

// Reason explains a verdict.
type Reason string

const (
	ReasonExempt       Reason = "exempt"
	ReasonDisabled     Reason = "disabled"
	ReasonAllowList    Reason = "allow_list"
	ReasonDenyList     Reason = "deny_list"
	ReasonBlocked      Reason = "blocked"
	ReasonRateExceeded Reason = "rate_exceeded"
	ReasonWithinLimits Reason = "within_limits"
	ReasonFault        Reason = "fault"
)

// Verdict is the outcome of one admission decision.
type Verdict struct {
	Allowed bool
	Reason  Reason
	// RetryAfter is set on denials to the configured block duration.
	RetryAfter time.Duration
}

// Request identifies what is being admitted.
type Request struct {
	Address string
	Target  string
}

// SettingsSource yields the current operator policy.
type SettingsSource interface {
	Snapshot(ctx context.Context) (models.Settings, error)
}

// Options configures a Gate.
type Options struct {
	// StorageTimeout bounds each storage call made while deciding.
	StorageTimeout time.Duration
	Logger         *slog.Logger
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Gate is the admission decision pipeline.
type Gate struct {
	settings SettingsSource
	tracker  *RateTracker
	ledger   *BlockLedger
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	metrics  *gateMetrics
}

func New(settings SettingsSource, tracker *RateTracker, ledger *BlockLedger, opts Options) (*Gate, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := opts.StorageTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	metrics, err := newGateMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create gate metrics: %w", err)
	}

	return &Gate{
		settings: settings,
		tracker:  tracker,
		ledger:   ledger,
		timeout:  timeout,
		logger:   logger,
		now:      clock,
		metrics:  metrics,
	}, nil
}

// Admit decides whether req may proceed. When ctx carries evaluation state (see
// WithEvaluation) only the first call decides; later calls return its verdict.
func (g *Gate) Admit(ctx context.Context, req Request) Verdict {
	ev := evaluationFrom(ctx)
	if ev == nil {
		return g.decide(ctx, req)
	}
	ev.once.Do(func() {
		ev.verdict = g.decide(ctx, req)
	})
	return ev.verdict
}

func (g *Gate) decide(ctx context.Context, req Request) (v Verdict) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Admission pipeline panicked, allowing request",
				"address", req.Address, "operation", "admit", "error", fmt.Sprint(r))
			v = Verdict{Allowed: true, Reason: ReasonFault}
		}
		g.metrics.observe(ctx, v, time.Since(start))
	}()

	now := g.now()

	settings, err := g.snapshot(ctx)
	if err != nil {
		g.logger.Error("Failed to load settings, allowing request",
			"address", req.Address, "operation", "load_settings", "error", err)
		return Verdict{Allowed: true, Reason: ReasonFault}
	}

	if !settings.Enabled {
		return Verdict{Allowed: true, Reason: ReasonDisabled}
	}

	switch NewAccessListFilter(settings.AllowList, settings.DenyList).Classify(req.Address) {
	case Allowed:
		return Verdict{Allowed: true, Reason: ReasonAllowList}
	case Denied:
		return g.deny(ctx, req, now, settings, ReasonDenyList)
	}

	if g.isBlocked(ctx, req.Address, now, settings.BlockDurationMinutes) {
		return g.deny(ctx, req, now, settings, ReasonBlocked)
	}

	exceeded, err := g.recordAndCheck(ctx, req.Address, now, Limits{
		PerMinute: settings.MaxRequestsPerMinute,
		PerHour:   settings.MaxRequestsPerHour,
	})
	if err != nil {
		g.logger.Error("Rate tracking failed, allowing request",
			"address", req.Address, "operation", "record_and_check", "error", err)
		return Verdict{Allowed: true, Reason: ReasonFault}
	}
	if exceeded {
		return g.deny(ctx, req, now, settings, ReasonRateExceeded)
	}

	return Verdict{Allowed: true, Reason: ReasonWithinLimits}
}

func (g *Gate) deny(ctx context.Context, req Request, now time.Time, s models.Settings, reason Reason) Verdict {
	rctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	g.ledger.Record(rctx, req.Address, req.Target, now)

	g.logger.Warn("Request denied",
		"address", req.Address, "target", req.Target, "reason", string(reason))

	return Verdict{
		Allowed:    false,
		Reason:     reason,
		RetryAfter: time.Duration(s.BlockDurationMinutes) * time.Minute,
	}
}

func (g *Gate) snapshot(ctx context.Context) (models.Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.settings.Snapshot(ctx)
}

func (g *Gate) isBlocked(ctx context.Context, address string, now time.Time, minutes int) bool {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.ledger.IsCurrentlyBlocked(ctx, address, now, minutes)
}

func (g *Gate) recordAndCheck(ctx context.Context, address string, now time.Time, limits Limits) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.tracker.RecordAndCheck(ctx, address, now, limits)
}

// AddressStatus reports how the gate currently sees an address without counting
// a request.
func (g *Gate) AddressStatus(ctx context.Context, address string) (*models.AddressStatusResponse, error) {
	settings, err := g.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	status := &models.AddressStatusResponse{
		Address:        address,
		Classification: NewAccessListFilter(settings.AllowList, settings.DenyList).Classify(address).String(),
		Blocked:        g.isBlocked(ctx, address, g.now(), settings.BlockDurationMinutes),
	}

	rec, err := g.tracker.Peek(ctx, address)
	if err == nil {
		status.RateRecord = rec
	}
	return status, nil
}
