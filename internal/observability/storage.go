package observability

import (
	"context"
	"errors"
	"time"

	"antiddos/internal/models"
	"antiddos/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage with a span, a latency sample and
// an error count per call. A missing rate record is not counted as an error.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("antiddos/storage")
	meter := otel.Meter("antiddos/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	switch {
	case err == nil, errors.Is(err, storage.ErrNotFound):
		span.SetStatus(codes.Ok, "")
	default:
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *InstrumentedStorage) GetSettings(ctx context.Context, scope string) (map[string]string, error) {
	ctx, span := s.startSpan(ctx, "GetSettings", attribute.String("scope", scope))
	start := time.Now()
	result, err := s.inner.GetSettings(ctx, scope)
	s.record(ctx, span, "GetSettings", start, err)
	return result, err
}

func (s *InstrumentedStorage) SetSettings(ctx context.Context, scope string, values map[string]string) error {
	ctx, span := s.startSpan(ctx, "SetSettings",
		attribute.String("scope", scope),
		attribute.Int("keys", len(values)),
	)
	start := time.Now()
	err := s.inner.SetSettings(ctx, scope, values)
	s.record(ctx, span, "SetSettings", start, err)
	return err
}

func (s *InstrumentedStorage) GetRateRecord(ctx context.Context, address string) (*models.RateRecord, error) {
	ctx, span := s.startSpan(ctx, "GetRateRecord")
	start := time.Now()
	result, err := s.inner.GetRateRecord(ctx, address)
	s.record(ctx, span, "GetRateRecord", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveRateRecord(ctx context.Context, rec *models.RateRecord) error {
	ctx, span := s.startSpan(ctx, "SaveRateRecord", attribute.Int("count", rec.Count))
	start := time.Now()
	err := s.inner.SaveRateRecord(ctx, rec)
	s.record(ctx, span, "SaveRateRecord", start, err)
	return err
}

func (s *InstrumentedStorage) PruneRateRecords(ctx context.Context, before time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "PruneRateRecords", attribute.String("before", before.UTC().Format(time.RFC3339)))
	start := time.Now()
	n, err := s.inner.PruneRateRecords(ctx, before)
	span.SetAttributes(attribute.Int64("deleted", n))
	s.record(ctx, span, "PruneRateRecords", start, err)
	return n, err
}

func (s *InstrumentedStorage) AppendBlockEvent(ctx context.Context, ev *models.BlockEvent) error {
	ctx, span := s.startSpan(ctx, "AppendBlockEvent", attribute.String("event_id", ev.ID))
	start := time.Now()
	err := s.inner.AppendBlockEvent(ctx, ev)
	s.record(ctx, span, "AppendBlockEvent", start, err)
	return err
}

func (s *InstrumentedStorage) CountBlockEventsSince(ctx context.Context, address string, since time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "CountBlockEventsSince")
	start := time.Now()
	n, err := s.inner.CountBlockEventsSince(ctx, address, since)
	s.record(ctx, span, "CountBlockEventsSince", start, err)
	return n, err
}

func (s *InstrumentedStorage) CountBlockEvents(ctx context.Context, from, to time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "CountBlockEvents")
	start := time.Now()
	n, err := s.inner.CountBlockEvents(ctx, from, to)
	s.record(ctx, span, "CountBlockEvents", start, err)
	return n, err
}

func (s *InstrumentedStorage) TopBlockedAddresses(ctx context.Context, limit int) ([]models.AddressCount, error) {
	ctx, span := s.startSpan(ctx, "TopBlockedAddresses", attribute.Int("limit", limit))
	start := time.Now()
	result, err := s.inner.TopBlockedAddresses(ctx, limit)
	s.record(ctx, span, "TopBlockedAddresses", start, err)
	return result, err
}

func (s *InstrumentedStorage) PruneBlockEvents(ctx context.Context, before time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "PruneBlockEvents", attribute.String("before", before.UTC().Format(time.RFC3339)))
	start := time.Now()
	n, err := s.inner.PruneBlockEvents(ctx, before)
	span.SetAttributes(attribute.Int64("deleted", n))
	s.record(ctx, span, "PruneBlockEvents", start, err)
	return n, err
}

func (s *InstrumentedStorage) Clear(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Clear")
	start := time.Now()
	err := s.inner.Clear(ctx)
	s.record(ctx, span, "Clear", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
