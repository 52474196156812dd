package gate

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type gateMetrics struct {
	decisions metric.Int64Counter
	duration  metric.Float64Histogram
}

func newGateMetrics() (*gateMetrics, error) {
	meter := otel.Meter("antiddos/gate")

	decisions, err := meter.Int64Counter(
		"gate.decisions",
		metric.WithDescription("Number of admission decisions by reason"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"gate.decision.duration",
		metric.WithDescription("Duration of admission decisions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &gateMetrics{decisions: decisions, duration: duration}, nil
}

func (m *gateMetrics) observe(ctx context.Context, v Verdict, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("reason", string(v.Reason)),
		attribute.String("allowed", strconv.FormatBool(v.Allowed)),
	)
	m.decisions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
