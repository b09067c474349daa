package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "lanesync"

// Metrics holds all LaneSync metric instruments.
type Metrics struct {
	TaskMoves        metric.Int64Counter
	VersionConflicts metric.Int64Counter
	SyncRuns         metric.Int64Counter
	SyncItems        metric.Int64Counter
	SyncDuration     metric.Float64Histogram
	WebhookEvents    metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TaskMoves, err = meter.Int64Counter("lanesync.task.moves",
		metric.WithDescription("Number of committed task moves"))
	if err != nil {
		return nil, err
	}

	m.VersionConflicts, err = meter.Int64Counter("lanesync.task.version_conflicts",
		metric.WithDescription("Number of writes rejected for a stale version"))
	if err != nil {
		return nil, err
	}

	m.SyncRuns, err = meter.Int64Counter("lanesync.sync.runs",
		metric.WithDescription("Number of finished sync runs by kind and status"))
	if err != nil {
		return nil, err
	}

	m.SyncItems, err = meter.Int64Counter("lanesync.sync.items",
		metric.WithDescription("Number of issues processed by outcome"))
	if err != nil {
		return nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram("lanesync.sync.duration_seconds",
		metric.WithDescription("Sync run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.WebhookEvents, err = meter.Int64Counter("lanesync.webhook.events",
		metric.WithDescription("Number of inbound webhook events by source and outcome"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// The record helpers accept a nil receiver so services can run without
// metrics in tests.

// Move counts a committed move.
func (m *Metrics) Move(ctx context.Context, crossLane bool) {
	if m == nil {
		return
	}
	m.TaskMoves.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cross_lane", crossLane)))
}

// Conflict counts a rejected stale write.
func (m *Metrics) Conflict(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.VersionConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// Run records a finished sync run and its item outcomes.
func (m *Metrics) Run(ctx context.Context, provider, kind, status string, seconds float64, created, updated, failed, conflicts int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.SyncRuns.Add(ctx, 1, attrs)
	m.SyncDuration.Record(ctx, seconds, attrs)
	for outcome, n := range map[string]int{"created": created, "updated": updated, "failed": failed, "conflict": conflicts} {
		if n > 0 {
			m.SyncItems.Add(ctx, int64(n), metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("outcome", outcome),
			))
		}
	}
}

// Webhook counts an inbound event.
func (m *Metrics) Webhook(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}
