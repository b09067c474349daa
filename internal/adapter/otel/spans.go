package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lanesync"

// StartSyncSpan starts a span for a sync run.
func StartSyncSpan(ctx context.Context, provider, kind, boardID, connectionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync."+kind,
		trace.WithAttributes(
			attribute.String("sync.provider", provider),
			attribute.String("board.id", boardID),
			attribute.String("connection.id", connectionID),
		),
	)
}

// StartWebhookSpan starts a span for processing one inbound event.
func StartWebhookSpan(ctx context.Context, source, eventID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "webhook.process",
		trace.WithAttributes(
			attribute.String("webhook.source", source),
			attribute.String("webhook.event_id", eventID),
		),
	)
}

// StartMoveSpan starts a span for a task move.
func StartMoveSpan(ctx context.Context, taskID, laneID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.move",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("lane.id", laneID),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
