/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sessiontrace

import (
	"context"
	"log/slog"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Event is one structured observability event.
type Event struct {
	Name       string               `json:"name"`
	Attributes []attribute.KeyValue `json:"attributes"`
	Timestamp  time.Time            `json:"timestamp"`
}

// Emitter records engine events on OpenTelemetry counters and fans them out
// to an optional buffered subscriber channel. All methods are non-blocking.
type Emitter struct {
	transitions metric.Int64Counter
	subtasks    metric.Int64Counter
	queueMoves  metric.Int64Counter
	budgetAdds  metric.Float64Counter

	// events is an optional subscriber channel. Writes drop when full so the
	// sink can never stall a task.
	events chan Event
}

// NewEmitter creates an Emitter with the given meter name. If bufferEvents is
// positive, Events() exposes a channel carrying at most that many undelivered
// events; further events are dropped, not queued.
//
// Counter creation failures log a warning and fall back to no-op instruments,
// matching how the rest of the fleet treats metrics as best-effort.
func NewEmitter(meterName string, bufferEvents int) *Emitter {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	transitions, err := meter.Int64Counter("reviewfleet.task.transitions",
		metric.WithDescription("Task state machine transitions"),
		metric.WithUnit("{transitions}"))
	if err != nil {
		slog.Warn("Failed to create transition counter, metrics disabled", "error", err, "meter", meterName)
		transitions = noop.Int64Counter{}
	}

	subtasks, err := meter.Int64Counter("reviewfleet.subtask.invocations",
		metric.WithDescription("Sub-task capability invocations"),
		metric.WithUnit("{invocations}"))
	if err != nil {
		slog.Warn("Failed to create subtask counter, metrics disabled", "error", err, "meter", meterName)
		subtasks = noop.Int64Counter{}
	}

	queueMoves, err := meter.Int64Counter("reviewfleet.workqueue.status",
		metric.WithDescription("Shared work queue status changes"),
		metric.WithUnit("{changes}"))
	if err != nil {
		slog.Warn("Failed to create queue counter, metrics disabled", "error", err, "meter", meterName)
		queueMoves = noop.Int64Counter{}
	}

	budgetAdds, err := meter.Float64Counter("reviewfleet.budget.spend",
		metric.WithDescription("Cost accumulated against session budgets"),
		metric.WithUnit("{usd}"))
	if err != nil {
		slog.Warn("Failed to create budget counter, metrics disabled", "error", err, "meter", meterName)
		budgetAdds = noop.Float64Counter{}
	}

	e := &Emitter{
		transitions: transitions,
		subtasks:    subtasks,
		queueMoves:  queueMoves,
		budgetAdds:  budgetAdds,
	}
	if bufferEvents > 0 {
		e.events = make(chan Event, bufferEvents)
	}
	return e
}

// Events returns the subscriber channel, or nil when buffering is disabled.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

func (e *Emitter) emit(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if e == nil {
		return
	}
	clog.FromContext(ctx).With("event", name).Debug("engine event")
	if e.events == nil {
		return
	}
	select {
	case e.events <- Event{Name: name, Attributes: attrs, Timestamp: time.Now()}:
	default:
		// Subscriber is behind; drop rather than block.
	}
}

// Transition records a task state machine transition.
func (e *Emitter) Transition(ctx context.Context, sessionID, specialty, from, to string) {
	if e == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("session_id", sessionID),
		attribute.String("specialty", specialty),
		attribute.String("from", from),
		attribute.String("to", to),
	}
	e.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
	e.emit(ctx, "task.transition", attrs...)
}

// Subtask records a sub-task invocation outcome.
func (e *Emitter) Subtask(ctx context.Context, sessionID, tag string, cached, failed bool) {
	if e == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("session_id", sessionID),
		attribute.String("tag", tag),
		attribute.Bool("cached", cached),
		attribute.Bool("failed", failed),
	}
	e.subtasks.Add(ctx, 1, metric.WithAttributes(attrs...))
	e.emit(ctx, "subtask.invocation", attrs...)
}

// QueueStatus records a shared work queue request changing status.
func (e *Emitter) QueueStatus(ctx context.Context, requestID, requestType, status string) {
	if e == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("request_id", requestID),
		attribute.String("type", requestType),
		attribute.String("status", status),
	}
	e.queueMoves.Add(ctx, 1, metric.WithAttributes(attrs...))
	e.emit(ctx, "workqueue.status", attrs...)
}

// Budget records spend added to a session's ledger.
func (e *Emitter) Budget(ctx context.Context, sessionID string, costUSD float64, limitHit bool) {
	if e == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("session_id", sessionID),
		attribute.Bool("cost_limit_hit", limitHit),
	}
	e.budgetAdds.Add(ctx, costUSD, metric.WithAttributes(attrs...))
	e.emit(ctx, "budget.update", attrs...)
}
