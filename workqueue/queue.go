/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chainguard.dev/reviewfleet/budget"
	"chainguard.dev/reviewfleet/canonical"
	"chainguard.dev/reviewfleet/capability"
	"chainguard.dev/reviewfleet/sessiontrace"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
)

var (
	// ErrWaitTimeout is returned when a waiter's timeout elapses before the
	// request reaches a terminal state.
	ErrWaitTimeout = errors.New("timed out waiting for work request")

	// ErrRequestFailed is returned to waiters of a failed request, wrapped
	// with the stored error message.
	ErrRequestFailed = errors.New("work request failed")
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultExecTimeout  = 10 * time.Minute
)

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithPollInterval sets how often waiters and the worker re-check the store.
func WithPollInterval(d time.Duration) QueueOption {
	return func(q *Queue) { q.pollInterval = d }
}

// WithExecTimeout bounds each shared operation's execution.
func WithExecTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.execTimeout = d }
}

// WithLedger charges completed shared operations to the requesting session.
func WithLedger(l *budget.Ledger) QueueOption {
	return func(q *Queue) { q.ledger = l }
}

// WithQueueEmitter sets the observability sink for status changes.
func WithQueueEmitter(em *sessiontrace.Emitter) QueueOption {
	return func(q *Queue) { q.emitter = em }
}

// Queue is the shared work queue. Construct one per process, Start it, and
// pass it by reference to the orchestrator; there is exactly one active
// worker per queue instance.
type Queue struct {
	store    Store
	registry *capability.Registry
	ledger   *budget.Ledger
	emitter  *sessiontrace.Emitter

	pollInterval time.Duration
	execTimeout  time.Duration

	// wake nudges the worker when new work arrives, so drains are prompt
	// without a tight poll loop.
	wake chan struct{}

	// enqMu serializes the dedup check with the insert so concurrent
	// identical requests cannot both miss the active lookup.
	enqMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewQueue creates a queue executing shared operations via the registry.
func NewQueue(store Store, registry *capability.Registry, opts ...QueueOption) (*Queue, error) {
	if store == nil || registry == nil {
		return nil, errors.New("store and registry are required")
	}
	q := &Queue{
		store:        store,
		registry:     registry,
		pollInterval: defaultPollInterval,
		execTimeout:  defaultExecTimeout,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Start launches the background worker. It returns an error if the queue is
// already running.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.done = make(chan struct{})
	q.started = true
	go q.run(workerCtx)
	return nil
}

// Stop terminates the worker and waits for it to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	cancel, done := q.cancel, q.done
	q.started = false
	q.mu.Unlock()

	cancel()
	<-done
}

// Enqueue records a shared operation and returns its request id. If an
// identical operation (same type and canonical params) is already pending or
// in progress, the existing id is returned and no new work is scheduled.
func (q *Queue) Enqueue(ctx context.Context, sessionID, requesterID, reqType string, params map[string]any) (string, error) {
	canon, err := canonical.Params(params)
	if err != nil {
		return "", fmt.Errorf("canonicalizing params for %q: %w", reqType, err)
	}

	q.enqMu.Lock()
	defer q.enqMu.Unlock()

	if existing, err := q.store.FindActive(ctx, reqType, canon); err != nil {
		return "", fmt.Errorf("checking for duplicate %q request: %w", reqType, err)
	} else if existing != nil {
		clog.FromContext(ctx).With("request_id", existing.ID).With("type", reqType).
			Debug("Deduplicated shared work request")
		return existing.ID, nil
	}

	req := &Request{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		RequesterID:     requesterID,
		Type:            reqType,
		Params:          params,
		CanonicalParams: canon,
		Status:          StatusPending,
	}
	if err := q.store.Append(ctx, req); err != nil {
		return "", fmt.Errorf("enqueueing %q request: %w", reqType, err)
	}
	q.emitter.QueueStatus(ctx, req.ID, reqType, string(StatusPending))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return req.ID, nil
}

// WaitForResult blocks until the request reaches a terminal state or the
// timeout elapses. Multiple concurrent waiters on the same id all receive the
// identical terminal payload. Cancellation of ctx returns promptly.
func (q *Queue) WaitForResult(ctx context.Context, id string, timeout time.Duration) (map[string]any, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		req, err := q.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch req.Status {
		case StatusCompleted:
			return req.Result, nil
		case StatusFailed:
			return nil, fmt.Errorf("%w: %s", ErrRequestFailed, req.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s after %v", ErrWaitTimeout, id, timeout)
		case <-ticker.C:
		}
	}
}

// run is the worker loop. It claims the oldest pending request, executes it,
// and records the terminal state. A failing request never kills the worker.
func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	log := clog.FromContext(ctx)
	log.Info("Shared work queue worker started")

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		// Drain everything pending before sleeping.
		for {
			if ctx.Err() != nil {
				log.Info("Shared work queue worker stopping")
				return
			}
			req, err := q.store.NextPending(ctx)
			if err != nil {
				log.With("error", err.Error()).Error("Failed to claim pending request")
				break
			}
			if req == nil {
				break
			}
			q.process(ctx, req)
		}

		select {
		case <-ctx.Done():
			log.Info("Shared work queue worker stopping")
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// process executes one claimed request through the registry's fallback chain.
func (q *Queue) process(ctx context.Context, req *Request) {
	log := clog.FromContext(ctx).With("request_id", req.ID).With("type", req.Type)

	defer func() {
		// A panicking provider must not take the worker down with it.
		if r := recover(); r != nil {
			msg := fmt.Sprintf("provider panicked: %v", r)
			log.Error(msg)
			if err := q.store.SetFailed(ctx, req.ID, msg); err != nil {
				log.With("error", err.Error()).Error("Failed to record panic failure")
			}
		}
	}()

	if err := q.store.SetInProgress(ctx, req.ID); err != nil {
		log.With("error", err.Error()).Error("Failed to mark request in progress")
		return
	}
	q.emitter.QueueStatus(ctx, req.ID, req.Type, string(StatusInProgress))

	result, costUSD, err := q.execute(ctx, req)
	if err != nil {
		log.With("error", err.Error()).Warn("Shared work request failed")
		if serr := q.store.SetFailed(ctx, req.ID, err.Error()); serr != nil {
			log.With("error", serr.Error()).Error("Failed to record request failure")
		}
		q.emitter.QueueStatus(ctx, req.ID, req.Type, string(StatusFailed))
		return
	}

	if serr := q.store.SetCompleted(ctx, req.ID, result, costUSD); serr != nil {
		log.With("error", serr.Error()).Error("Failed to record request completion")
		return
	}
	if q.ledger != nil && req.SessionID != "" {
		q.ledger.Add(req.SessionID, costUSD)
		q.emitter.Budget(ctx, req.SessionID, costUSD, q.ledger.Exceeded(req.SessionID))
	}
	q.emitter.QueueStatus(ctx, req.ID, req.Type, string(StatusCompleted))
}

func (q *Queue) execute(ctx context.Context, req *Request) (map[string]any, float64, error) {
	providers, err := q.registry.Resolve(req.Type)
	if err != nil {
		return nil, 0, err
	}

	execCtx, cancel := context.WithTimeout(ctx, q.execTimeout)
	defer cancel()

	var lastErr error
	for _, p := range providers {
		res, err := p.Invoke(execCtx, req.Type, req.Params)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			if execCtx.Err() != nil {
				break
			}
			continue
		}
		return res.Payload, res.CostUSD, nil
	}
	return nil, 0, fmt.Errorf("all providers failed for %q: %w", req.Type, lastErr)
}
