/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package subtask

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chainguard.dev/reviewfleet/budget"
	"chainguard.dev/reviewfleet/canonical"
	"chainguard.dev/reviewfleet/capability"
	"chainguard.dev/reviewfleet/retry"
	"chainguard.dev/reviewfleet/sessiontrace"
	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/semaphore"
)

const defaultCallTimeout = 2 * time.Minute

// Option configures an Executor.
type Option func(*Executor)

// WithCallTimeout sets the per-provider-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Executor) { e.callTimeout = d }
}

// WithRetry sets the retry policy applied within each provider attempt and
// the classifier deciding which errors are worth retrying. A nil classifier
// retries everything except context errors.
func WithRetry(cfg retry.Config, retryable func(error) bool) Option {
	return func(e *Executor) {
		e.retryCfg = cfg
		e.retryable = retryable
	}
}

// WithEmitter sets the observability sink.
func WithEmitter(em *sessiontrace.Emitter) Option {
	return func(e *Executor) { e.emitter = em }
}

// Executor runs sub-tasks for a single owning task. The concurrency budget is
// per-executor (per-task); the cache and ledger are shared session-wide.
type Executor struct {
	sessionID string
	registry  *capability.Registry
	cache     *Cache
	ledger    *budget.Ledger
	slots     *semaphore.Weighted

	callTimeout time.Duration
	retryCfg    retry.Config
	retryable   func(error) bool
	emitter     *sessiontrace.Emitter
}

// NewExecutor creates an executor bounded to concurrency parallel invocations
// for the given session. The cache must be the session's shared cache.
func NewExecutor(sessionID string, concurrency int64, registry *capability.Registry, cache *Cache, ledger *budget.Ledger, opts ...Option) (*Executor, error) {
	if concurrency < 1 {
		return nil, fmt.Errorf("sub-task concurrency must be at least 1, got %d", concurrency)
	}
	if registry == nil || cache == nil || ledger == nil {
		return nil, fmt.Errorf("registry, cache, and ledger are required")
	}
	e := &Executor{
		sessionID:   sessionID,
		registry:    registry,
		cache:       cache,
		ledger:      ledger,
		slots:       semaphore.NewWeighted(concurrency),
		callTimeout: defaultCallTimeout,
		retryCfg:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Invoke executes the capability identified by tag with the given params and
// returns the outcome as data. It never returns an error: provider failures,
// timeouts, and cancellation all surface as a Result with Failed set.
func (e *Executor) Invoke(ctx context.Context, iteration int, tag string, params map[string]any) *Result {
	log := clog.FromContext(ctx).With("session_id", e.sessionID).With("tag", tag)

	if err := ctx.Err(); err != nil {
		return e.failure(ctx, tag, "", iteration, fmt.Sprintf("cancelled before invocation: %v", err))
	}

	key, err := canonical.Key(tag, params)
	if err != nil {
		return e.failure(ctx, tag, "", iteration, fmt.Sprintf("canonicalizing params: %v", err))
	}

	if cached, ok := e.cache.Get(key); ok {
		log.With("key", key).Debug("Sub-task cache hit")
		hit := *cached
		hit.Iteration = iteration
		hit.Cached = true
		e.emitter.Subtask(ctx, e.sessionID, tag, true, hit.Failed)
		return &hit
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return e.failure(ctx, tag, key, iteration, fmt.Sprintf("cancelled while waiting for a concurrency slot: %v", err))
	}
	defer e.slots.Release(1)

	// Checked under the slot so a crossing recorded by a concurrent
	// invocation is visible here; nothing cost-bearing runs past the ceiling.
	if e.ledger.Exceeded(e.sessionID) {
		return e.failure(ctx, tag, key, iteration, "session cost ceiling reached; request not attempted")
	}

	providers, err := e.registry.Resolve(tag)
	if err != nil {
		// Templates are verified against the registry at registration, so
		// this only fires if a task requests a tag outside its template.
		return e.failure(ctx, tag, key, iteration, err.Error())
	}

	var attemptErrs []string
	for _, p := range providers {
		payload, err := e.attempt(ctx, p, tag, params)
		if err != nil {
			attemptErrs = append(attemptErrs, fmt.Sprintf("%s: %v", p.Name(), err))
			log.With("provider", p.Name()).With("error", err.Error()).Warn("Provider failed, trying next candidate")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		res := &Result{
			Tag:       tag,
			Key:       key,
			Provider:  p.Name(),
			Payload:   payload.Payload,
			CostUSD:   payload.CostUSD,
			Tokens:    payload.Tokens,
			Iteration: iteration,
			Timestamp: time.Now().UTC(),
		}
		e.ledger.Add(e.sessionID, res.CostUSD)
		e.emitter.Budget(ctx, e.sessionID, res.CostUSD, e.ledger.Exceeded(e.sessionID))
		e.emitter.Subtask(ctx, e.sessionID, tag, false, false)
		e.cache.Put(key, res)
		return res
	}

	res := e.failure(ctx, tag, key, iteration,
		fmt.Sprintf("all %d providers failed for %q: %s", len(providers), tag, strings.Join(attemptErrs, "; ")))
	e.cache.Put(key, res)
	return res
}

// attempt runs a single provider with the per-call timeout and retry policy.
// A timeout counts as a provider failure so the fallback chain advances.
func (e *Executor) attempt(ctx context.Context, p capability.Provider, tag string, params map[string]any) (*capability.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	retryable := e.retryable
	if retryable == nil {
		retryable = func(err error) bool { return callCtx.Err() == nil }
	}
	return retry.Do(callCtx, e.retryCfg, tag+"/"+p.Name(), retryable, func() (*capability.Result, error) {
		return p.Invoke(callCtx, tag, params)
	})
}

func (e *Executor) failure(ctx context.Context, tag, key string, iteration int, msg string) *Result {
	e.emitter.Subtask(ctx, e.sessionID, tag, false, true)
	return &Result{
		Tag:       tag,
		Key:       key,
		Iteration: iteration,
		Timestamp: time.Now().UTC(),
		Failed:    true,
		Error:     msg,
	}
}
