/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package factory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chainguard.dev/reviewfleet/budget"
	"chainguard.dev/reviewfleet/capability"
	"chainguard.dev/reviewfleet/modelpool"
	"chainguard.dev/reviewfleet/sessiontrace"
	"chainguard.dev/reviewfleet/subtask"
	"chainguard.dev/reviewfleet/workqueue"
)

const (
	defaultCacheTTL          = 15 * time.Minute
	defaultSharedWaitTimeout = 10 * time.Minute
)

// Option configures a Factory.
type Option func(*Factory)

// WithQueue routes shared requests through the given work queue. Without
// one, templates whose analysts emit shared requests get error-flagged
// results for them.
func WithQueue(q *workqueue.Queue) Option {
	return func(f *Factory) { f.queue = q }
}

// WithEmitter attaches an observability emitter to every built task.
func WithEmitter(em *sessiontrace.Emitter) Option {
	return func(f *Factory) { f.emitter = em }
}

// WithCacheTTL overrides how long sub-task results are shared between
// iterations and tasks.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Factory) { f.cacheTTL = ttl }
}

// WithSharedWaitTimeout bounds how long a task blocks on a shared request.
func WithSharedWaitTimeout(d time.Duration) Option {
	return func(f *Factory) { f.sharedWaitTimeout = d }
}

// WithStrategy sets the model-selection strategy for built tasks.
func WithStrategy(s modelpool.Strategy) Option {
	return func(f *Factory) { f.strategy = s }
}

// Factory validates and registers templates, then builds tasks from them
// through per-session handles. Register everything at startup; Session and
// Build are safe for concurrent use once registration is done.
type Factory struct {
	templates map[string]Template
	registry  *capability.Registry
	analyst   Analyst
	ledger    *budget.Ledger
	selector  *modelpool.Selector
	strategy  modelpool.Strategy

	queue             *workqueue.Queue
	emitter           *sessiontrace.Emitter
	cacheTTL          time.Duration
	sharedWaitTimeout time.Duration
}

func New(registry *capability.Registry, analyst Analyst, ledger *budget.Ledger, selector *modelpool.Selector, opts ...Option) (*Factory, error) {
	if registry == nil {
		return nil, fmt.Errorf("factory requires a capability registry")
	}
	if analyst == nil {
		return nil, fmt.Errorf("factory requires an analyst")
	}
	if ledger == nil {
		return nil, fmt.Errorf("factory requires a budget ledger")
	}
	if selector == nil {
		selector = modelpool.NewSelector()
	}
	f := &Factory{
		templates:         map[string]Template{},
		registry:          registry,
		analyst:           analyst,
		ledger:            ledger,
		selector:          selector,
		strategy:          modelpool.StrategyBestAvailable,
		cacheTTL:          defaultCacheTTL,
		sharedWaitTimeout: defaultSharedWaitTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// RegisterTemplate validates the template and verifies every capability tag
// it references has at least one provider. This is the only validation
// point; downstream code trusts registered templates.
func (f *Factory) RegisterTemplate(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := f.registry.Verify(t.Capabilities...); err != nil {
		return fmt.Errorf("template %q: %w", t.Specialty, err)
	}
	if _, exists := f.templates[t.Specialty]; exists {
		return fmt.Errorf("%w: template %q already registered", ErrInvalidTemplate, t.Specialty)
	}
	f.templates[t.Specialty] = t
	return nil
}

// Specialties returns the registered specialty names, sorted.
func (f *Factory) Specialties() []string {
	out := make([]string, 0, len(f.templates))
	for name := range f.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Template returns a registered template by specialty.
func (f *Factory) Template(specialty string) (Template, bool) {
	t, ok := f.templates[specialty]
	return t, ok
}

// Session holds the resources every task in one review session shares: the
// read-shared sub-task result cache. Acquire it at session start and Close
// it on every exit path; tasks never own shared resources themselves.
type Session struct {
	factory *Factory
	id      string
	cache   *subtask.Cache
}

// Session acquires the shared resources for one review session.
func (f *Factory) Session(sessionID string) *Session {
	cache := subtask.NewCache(f.cacheTTL)
	cache.Start()
	return &Session{factory: f, id: sessionID, cache: cache}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Close releases the session's shared resources.
func (s *Session) Close() { s.cache.Stop() }

// Build constructs a task for a specialty with a fresh initial state.
func (s *Session) Build(ctx context.Context, specialty string, input ReviewInput, persist PersistFunc) (*Task, error) {
	return s.factory.build(ctx, specialty, s.id, input, nil, s.cache, persist)
}

// Rehydrate constructs a task around a checkpointed state so Run re-enters
// the state machine where the checkpoint left off.
func (s *Session) Rehydrate(ctx context.Context, st *State, input ReviewInput, persist PersistFunc) (*Task, error) {
	if st == nil {
		return nil, fmt.Errorf("rehydrate requires a state")
	}
	return s.factory.build(ctx, st.Specialty, s.id, input, st, s.cache, persist)
}

func (f *Factory) build(ctx context.Context, specialty, sessionID string, input ReviewInput, st *State, cache *subtask.Cache, persist PersistFunc) (*Task, error) {
	tmpl, ok := f.templates[specialty]
	if !ok {
		return nil, fmt.Errorf("%w: no template registered for specialty %q", ErrInvalidTemplate, specialty)
	}
	if persist == nil {
		return nil, fmt.Errorf("building %q: a persist function is required", specialty)
	}

	model, err := f.selector.Select(tmpl.Role, tmpl.Pool, f.strategy)
	if err != nil {
		return nil, fmt.Errorf("selecting model for %q: %w", specialty, err)
	}

	execOpts := []subtask.Option{}
	if f.emitter != nil {
		execOpts = append(execOpts, subtask.WithEmitter(f.emitter))
	}
	executor, err := subtask.NewExecutor(sessionID, int64(tmpl.SubtaskBudget), f.registry, cache, f.ledger, execOpts...)
	if err != nil {
		return nil, fmt.Errorf("building executor for %q: %w", specialty, err)
	}

	if st == nil {
		st = NewState(specialty, sessionID)
	}
	return &Task{
		tmpl:              tmpl,
		model:             model,
		input:             input,
		state:             st,
		analyst:           f.analyst,
		executor:          executor,
		queue:             f.queue,
		ledger:            f.ledger,
		emitter:           f.emitter,
		persist:           persist,
		sharedWaitTimeout: f.sharedWaitTimeout,
	}, nil
}
