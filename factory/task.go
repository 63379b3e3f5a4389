/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package factory

import (
	"context"
	"fmt"
	"time"

	"chainguard.dev/reviewfleet/budget"
	"chainguard.dev/reviewfleet/canonical"
	"chainguard.dev/reviewfleet/sessiontrace"
	"chainguard.dev/reviewfleet/subtask"
	"chainguard.dev/reviewfleet/workqueue"
	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// PersistFunc makes the task's state durable. It is called after every
// phase transition; an error is fatal for the session because progress
// cannot be claimed without a checkpoint.
type PersistFunc func(ctx context.Context, st *State) error

// Task drives one specialty from planning to a finalized report. It is not
// safe for concurrent use; the orchestrator runs each task on its own
// goroutine.
type Task struct {
	tmpl     Template
	model    string
	input    ReviewInput
	state    *State
	analyst  Analyst
	executor *subtask.Executor
	queue    *workqueue.Queue
	ledger   *budget.Ledger
	emitter  *sessiontrace.Emitter
	persist  PersistFunc

	sharedWaitTimeout time.Duration
}

// State exposes the task's state for checkpointing and aggregation.
func (t *Task) State() *State { return t.state }

// Template returns the template the task was built from.
func (t *Task) Template() Template { return t.tmpl }

// Run drives the state machine to finalized and returns the report. It
// re-enters at whatever phase the state carries, so a rehydrated task
// resumes mid-flight. The only error returns are checkpoint failures and
// context cancellation; analyst and provider failures are recorded as data.
func (t *Task) Run(ctx context.Context) (*Report, error) {
	log := clog.FromContext(ctx).With("specialty", t.tmpl.Specialty, "session", t.state.SessionID)

	for !t.state.Terminal() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch t.state.Phase {
		case PhasePlanning:
			err = t.plan(ctx)
		case PhaseSpawning:
			err = t.spawn(ctx)
		case PhaseAnalyzing:
			err = t.analyze(ctx)
		default:
			err = fmt.Errorf("task %q in unknown phase %q", t.tmpl.Specialty, t.state.Phase)
		}
		if err != nil {
			return nil, err
		}
	}
	log.With("verdict", t.state.Report.Verdict, "findings", len(t.state.Report.Findings)).Info("task finalized")
	return t.state.Report, nil
}

// advance moves to the next phase and checkpoints the new state before
// anything observes it.
func (t *Task) advance(ctx context.Context, to Phase) error {
	from := t.state.Phase
	t.state.Phase = to
	if err := t.persist(ctx, t.state); err != nil {
		t.state.Phase = from
		return fmt.Errorf("checkpointing %s/%s at %s: %w", t.state.SessionID, t.tmpl.Specialty, to, err)
	}
	t.emitter.Transition(ctx, t.state.SessionID, t.tmpl.Specialty, string(from), string(to))
	return nil
}

func (t *Task) plan(ctx context.Context) error {
	t.state.Iteration = 1

	switch {
	case t.ledger.Exceeded(t.state.SessionID):
		t.state.Trace = append(t.state.Trace, "cost limit already reached; skipping planning")
	default:
		plan, err := t.analyst.Plan(ctx, Exchange{Template: t.tmpl, Model: t.model, Input: t.input, State: t.state})
		if err != nil {
			clog.FromContext(ctx).With("specialty", t.tmpl.Specialty).Warnf("planning failed: %v", err)
			t.state.Trace = append(t.state.Trace, fmt.Sprintf("planning failed: %v", err))
		} else {
			t.state.Pending = plan.Requests
			t.state.Trace = append(t.state.Trace, plan.Reasoning)
		}
	}
	return t.advance(ctx, PhaseSpawning)
}

// spawn executes the iteration's pending requests. The executor's semaphore
// bounds concurrency to the template's sub-task budget; results land in
// request order regardless of completion order. Requests whose result is
// already gathered for this iteration are skipped, which is what makes a
// resumed task free.
func (t *Task) spawn(ctx context.Context) error {
	requests := t.state.Pending
	results := make([]*subtask.Result, len(requests))

	var g errgroup.Group
	for i, req := range requests {
		key, err := canonical.Key(req.Tag, req.Params)
		if err != nil {
			results[i] = &subtask.Result{
				Tag: req.Tag, Iteration: t.state.Iteration, Timestamp: time.Now().UTC(),
				Failed: true, Error: fmt.Sprintf("canonicalizing params: %v", err),
			}
			continue
		}
		if t.gathered(key) {
			continue
		}
		if t.ledger.Exceeded(t.state.SessionID) {
			t.state.Trace = append(t.state.Trace, fmt.Sprintf("cost limit reached; %d requests not issued", len(requests)-i))
			break
		}
		g.Go(func() error {
			if req.Shared {
				results[i] = t.runShared(ctx, req, key)
			} else {
				results[i] = t.executor.Invoke(ctx, t.state.Iteration, req.Tag, req.Params)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r != nil {
			t.state.Results = append(t.state.Results, *r)
		}
	}
	t.state.Pending = nil
	return t.advance(ctx, PhaseAnalyzing)
}

// runShared routes a request through the shared work queue so identical
// operations requested by concurrent tasks execute once. Failures and
// timeouts come back as error-flagged results, never as errors.
func (t *Task) runShared(ctx context.Context, req subtask.Request, key string) *subtask.Result {
	result := &subtask.Result{
		Tag:       req.Tag,
		Key:       key,
		Iteration: t.state.Iteration,
		Timestamp: time.Now().UTC(),
	}
	if t.queue == nil {
		result.Failed = true
		result.Error = fmt.Sprintf("shared request %q: no work queue configured", req.Tag)
		return result
	}
	id, err := t.queue.Enqueue(ctx, t.state.SessionID, t.tmpl.Specialty, req.Tag, req.Params)
	if err != nil {
		result.Failed = true
		result.Error = fmt.Sprintf("enqueueing shared %q: %v", req.Tag, err)
		return result
	}
	payload, err := t.queue.WaitForResult(ctx, id, t.sharedWaitTimeout)
	if err != nil {
		result.Failed = true
		result.Error = fmt.Sprintf("waiting on shared %q: %v", req.Tag, err)
	} else {
		result.Payload = payload
	}
	t.emitter.Subtask(ctx, t.state.SessionID, req.Tag, false, result.Failed)
	return result
}

// gathered reports whether a result for this key already exists in the
// current iteration.
func (t *Task) gathered(key string) bool {
	for _, r := range t.state.Results {
		if r.Key == key && r.Iteration == t.state.Iteration {
			return true
		}
	}
	return false
}

func (t *Task) analyze(ctx context.Context) error {
	exceeded := t.ledger.Exceeded(t.state.SessionID)

	var analysis *Analysis
	if exceeded {
		analysis = &Analysis{Reasoning: "cost limit reached; finalizing with gathered results"}
	} else {
		var err error
		analysis, err = t.analyst.Analyze(ctx, Exchange{Template: t.tmpl, Model: t.model, Input: t.input, State: t.state})
		if err != nil {
			clog.FromContext(ctx).With("specialty", t.tmpl.Specialty).Warnf("analysis failed: %v", err)
			analysis = &Analysis{Reasoning: fmt.Sprintf("analysis failed: %v", err)}
		}
	}

	t.state.Findings = append(t.state.Findings, analysis.Findings...)
	t.state.Trace = append(t.state.Trace, analysis.Reasoning)
	t.state.NeedsMoreWork = analysis.NeedsMoreWork && !exceeded

	next := NextPhase(PhaseAnalyzing, t.state.NeedsMoreWork, t.state.Iteration, t.tmpl.MaxIterations)
	if next == PhaseSpawning {
		t.state.Iteration++
		t.state.Pending = analysis.Requests
		return t.advance(ctx, PhaseSpawning)
	}

	t.state.NeedsMoreWork = false
	t.state.Report = t.state.finalize(t.tmpl.MaxIterations)
	return t.advance(ctx, PhaseFinalized)
}
