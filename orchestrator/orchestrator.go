/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"chainguard.dev/reviewfleet/budget"
	"chainguard.dev/reviewfleet/checkpoint"
	"chainguard.dev/reviewfleet/factory"
	"chainguard.dev/reviewfleet/sessiontrace"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// recordKey is the state-set key holding the final session record. It is
// not a valid specialty name, so it never collides with task states.
const recordKey = "_session"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReporter sets the reporting collaborator. Report failures are logged
// and never fail the session.
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithLearning sets the learning-store collaborator.
func WithLearning(l LearningStore) Option {
	return func(o *Orchestrator) { o.learning = l }
}

// WithEmitter sets the observability sink.
func WithEmitter(em *sessiontrace.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = em }
}

// WithVariantSelector overrides the planned specialty list for experiments.
func WithVariantSelector(v VariantSelector) Option {
	return func(o *Orchestrator) { o.variant = v }
}

// Orchestrator owns review sessions end to end.
type Orchestrator struct {
	factory *factory.Factory
	store   checkpoint.Store
	ledger  *budget.Ledger
	ceiling float64

	reporter Reporter
	learning LearningStore
	emitter  *sessiontrace.Emitter
	variant  VariantSelector
}

// New builds an Orchestrator. ceilingUSD is the per-session spend ceiling.
func New(f *factory.Factory, store checkpoint.Store, ledger *budget.Ledger, ceilingUSD float64, opts ...Option) (*Orchestrator, error) {
	if f == nil || store == nil || ledger == nil {
		return nil, fmt.Errorf("factory, checkpoint store, and ledger are required")
	}
	if ceilingUSD <= 0 {
		return nil, fmt.Errorf("cost ceiling must be positive, got %f", ceilingUSD)
	}
	o := &Orchestrator{
		factory: f,
		store:   store,
		ledger:  ledger,
		ceiling: ceilingUSD,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Plan returns the specialties to run: the registered set in deterministic
// order, reordered by learning hints when available, then optionally
// overridden by the variant selector. Learning failures are logged and
// ignored.
func (o *Orchestrator) Plan(ctx context.Context, input factory.ReviewInput) []string {
	baseline := o.factory.Specialties()

	if o.learning != nil {
		similar, err := o.learning.GetSimilar(ctx, input)
		if err != nil {
			clog.FromContext(ctx).Warnf("learning lookup failed, using baseline plan: %v", err)
		} else if len(similar) > 0 {
			baseline = prioritizeByHistory(baseline, similar)
		}
	}

	if o.variant != nil {
		return o.variant(input, baseline)
	}
	return baseline
}

// prioritizeByHistory moves specialties that found issues in similar past
// sessions to the front, keeping the baseline order within each group.
func prioritizeByHistory(baseline []string, similar []SessionRecord) []string {
	productive := map[string]bool{}
	for _, rec := range similar {
		for _, report := range rec.Reports {
			if len(report.Findings) > 0 {
				productive[report.Specialty] = true
			}
		}
	}

	front := make([]string, 0, len(baseline))
	rest := make([]string, 0, len(baseline))
	for _, s := range baseline {
		if productive[s] {
			front = append(front, s)
		} else {
			rest = append(rest, s)
		}
	}
	return append(front, rest...)
}

// Run executes a fresh review session and returns its final record. The
// error return covers only fatal conditions: checkpoint write failures and
// cancellation. A session where every specialty degrades still returns a
// record.
func (o *Orchestrator) Run(ctx context.Context, input factory.ReviewInput) (*SessionRecord, error) {
	sessionID := uuid.NewString()
	if err := o.ledger.StartSession(sessionID, o.ceiling); err != nil {
		return nil, fmt.Errorf("starting budget session: %w", err)
	}
	log := clog.FromContext(ctx).With("session", sessionID, "repo", input.Repo, "pr", input.PRNumber)

	specialties := o.Plan(ctx, input)
	persister := newSetPersister(o.store, sessionID)
	sess := o.factory.Session(sessionID)
	defer sess.Close()

	var tasks []*factory.Task
	var buildErrs []string
	for _, specialty := range specialties {
		task, err := sess.Build(ctx, specialty, input, persister.persist)
		if err != nil {
			log.Errorf("building task for %q: %v", specialty, err)
			buildErrs = append(buildErrs, fmt.Sprintf("%s: %v", specialty, err))
			continue
		}
		tasks = append(tasks, task)
	}

	startedAt := time.Now().UTC()
	if len(tasks) == 0 {
		reason := "no specialties planned"
		if len(buildErrs) > 0 {
			reason = "every specialty failed to build: " + strings.Join(buildErrs, "; ")
		}
		rec := &SessionRecord{
			SessionID:      sessionID,
			Input:          input,
			SpecialtiesRun: specialties,
			Verdict:        factory.VerdictPass,
			StartedAt:      startedAt,
			FinishedAt:     time.Now().UTC(),
			Status:         StatusFailed,
			Reason:         reason,
		}
		if err := persister.putRecord(ctx, rec); err != nil {
			return nil, err
		}
		o.handoff(ctx, rec)
		return rec, nil
	}

	return o.drive(ctx, sessionID, input, tasks, persister, startedAt)
}

// Resume rehydrates a checkpointed session and drives it to completion.
// Tasks already finalized are not re-run, and gathered sub-task results are
// never re-invoked.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, input factory.ReviewInput) (*SessionRecord, error) {
	set, err := o.store.Read(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint for session %q: %w", sessionID, err)
	}

	persister := newSetPersister(o.store, sessionID)
	persister.seed(set)

	var tasks []*factory.Task
	var states []*factory.State
	var specialties []string
	for specialty, raw := range set {
		if specialty == recordKey {
			continue
		}
		st := new(factory.State)
		if err := json.Unmarshal(raw, st); err != nil {
			return nil, fmt.Errorf("rehydrating state for %q: %w", specialty, err)
		}
		states = append(states, st)
		specialties = append(specialties, specialty)
	}

	// Restore spend so the ceiling still binds across the restart.
	if err := o.ledger.StartSession(sessionID, o.ceiling); err == nil {
		for _, st := range states {
			for _, r := range st.Results {
				o.ledger.Add(sessionID, r.CostUSD)
			}
		}
	}

	sess := o.factory.Session(sessionID)
	defer sess.Close()
	for _, st := range states {
		task, err := sess.Rehydrate(ctx, st, input, persister.persist)
		if err != nil {
			return nil, fmt.Errorf("rehydrating task for %q: %w", st.Specialty, err)
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("checkpoint for session %q holds no task states", sessionID)
	}

	clog.FromContext(ctx).With("session", sessionID, "specialties", strings.Join(specialties, ",")).Info("resuming session")
	return o.drive(ctx, sessionID, input, tasks, persister, time.Now().UTC())
}

// drive runs every task to terminal concurrently and aggregates the session
// record. Any task error (checkpointing, cancellation) aborts the session.
func (o *Orchestrator) drive(ctx context.Context, sessionID string, input factory.ReviewInput, tasks []*factory.Task, persister *setPersister, startedAt time.Time) (*SessionRecord, error) {
	var mu sync.Mutex
	reports := make([]factory.Report, 0, len(tasks))
	timings := make(map[string]time.Duration, len(tasks))
	specialties := make([]string, 0, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		specialties = append(specialties, task.Template().Specialty)
		g.Go(func() error {
			start := time.Now()
			report, err := task.Run(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, *report)
			timings[report.Specialty] = time.Since(start)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("session %q aborted: %w", sessionID, err)
	}

	rec := &SessionRecord{
		SessionID:      sessionID,
		Input:          input,
		SpecialtiesRun: specialties,
		Reports:        reports,
		Verdict:        worstVerdict(reports),
		Timings:        timings,
		StartedAt:      startedAt,
		FinishedAt:     time.Now().UTC(),
		Status:         StatusCompleted,
	}
	for _, r := range reports {
		rec.Findings = append(rec.Findings, r.Findings...)
	}
	if entry, ok := o.ledger.Snapshot(sessionID); ok {
		rec.CostUSD = entry.SpentUSD
		rec.CostLimitHit = entry.CostLimitHit
		if entry.CostLimitHit {
			rec.Status = StatusDegradedCostLimit
			rec.Reason = "session cost ceiling reached"
		}
	}
	o.emitter.Budget(ctx, sessionID, rec.CostUSD, rec.CostLimitHit)

	if err := persister.putRecord(ctx, rec); err != nil {
		return nil, err
	}
	o.handoff(ctx, rec)
	return rec, nil
}

// handoff gives the finalized record to the reporting and learning
// collaborators. Both are best-effort.
func (o *Orchestrator) handoff(ctx context.Context, rec *SessionRecord) {
	log := clog.FromContext(ctx).With("session", rec.SessionID, "status", rec.Status)

	if o.reporter != nil {
		if err := o.reporter.Report(ctx, rec); err != nil {
			log.Warnf("reporting failed: %v", err)
		}
	}
	if o.learning != nil {
		if err := o.learning.StoreSession(ctx, rec); err != nil {
			log.Warnf("storing session in learning store failed: %v", err)
		}
		if patterns := findingPatterns(rec.Findings); len(patterns) > 0 {
			if err := o.learning.AddPatterns(ctx, patterns); err != nil {
				log.Warnf("adding patterns to learning store failed: %v", err)
			}
		}
	}
	log.With("verdict", rec.Verdict, "findings", len(rec.Findings), "cost_usd", rec.CostUSD).Info("session finished")
}

// findingPatterns distills findings into category/severity patterns for the
// learning store.
func findingPatterns(findings []factory.Finding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range findings {
		p := fmt.Sprintf("%s/%s", f.Category, f.Severity)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// setPersister serializes checkpoint writes: concurrent tasks persist into
// one shared state set, and each write snapshots the whole set.
type setPersister struct {
	mu        sync.Mutex
	store     checkpoint.Store
	sessionID string
	states    checkpoint.StateSet
}

func newSetPersister(store checkpoint.Store, sessionID string) *setPersister {
	return &setPersister{store: store, sessionID: sessionID, states: checkpoint.StateSet{}}
}

func (p *setPersister) seed(set checkpoint.StateSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = set.Clone()
}

func (p *setPersister) persist(ctx context.Context, st *factory.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state for %q: %w", st.Specialty, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[st.Specialty] = raw
	return p.store.Write(ctx, p.sessionID, p.states)
}

func (p *setPersister) putRecord(ctx context.Context, rec *SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[recordKey] = raw
	if err := p.store.Write(ctx, p.sessionID, p.states); err != nil {
		return fmt.Errorf("persisting final record for session %q: %w", p.sessionID, err)
	}
	return nil
}
