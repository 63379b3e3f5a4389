/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package orchestrator

import (
	"context"
	"time"

	"chainguard.dev/reviewfleet/factory"
)

// Status is a session's terminal status.
type Status string

const (
	// StatusCompleted means every specialty finalized normally.
	StatusCompleted Status = "completed"

	// StatusDegradedCostLimit means the session finalized after crossing its
	// cost ceiling; results cover only what ran before the crossing.
	StatusDegradedCostLimit Status = "degraded-cost-limit"

	// StatusFailed means no specialty produced a report.
	StatusFailed Status = "failed"
)

// SessionRecord is the finalized output of a review session, handed to the
// reporting and learning collaborators.
type SessionRecord struct {
	SessionID      string                   `json:"session_id"`
	Input          factory.ReviewInput      `json:"input"`
	SpecialtiesRun []string                 `json:"specialties_run"`
	Reports        []factory.Report         `json:"reports"`
	Findings       []factory.Finding        `json:"findings"`
	Verdict        factory.Verdict          `json:"verdict"`
	CostUSD        float64                  `json:"cost_usd"`
	CostLimitHit   bool                     `json:"cost_limit_hit"`
	Timings        map[string]time.Duration `json:"timings"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     time.Time                `json:"finished_at"`
	Status         Status                   `json:"status"`
	Reason         string                   `json:"reason,omitempty"`
}

// Reporter renders and posts a finalized session record. The core never
// formats human-facing output itself.
type Reporter interface {
	Report(ctx context.Context, rec *SessionRecord) error
}

// LearningStore is the narrow interface to cross-session memory. All calls
// are best-effort; unavailability never blocks a session.
type LearningStore interface {
	GetSimilar(ctx context.Context, input factory.ReviewInput) ([]SessionRecord, error)
	StoreSession(ctx context.Context, rec *SessionRecord) error
	AddPatterns(ctx context.Context, patterns []string) error
}

// VariantSelector optionally overrides the planned specialty list, for
// experiment variants. It receives the deterministic baseline and returns
// the list to run.
type VariantSelector func(input factory.ReviewInput, baseline []string) []string

// verdictRank orders verdicts from best to worst so the session verdict is
// the worst of its specialties'.
func verdictRank(v factory.Verdict) int {
	switch v {
	case factory.VerdictFail:
		return 3
	case factory.VerdictWarn:
		return 2
	case factory.VerdictNeedsWork:
		return 1
	default:
		return 0
	}
}

func worstVerdict(reports []factory.Report) factory.Verdict {
	worst := factory.VerdictPass
	for _, r := range reports {
		if verdictRank(r.Verdict) > verdictRank(worst) {
			worst = r.Verdict
		}
	}
	return worst
}
