/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package factory

import (
	"fmt"

	"chainguard.dev/reviewfleet/subtask"
)

// Phase is a node of the task state machine.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseSpawning  Phase = "spawning"
	PhaseAnalyzing Phase = "analyzing"
	PhaseFinalized Phase = "finalized"
)

// NextPhase is the pure transition function. planning always advances to
// spawning; spawning advances to analyzing once the iteration's sub-tasks
// are terminal; analyzing loops back to spawning only while more work is
// wanted and iterations remain.
func NextPhase(p Phase, needsMoreWork bool, iteration, maxIterations int) Phase {
	switch p {
	case PhasePlanning:
		return PhaseSpawning
	case PhaseSpawning:
		return PhaseAnalyzing
	case PhaseAnalyzing:
		if needsMoreWork && iteration < maxIterations {
			return PhaseSpawning
		}
		return PhaseFinalized
	default:
		return PhaseFinalized
	}
}

// Severity grades a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Finding is one issue a specialist raised.
type Finding struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Location    string   `json:"location,omitempty"`
	Description string   `json:"description"`
}

// Verdict is a specialty's overall judgement of the change.
type Verdict string

const (
	VerdictPass      Verdict = "PASS"
	VerdictWarn      Verdict = "WARN"
	VerdictNeedsWork Verdict = "NEEDS_WORK"
	VerdictFail      Verdict = "FAIL"
)

// Report is the finalized output of one task.
type Report struct {
	Specialty  string    `json:"specialty"`
	Verdict    Verdict   `json:"verdict"`
	Confidence float64   `json:"confidence"`
	Summary    string    `json:"summary"`
	Findings   []Finding `json:"findings"`
	Iterations int       `json:"iterations"`
	CostUSD    float64   `json:"cost_usd"`
}

// State is a task's full serializable state. The Results, Findings, and
// Trace lists are append-only within a session; a checkpoint written after
// any transition round-trips them exactly.
type State struct {
	Specialty string `json:"specialty"`
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`
	Phase     Phase  `json:"phase"`

	// Pending holds the current iteration's not-yet-gathered requests.
	Pending []subtask.Request `json:"pending,omitempty"`

	Results       []subtask.Result `json:"results,omitempty"`
	Findings      []Finding        `json:"findings,omitempty"`
	Trace         []string         `json:"trace,omitempty"`
	NeedsMoreWork bool             `json:"needs_more_work"`

	Report *Report `json:"report,omitempty"`
}

// NewState returns the initial state for a specialty within a session.
func NewState(specialty, sessionID string) *State {
	return &State{
		Specialty: specialty,
		SessionID: sessionID,
		Phase:     PhasePlanning,
	}
}

// Terminal reports whether the task has finished.
func (s *State) Terminal() bool { return s.Phase == PhaseFinalized }

// gatheredCost sums the cost of every recorded result.
func (s *State) gatheredCost() float64 {
	var total float64
	for _, r := range s.Results {
		total += r.CostUSD
	}
	return total
}

// finalize computes the verdict, confidence, and summary from the
// accumulated findings.
func (s *State) finalize(maxIterations int) *Report {
	var high, medium int
	for _, f := range s.Findings {
		switch f.Severity {
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		}
	}

	verdict := VerdictPass
	switch {
	case high > 0:
		verdict = VerdictFail
	case medium > 0:
		verdict = VerdictWarn
	case len(s.Findings) > 0:
		verdict = VerdictNeedsWork
	}

	// Confidence rises with gathered context and falls with issue severity
	// and overrun iterations, clamped to [0.1, 0.95].
	confidence := 0.8
	confidence += min(0.1, float64(len(s.Results))*0.02)
	confidence -= float64(high)*0.2 + float64(medium)*0.1
	if over := s.Iteration - maxIterations; over > 0 {
		confidence -= float64(over) * 0.1
	}
	confidence = max(0.1, min(0.95, confidence))

	summary := fmt.Sprintf("review completed with %d findings in %d iterations", len(s.Findings), s.Iteration)
	switch {
	case high > 0:
		summary = fmt.Sprintf("review completed with %d findings (%d high severity) in %d iterations",
			len(s.Findings), high, s.Iteration)
	case medium > 0:
		summary = fmt.Sprintf("review completed with %d findings (%d medium severity) in %d iterations",
			len(s.Findings), medium, s.Iteration)
	}

	return &Report{
		Specialty:  s.Specialty,
		Verdict:    verdict,
		Confidence: confidence,
		Summary:    summary,
		Findings:   s.Findings,
		Iterations: s.Iteration,
		CostUSD:    s.gatheredCost(),
	}
}
