/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package factory

import (
	"context"

	"chainguard.dev/reviewfleet/subtask"
)

// ReviewInput is what the session is reviewing. The core never interprets
// the diff; it only hands it to the analyst.
type ReviewInput struct {
	Repo        string `json:"repo"`
	PRNumber    int    `json:"pr_number"`
	Ref         string `json:"ref,omitempty"`
	Diff        string `json:"diff"`
	Conventions string `json:"conventions,omitempty"`
}

// Exchange carries everything an analyst call needs: the template that owns
// the task, the model the selector picked for it, the review input, and the
// task's accumulated state.
type Exchange struct {
	Template Template
	Model    string
	Input    ReviewInput
	State    *State
}

// PlanResult is the analyst's opening move for an iteration.
type PlanResult struct {
	Requests  []subtask.Request
	Reasoning string
}

// Analysis is the analyst's judgement of the gathered results. When
// NeedsMoreWork is set and iterations remain, Requests seeds the next
// iteration's spawn.
type Analysis struct {
	Findings      []Finding
	NeedsMoreWork bool
	Requests      []subtask.Request
	Reasoning     string
}

// Analyst provides the reasoning behind a task: deciding which sub-tasks to
// run and turning their results into findings. Implementations are expected
// to be model-backed; errors are tolerated and recorded as trace data, so a
// broken analyst degrades a task rather than crashing it.
type Analyst interface {
	Plan(ctx context.Context, ex Exchange) (*PlanResult, error)
	Analyze(ctx context.Context, ex Exchange) (*Analysis, error)
}
