/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package subtask

import (
	"maps"
	"time"
)

// Request describes one sub-task a task wants executed.
type Request struct {
	// Tag is the capability tag to invoke.
	Tag string `json:"tag"`

	// Params are the provider parameters. Compared canonically for caching
	// and deduplication.
	Params map[string]any `json:"params"`

	// Shared marks operations that must run at most once across all
	// concurrent tasks (a CI run, for example). Shared requests are routed
	// through the shared work queue, never invoked directly.
	Shared bool `json:"shared,omitempty"`
}

// Result is the outcome of one sub-task invocation. Results are append-only
// once recorded on a task's state.
type Result struct {
	Tag       string         `json:"tag"`
	Key       string         `json:"key"`
	Provider  string         `json:"provider,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CostUSD   float64        `json:"cost_usd"`
	Tokens    int64          `json:"tokens"`
	Iteration int            `json:"iteration"`
	Timestamp time.Time      `json:"timestamp"`

	// Failed is set when every provider in the fallback chain failed (or the
	// shared queue wait timed out). Error carries the human-readable reason.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`

	// Cached marks results served from the shared cache at zero cost.
	Cached bool `json:"cached,omitempty"`
}

// clone returns a copy safe to hand to another task; the payload map is
// copied at the top level and treated as read-only below that.
func (r *Result) clone() *Result {
	out := *r
	out.Payload = maps.Clone(r.Payload)
	return &out
}
