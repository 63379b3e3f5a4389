/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package capability

import "context"

// Result is the payload returned by a successful provider invocation,
// along with the cost it incurred.
type Result struct {
	// Payload is the provider-specific result data.
	Payload map[string]any `json:"payload"`

	// CostUSD is the dollar cost of the call, as reported by the provider.
	CostUSD float64 `json:"cost_usd"`

	// Tokens is the number of model tokens consumed, if any.
	Tokens int64 `json:"tokens"`
}

// Provider is a pluggable implementation of one or more capability tags.
// What a provider computes is outside the engine's concern; the engine only
// selects, invokes, deduplicates, budgets, and persists.
type Provider interface {
	// Name identifies the provider in logs and traces.
	Name() string

	// Tags lists the capability tags this provider can serve.
	Tags() []string

	// Invoke executes the capability for the given tag and parameters.
	// Implementations must honor ctx cancellation and deadlines.
	Invoke(ctx context.Context, tag string, params map[string]any) (*Result, error)
}
