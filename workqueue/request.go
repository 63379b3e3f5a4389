/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workqueue

import (
	"context"
	"errors"
	"maps"
	"time"
)

// Status is the lifecycle state of a WorkRequest.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request is one row in the append-only shared work log.
type Request struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	RequesterID string         `json:"requester_id"`
	Type        string         `json:"type"`
	Params      map[string]any `json:"params"`

	// CanonicalParams is the canonical JSON form of Params; equality on
	// (Type, CanonicalParams) is the dedup key.
	CanonicalParams string `json:"canonical_params"`

	Status  Status         `json:"status"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	CostUSD float64        `json:"cost_usd"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Request) clone() *Request {
	out := *r
	out.Params = maps.Clone(r.Params)
	out.Result = maps.Clone(r.Result)
	return &out
}

// ErrNotFound is returned when a request id is unknown to the store.
var ErrNotFound = errors.New("work request not found")

// Store persists WorkRequests. Rows are inserted once and only their status,
// result, and timestamps change afterwards; nothing is ever deleted.
type Store interface {
	// Append inserts a new request row.
	Append(ctx context.Context, req *Request) error

	// FindActive returns the non-terminal request matching (type, canonical
	// params), or nil when none exists.
	FindActive(ctx context.Context, reqType, canonicalParams string) (*Request, error)

	// NextPending returns the oldest pending request, or nil when the queue
	// is drained.
	NextPending(ctx context.Context) (*Request, error)

	// SetInProgress transitions a request to in_progress.
	SetInProgress(ctx context.Context, id string) error

	// SetCompleted transitions a request to completed with its result.
	SetCompleted(ctx context.Context, id string, result map[string]any, costUSD float64) error

	// SetFailed transitions a request to failed with the error message.
	SetFailed(ctx context.Context, id string, errMsg string) error

	// Get returns the request by id.
	Get(ctx context.Context, id string) (*Request, error)
}
