/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workqueue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu   sync.Mutex
	rows []*Request
	byID map[string]*Request
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Request)}
}

func (m *MemoryStore) Append(_ context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[req.ID]; ok {
		return fmt.Errorf("request %q already exists", req.ID)
	}
	row := req.clone()
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	m.rows = append(m.rows, row)
	m.byID[row.ID] = row
	return nil
}

func (m *MemoryStore) FindActive(_ context.Context, reqType, canonicalParams string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Type == reqType && row.CanonicalParams == canonicalParams && !row.Status.Terminal() {
			return row.clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) NextPending(_ context.Context) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// rows is append-ordered, so the first pending row is the oldest.
	for _, row := range m.rows {
		if row.Status == StatusPending {
			return row.clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) SetInProgress(_ context.Context, id string) error {
	return m.update(id, func(row *Request) {
		row.Status = StatusInProgress
	})
}

func (m *MemoryStore) SetCompleted(_ context.Context, id string, result map[string]any, costUSD float64) error {
	return m.update(id, func(row *Request) {
		row.Status = StatusCompleted
		row.Result = result
		row.CostUSD = costUSD
	})
}

func (m *MemoryStore) SetFailed(_ context.Context, id string, errMsg string) error {
	return m.update(id, func(row *Request) {
		row.Status = StatusFailed
		row.Error = errMsg
	})
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return row.clone(), nil
}

func (m *MemoryStore) update(id string, fn func(*Request)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	fn(row)
	row.UpdatedAt = time.Now().UTC()
	return nil
}
