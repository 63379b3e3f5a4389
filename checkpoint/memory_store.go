/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the full record history per session in memory. It is
// the default for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]Record
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string][]Record{}}
}

func (m *MemoryStore) Write(_ context.Context, sessionID string, states StateSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.records[sessionID] = append(m.records[sessionID], Record{
		SessionID: sessionID,
		States:    states.Clone(),
		WrittenAt: time.Now().UTC(),
	})
	return nil
}

func (m *MemoryStore) Read(_ context.Context, sessionID string) (StateSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	history := m.records[sessionID]
	if len(history) == 0 {
		return nil, ErrNoCheckpoint
	}
	return history[len(history)-1].States.Clone(), nil
}

// History returns every record written for a session, oldest first. It
// exists for tests that assert the append-only property.
func (m *MemoryStore) History(sessionID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records[sessionID]))
	copy(out, m.records[sessionID])
	return out
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
