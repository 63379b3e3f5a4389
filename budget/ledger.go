/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package budget

import (
	"fmt"
	"sync"
)

// Entry is a snapshot of one session's spend.
type Entry struct {
	SessionID    string  `json:"session_id"`
	SpentUSD     float64 `json:"spent_usd"`
	CeilingUSD   float64 `json:"ceiling_usd"`
	CostLimitHit bool    `json:"cost_limit_hit"`
}

// Ledger accumulates cost per session and enforces the ceiling.
// Safe for concurrent use by all tasks in a session.
type Ledger struct {
	mu       sync.Mutex
	sessions map[string]*Entry
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{sessions: make(map[string]*Entry)}
}

// StartSession begins tracking a session with the given ceiling.
func (l *Ledger) StartSession(sessionID string, ceilingUSD float64) error {
	if ceilingUSD <= 0 {
		return fmt.Errorf("cost ceiling must be positive, got %f", ceilingUSD)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[sessionID]; ok {
		return fmt.Errorf("session %q already tracked", sessionID)
	}
	l.sessions[sessionID] = &Entry{SessionID: sessionID, CeilingUSD: ceilingUSD}
	return nil
}

// Add records spend against a session. The addition that crosses the ceiling
// is still recorded (the call was already paid for), and the session is
// flagged so no further cost-bearing work is issued.
func (l *Ledger) Add(sessionID string, costUSD float64) {
	if costUSD <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.sessions[sessionID]
	if !ok {
		return
	}
	e.SpentUSD += costUSD
	if e.SpentUSD > e.CeilingUSD {
		e.CostLimitHit = true
	}
}

// Exceeded reports whether the session has crossed its ceiling.
func (l *Ledger) Exceeded(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.sessions[sessionID]; ok {
		return e.CostLimitHit
	}
	return false
}

// Snapshot returns a copy of the session's entry, or false if untracked.
func (l *Ledger) Snapshot(sessionID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.sessions[sessionID]; ok {
		return *e, true
	}
	return Entry{}, false
}
