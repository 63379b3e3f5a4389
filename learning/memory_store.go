/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package learning keeps cross-session review memory: finished session
// records and distilled finding patterns. The orchestrator consults it
// best-effort while planning, so every operation here is cheap and never
// blocks on external systems.
package learning

import (
	"context"
	"sort"
	"strings"
	"sync"

	"chainguard.dev/reviewfleet/factory"
	"chainguard.dev/reviewfleet/orchestrator"
)

const (
	// maxSimilar bounds how many past sessions a lookup returns.
	maxSimilar = 3

	// maxPerRepo bounds retained history per repository, oldest evicted.
	maxPerRepo = 50
)

// MemoryStore is an in-process learning store. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	byRepo   map[string][]orchestrator.SessionRecord
	patterns map[string]bool
}

var _ orchestrator.LearningStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRepo:   map[string][]orchestrator.SessionRecord{},
		patterns: map[string]bool{},
	}
}

// GetSimilar returns up to three past sessions for the same repository,
// ranked by how many changed files they share with the given input and
// breaking ties toward the most recent. Sessions for the same PR number are
// excluded; they are earlier rounds of the review under way.
func (s *MemoryStore) GetSimilar(_ context.Context, input factory.ReviewInput) ([]orchestrator.SessionRecord, error) {
	files := changedFiles(input.Diff)

	s.mu.RLock()
	history := s.byRepo[input.Repo]
	candidates := make([]orchestrator.SessionRecord, 0, len(history))
	for _, rec := range history {
		if rec.Input.PRNumber == input.PRNumber {
			continue
		}
		candidates = append(candidates, rec)
	}
	s.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		oi := overlap(files, changedFiles(candidates[i].Input.Diff))
		oj := overlap(files, changedFiles(candidates[j].Input.Diff))
		if oi != oj {
			return oi > oj
		}
		return candidates[i].FinishedAt.After(candidates[j].FinishedAt)
	})

	if len(candidates) > maxSimilar {
		candidates = candidates[:maxSimilar]
	}
	return candidates, nil
}

// StoreSession records a finished session, evicting the oldest entry for
// the repository once the cap is reached.
func (s *MemoryStore) StoreSession(_ context.Context, rec *orchestrator.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.byRepo[rec.Input.Repo], *rec)
	if len(history) > maxPerRepo {
		history = history[len(history)-maxPerRepo:]
	}
	s.byRepo[rec.Input.Repo] = history
	return nil
}

// AddPatterns merges finding patterns into the known set.
func (s *MemoryStore) AddPatterns(_ context.Context, patterns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		s.patterns[p] = true
	}
	return nil
}

// Patterns returns the known finding patterns, sorted.
func (s *MemoryStore) Patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.patterns))
	for p := range s.patterns {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// changedFiles extracts the touched paths from a unified diff.
func changedFiles(diff string) []string {
	var out []string
	for _, line := range strings.Split(diff, "\n") {
		if path, ok := strings.CutPrefix(line, "+++ b/"); ok && path != "" {
			out = append(out, path)
		}
	}
	return out
}

func overlap(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	n := 0
	for _, f := range b {
		if set[f] {
			n++
		}
	}
	return n
}
