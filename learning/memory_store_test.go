/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package learning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chainguard.dev/reviewfleet/factory"
	"chainguard.dev/reviewfleet/orchestrator"
	"github.com/stretchr/testify/require"
)

func diffFor(paths ...string) string {
	out := ""
	for _, p := range paths {
		out += fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ -1 +1 @@\n-old\n+new\n", p, p)
	}
	return out
}

func record(repo string, pr int, finished time.Time, paths ...string) *orchestrator.SessionRecord {
	return &orchestrator.SessionRecord{
		SessionID:  fmt.Sprintf("%s-%d", repo, pr),
		Input:      factory.ReviewInput{Repo: repo, PRNumber: pr, Diff: diffFor(paths...)},
		FinishedAt: finished,
	}
}

func TestGetSimilarRanksByFileOverlap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.StoreSession(ctx, record("org/repo", 1, now.Add(-3*time.Hour), "pkg/auth/token.go")))
	require.NoError(t, s.StoreSession(ctx, record("org/repo", 2, now.Add(-2*time.Hour), "pkg/auth/token.go", "pkg/auth/session.go")))
	require.NoError(t, s.StoreSession(ctx, record("org/repo", 3, now.Add(-1*time.Hour), "docs/README.md")))

	similar, err := s.GetSimilar(ctx, factory.ReviewInput{
		Repo: "org/repo", PRNumber: 9,
		Diff: diffFor("pkg/auth/token.go", "pkg/auth/session.go"),
	})
	require.NoError(t, err)
	require.Len(t, similar, 3)
	require.Equal(t, 2, similar[0].Input.PRNumber, "largest file overlap first")
	require.Equal(t, 1, similar[1].Input.PRNumber)
	require.Equal(t, 3, similar[2].Input.PRNumber)
}

func TestGetSimilarExcludesSamePRAndOtherRepos(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.StoreSession(ctx, record("org/repo", 7, now, "main.go")))
	require.NoError(t, s.StoreSession(ctx, record("org/other", 8, now, "main.go")))

	similar, err := s.GetSimilar(ctx, factory.ReviewInput{Repo: "org/repo", PRNumber: 7, Diff: diffFor("main.go")})
	require.NoError(t, err)
	require.Empty(t, similar, "earlier rounds of the same PR and other repos are not similar sessions")
}

func TestGetSimilarCapsResultsAndPrefersRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.StoreSession(ctx, record("org/repo", i, now.Add(time.Duration(i)*time.Minute), "main.go")))
	}

	similar, err := s.GetSimilar(ctx, factory.ReviewInput{Repo: "org/repo", PRNumber: 99, Diff: diffFor("main.go")})
	require.NoError(t, err)
	require.Len(t, similar, 3)
	require.Equal(t, 5, similar[0].Input.PRNumber, "ties broken toward most recent")
	require.Equal(t, 4, similar[1].Input.PRNumber)
}

func TestStoreSessionEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	for i := 1; i <= maxPerRepo+5; i++ {
		require.NoError(t, s.StoreSession(ctx, record("org/repo", i, now.Add(time.Duration(i)*time.Second), "main.go")))
	}

	s.mu.RLock()
	history := s.byRepo["org/repo"]
	s.mu.RUnlock()
	require.Len(t, history, maxPerRepo)
	require.Equal(t, 6, history[0].Input.PRNumber, "oldest entries evicted first")
}

func TestAddPatternsDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.AddPatterns(ctx, []string{"auth/high", "style/low"}))
	require.NoError(t, s.AddPatterns(ctx, []string{"auth/high", "deps/medium"}))
	require.Equal(t, []string{"auth/high", "deps/medium", "style/low"}, s.Patterns())
}

func TestChangedFilesParsesUnifiedDiff(t *testing.T) {
	diff := "--- a/pkg/a.go\n+++ b/pkg/a.go\n@@ -1 +1 @@\n+x\n--- /dev/null\n+++ b/pkg/new.go\n@@ -0,0 +1 @@\n+y\n"
	require.Equal(t, []string{"pkg/a.go", "pkg/new.go"}, changedFiles(diff))
}
