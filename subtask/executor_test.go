/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package subtask

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chainguard.dev/reviewfleet/budget"
	"chainguard.dev/reviewfleet/capability"
	"chainguard.dev/reviewfleet/retry"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeProvider is a scriptable capability provider for executor tests.
type fakeProvider struct {
	name  string
	tags  []string
	fail  error
	hang  time.Duration
	cost  float64
	mu    sync.Mutex
	calls int
	spans [][2]time.Time
}

func (f *fakeProvider) Name() string   { return f.name }
func (f *fakeProvider) Tags() []string { return f.tags }

func (f *fakeProvider) Invoke(ctx context.Context, tag string, params map[string]any) (*capability.Result, error) {
	start := time.Now()
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.hang > 0 {
		select {
		case <-time.After(f.hang):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.spans = append(f.spans, [2]time.Time{start, time.Now()})
	f.mu.Unlock()

	if f.fail != nil {
		return nil, f.fail
	}
	return &capability.Result{
		Payload: map[string]any{"provider": f.name, "tag": tag},
		CostUSD: f.cost,
		Tokens:  100,
	}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func noRetries() Option {
	return WithRetry(retry.Config{MaxRetries: 0}, nil)
}

func newTestExecutor(t *testing.T, concurrency int64, providers map[string][]capability.Provider, opts ...Option) (*Executor, *budget.Ledger) {
	t.Helper()
	reg := capability.NewRegistry()
	for tag, ps := range providers {
		for i, p := range ps {
			require.NoError(t, reg.Register(tag, p, i))
		}
	}
	reg.Freeze()

	cache := NewCache(time.Hour)
	cache.Start()
	t.Cleanup(cache.Stop)

	ledger := budget.NewLedger()
	require.NoError(t, ledger.StartSession("s1", 10.0))

	exec, err := NewExecutor("s1", concurrency, reg, cache, ledger, append([]Option{noRetries()}, opts...)...)
	require.NoError(t, err)
	return exec, ledger
}

func TestInvokeSuccessRecordsCost(t *testing.T) {
	p := &fakeProvider{name: "zoekt", tags: []string{"code-search"}, cost: 0.02}
	exec, ledger := newTestExecutor(t, 2, map[string][]capability.Provider{"code-search": {p}})

	res := exec.Invoke(context.Background(), 1, "code-search", map[string]any{"query": "foo"})
	require.False(t, res.Failed)
	require.Equal(t, "zoekt", res.Provider)
	require.Equal(t, 1, res.Iteration)
	require.InDelta(t, 0.02, res.CostUSD, 1e-9)

	e, _ := ledger.Snapshot("s1")
	require.InDelta(t, 0.02, e.SpentUSD, 1e-9)
}

func TestInvokeCacheHitIsFree(t *testing.T) {
	p := &fakeProvider{name: "zoekt", tags: []string{"code-search"}, cost: 0.02}
	exec, ledger := newTestExecutor(t, 2, map[string][]capability.Provider{"code-search": {p}})

	ctx := context.Background()
	first := exec.Invoke(ctx, 1, "code-search", map[string]any{"query": "foo", "files": []any{"a.go"}})
	require.False(t, first.Cached)

	// Same params in a different map order must hit the cache.
	second := exec.Invoke(ctx, 2, "code-search", map[string]any{"files": []any{"a.go"}, "query": "foo"})
	require.True(t, second.Cached)
	require.Equal(t, 2, second.Iteration)
	require.Equal(t, first.Payload, second.Payload)

	require.Equal(t, 1, p.callCount(), "cache hit must not re-invoke the provider")
	e, _ := ledger.Snapshot("s1")
	require.InDelta(t, 0.02, e.SpentUSD, 1e-9, "cache hit must not be charged")
}

func TestInvokeFallbackOrder(t *testing.T) {
	primary := &fakeProvider{name: "zoekt", tags: []string{"code-search"}, fail: errors.New("index offline")}
	secondary := &fakeProvider{name: "grep", tags: []string{"code-search"}}
	exec, _ := newTestExecutor(t, 1, map[string][]capability.Provider{"code-search": {primary, secondary}})

	res := exec.Invoke(context.Background(), 1, "code-search", map[string]any{"query": "foo"})
	require.False(t, res.Failed)
	require.Equal(t, "grep", res.Provider)
	require.Equal(t, 1, primary.callCount())
	require.Equal(t, 1, secondary.callCount())
}

func TestInvokeAllFailReturnsDataNotError(t *testing.T) {
	a := &fakeProvider{name: "zoekt", tags: []string{"code-search"}, fail: errors.New("index offline")}
	b := &fakeProvider{name: "grep", tags: []string{"code-search"}, fail: errors.New("binary missing")}
	exec, ledger := newTestExecutor(t, 1, map[string][]capability.Provider{"code-search": {a, b}})

	res := exec.Invoke(context.Background(), 1, "code-search", map[string]any{"query": "foo"})
	require.True(t, res.Failed)
	require.Contains(t, res.Error, "all 2 providers failed")
	require.Contains(t, res.Error, "index offline")
	require.Contains(t, res.Error, "binary missing")
	require.Zero(t, res.CostUSD)

	e, _ := ledger.Snapshot("s1")
	require.Zero(t, e.SpentUSD)
}

func TestInvokeTimeoutAdvancesFallback(t *testing.T) {
	slow := &fakeProvider{name: "slow", tags: []string{"git-history"}, hang: time.Second}
	fast := &fakeProvider{name: "fast", tags: []string{"git-history"}}
	exec, _ := newTestExecutor(t, 1, map[string][]capability.Provider{"git-history": {slow, fast}},
		WithCallTimeout(20*time.Millisecond))

	res := exec.Invoke(context.Background(), 1, "git-history", map[string]any{"path": "a.go"})
	require.False(t, res.Failed)
	require.Equal(t, "fast", res.Provider)
}

func TestInvokeUnknownTag(t *testing.T) {
	exec, _ := newTestExecutor(t, 1, map[string][]capability.Provider{})

	res := exec.Invoke(context.Background(), 1, "test-coverage", nil)
	require.True(t, res.Failed)
	require.Contains(t, res.Error, "no providers registered")
}

func TestInvokeConcurrencyBound(t *testing.T) {
	p := &fakeProvider{name: "zoekt", tags: []string{"code-search"}, hang: 20 * time.Millisecond}
	exec, _ := newTestExecutor(t, 1, map[string][]capability.Provider{"code-search": {p}})

	var g errgroup.Group
	for i := range 3 {
		g.Go(func() error {
			// Distinct params so the cache cannot collapse the calls.
			res := exec.Invoke(context.Background(), 1, "code-search", map[string]any{"query": i})
			if res.Failed {
				return errors.New(res.Error)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.spans, 3)
	for i := 1; i < len(p.spans); i++ {
		for j := range i {
			a, b := p.spans[j], p.spans[i]
			overlap := a[0].Before(b[1]) && b[0].Before(a[1])
			require.False(t, overlap, "executions %d and %d overlap under concurrency 1", j, i)
		}
	}
}

func TestInvokeCancelledContext(t *testing.T) {
	p := &fakeProvider{name: "zoekt", tags: []string{"code-search"}}
	exec, _ := newTestExecutor(t, 1, map[string][]capability.Provider{"code-search": {p}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := exec.Invoke(ctx, 1, "code-search", map[string]any{"query": "foo"})
	require.True(t, res.Failed)
}
