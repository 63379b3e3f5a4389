/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chainguard.dev/reviewfleet/capability"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// ciProvider simulates an expensive shared operation (a CI run).
type ciProvider struct {
	mu         sync.Mutex
	executions int
	delay      time.Duration
	fail       error
	failFirst  bool
}

func (c *ciProvider) Name() string   { return "ci-runner" }
func (c *ciProvider) Tags() []string { return []string{"run-checks"} }

func (c *ciProvider) Invoke(ctx context.Context, tag string, params map[string]any) (*capability.Result, error) {
	c.mu.Lock()
	c.executions++
	n := c.executions
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.fail != nil && (!c.failFirst || n == 1) {
		return nil, c.fail
	}
	return &capability.Result{
		Payload: map[string]any{"conclusion": "success", "ref": params["ref"], "run": n},
		CostUSD: 0.10,
	}, nil
}

func (c *ciProvider) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executions
}

func newTestQueue(t *testing.T, p capability.Provider, opts ...QueueOption) *Queue {
	t.Helper()
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register("run-checks", p, 0))
	reg.Freeze()

	q, err := NewQueue(NewMemoryStore(), reg,
		append([]QueueOption{WithPollInterval(5 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	return q
}

func TestEnqueueDeduplicatesConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	// Keep the worker stopped so the first request stays non-terminal.
	q := newTestQueue(t, &ciProvider{})

	params := map[string]any{"ref": "abc123", "suite": "unit"}
	ids := make([]string, 5)
	var g errgroup.Group
	for i := range ids {
		g.Go(func() error {
			// Vary key order to exercise canonicalization.
			p := map[string]any{"suite": "unit", "ref": "abc123"}
			if i%2 == 0 {
				p = params
			}
			id, err := q.Enqueue(ctx, "s1", "task-"+string(rune('a'+i)), "run-checks", p)
			ids[i] = id
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id, "all concurrent identical enqueues must share one request id")
	}
}

func TestSingleExecutionSharedAcrossWaiters(t *testing.T) {
	ctx := context.Background()
	ci := &ciProvider{delay: 10 * time.Millisecond}
	q := newTestQueue(t, ci)
	require.NoError(t, q.Start(ctx))
	t.Cleanup(q.Stop)

	params := map[string]any{"ref": "abc123"}
	var g errgroup.Group
	results := make([]map[string]any, 2)
	for i := range results {
		g.Go(func() error {
			id, err := q.Enqueue(ctx, "s1", "task", "run-checks", params)
			if err != nil {
				return err
			}
			results[i], err = q.WaitForResult(ctx, id, 5*time.Second)
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, ci.count(), "identical shared requests must execute exactly once")
	a, _ := json.Marshal(results[0])
	b, _ := json.Marshal(results[1])
	require.Equal(t, string(a), string(b), "all waiters must see the identical payload")
}

func TestWaitForResultIdempotentAfterCompletion(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, &ciProvider{})
	require.NoError(t, q.Start(ctx))
	t.Cleanup(q.Stop)

	id, err := q.Enqueue(ctx, "s1", "task", "run-checks", map[string]any{"ref": "abc123"})
	require.NoError(t, err)

	first, err := q.WaitForResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	second, err := q.WaitForResult(ctx, id, 5*time.Second)
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	require.Equal(t, string(a), string(b))
}

func TestWaitForResultTimeout(t *testing.T) {
	ctx := context.Background()
	// Worker never started: the request stays pending forever.
	q := newTestQueue(t, &ciProvider{})

	id, err := q.Enqueue(ctx, "s1", "task", "run-checks", map[string]any{"ref": "abc123"})
	require.NoError(t, err)

	_, err = q.WaitForResult(ctx, id, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimeout)
}

func TestWaitForResultSurfacesFailure(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, &ciProvider{fail: errors.New("runner crashed")})
	require.NoError(t, q.Start(ctx))
	t.Cleanup(q.Stop)

	id, err := q.Enqueue(ctx, "s1", "task", "run-checks", map[string]any{"ref": "abc123"})
	require.NoError(t, err)

	_, err = q.WaitForResult(ctx, id, 5*time.Second)
	require.ErrorIs(t, err, ErrRequestFailed)
	require.Contains(t, err.Error(), "runner crashed")
}

func TestWorkerSurvivesFailedRequest(t *testing.T) {
	ctx := context.Background()
	ci := &ciProvider{fail: errors.New("flaky infra"), failFirst: true}
	q := newTestQueue(t, ci)
	require.NoError(t, q.Start(ctx))
	t.Cleanup(q.Stop)

	// First request fails...
	id1, err := q.Enqueue(ctx, "s1", "task", "run-checks", map[string]any{"ref": "bad"})
	require.NoError(t, err)
	_, err = q.WaitForResult(ctx, id1, 5*time.Second)
	require.ErrorIs(t, err, ErrRequestFailed)

	// ...and the worker must still process the next one.
	id2, err := q.Enqueue(ctx, "s1", "task", "run-checks", map[string]any{"ref": "good"})
	require.NoError(t, err)
	result, err := q.WaitForResult(ctx, id2, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "success", result["conclusion"])
}

func TestEnqueueAfterTerminalCreatesNewRequest(t *testing.T) {
	ctx := context.Background()
	ci := &ciProvider{}
	q := newTestQueue(t, ci)
	require.NoError(t, q.Start(ctx))
	t.Cleanup(q.Stop)

	params := map[string]any{"ref": "abc123"}
	id1, err := q.Enqueue(ctx, "s1", "task", "run-checks", params)
	require.NoError(t, err)
	_, err = q.WaitForResult(ctx, id1, 5*time.Second)
	require.NoError(t, err)

	id2, err := q.Enqueue(ctx, "s1", "task", "run-checks", params)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2, "a terminal request must not absorb new enqueues")
}

func TestWaitForResultHonorsCancellation(t *testing.T) {
	q := newTestQueue(t, &ciProvider{})

	id, err := q.Enqueue(context.Background(), "s1", "task", "run-checks", map[string]any{"ref": "abc123"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = q.WaitForResult(ctx, id, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStoreOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.Append(ctx, &Request{ID: id, Type: "run-checks", CanonicalParams: `{"ref":"` + id + `"}`, Status: StatusPending}))
	}

	next, err := store.NextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", next.ID)

	require.NoError(t, store.SetCompleted(ctx, "r1", map[string]any{}, 0))
	next, err = store.NextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, "r2", next.ID)
}
