/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package subtask invokes capabilities on behalf of a task under a bounded
// concurrency budget, with TTL result caching, provider fallback, per-call
// timeouts, and cost accounting.
//
// Provider failures never cross the task boundary as errors: the executor
// absorbs them through the fallback chain and, if every candidate fails,
// returns a Result with its Failed flag set. The owning task treats that as
// data and keeps going.
package subtask
