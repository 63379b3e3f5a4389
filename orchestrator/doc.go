/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package orchestrator plans which review specialties run for a session,
// drives each task to a terminal state concurrently, aggregates their
// reports, and persists the final session record. Reporting and learning
// collaborators are best-effort; checkpoint writes are not, because the
// orchestrator cannot claim progress it has not made durable.
package orchestrator
