/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package workqueue serializes and deduplicates expensive shared operations
// requested by multiple concurrent tasks, such as a CI run that several
// specialties all want the results of.
//
// Enqueue collapses concurrent requests with the same type and canonical
// parameters onto a single WorkRequest while one is still non-terminal. A
// single background worker drains pending requests oldest-first, executing
// each through the capability registry. Waiters block independently and all
// observe the identical terminal payload.
//
// Requests are never deleted: the store is an append-only log.
package workqueue
