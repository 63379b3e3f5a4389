/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package factory builds per-specialty review tasks from declarative
// templates. A template names a specialty, its instructions, a model role
// and pool, and the iteration and sub-task budgets; the factory validates
// templates at registration and is the only place validation happens.
//
// A built Task is a four-node state machine (plan, spawn, analyze,
// finalize) with one conditional edge from analyze back to spawn. Every
// transition is checkpointed, so a task can be rehydrated and re-entered
// at the node implied by its stored phase.
package factory
