/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package checkpoint provides durable, append-only snapshots of per-session
// task state. Every state-machine transition writes a full snapshot; the
// latest record for a session is authoritative and is what a resume reads.
package checkpoint
