/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package budget tracks per-session spend against a cost ceiling.
//
// Crossing the ceiling is not fatal: the ledger flags the session and the
// orchestrator stops issuing further cost-bearing requests while still
// finalizing whatever results already exist.
package budget
