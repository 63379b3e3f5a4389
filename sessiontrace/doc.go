/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package sessiontrace is the engine's observability sink. Every task state
// transition, sub-task invocation, queue status change, and budget update is
// emitted as a structured event and counted on OpenTelemetry instruments.
//
// Emission is fire-and-forget: a slow or absent subscriber never blocks the
// engine, and metric creation failures degrade to no-op counters.
package sessiontrace
