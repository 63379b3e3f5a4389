/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package capability defines the provider contract for externally-supplied
// review capabilities (code search, static analysis, history lookup, CI) and
// a registry that maps capability tags to providers in fallback order.
//
// Providers are registered once at startup; the registry is then frozen and
// read-only for the lifetime of the process, so concurrent resolution needs
// no locking. A template referencing a tag with no registered provider is a
// startup error, never a runtime lookup failure.
package capability
