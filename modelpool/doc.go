/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package modelpool selects a model identifier per agent role from a
// configured pool. Three strategies are supported: a fixed per-role
// override, uniform random choice, and best-available probing with a
// deterministic fallback to the last pool entry when nothing reports
// available.
package modelpool
