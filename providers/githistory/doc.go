/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githistory is a capability provider that answers "git-history"
// requests against a local clone: recent commits touching a path, with
// author, date, and message. History lookups are local and free, so they
// carry no cost.
package githistory
