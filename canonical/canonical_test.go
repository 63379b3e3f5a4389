/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParamsOrderIndependent(t *testing.T) {
	a := map[string]any{
		"query": "retry loop",
		"files": []any{"a.go", "b.go"},
		"opts":  map[string]any{"case": true, "branch": "main"},
	}
	b := map[string]any{
		"opts":  map[string]any{"branch": "main", "case": true},
		"files": []any{"a.go", "b.go"},
		"query": "retry loop",
	}

	ca, err := Params(a)
	require.NoError(t, err)
	cb, err := Params(b)
	require.NoError(t, err)
	require.Equal(t, ca, cb)
}

func TestParamsSliceOrderSignificant(t *testing.T) {
	ca, err := Params(map[string]any{"files": []any{"a.go", "b.go"}})
	require.NoError(t, err)
	cb, err := Params(map[string]any{"files": []any{"b.go", "a.go"}})
	require.NoError(t, err)
	require.NotEqual(t, ca, cb)
}

func TestParamsEmpty(t *testing.T) {
	got, err := Params(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", got)
}

func TestKeyStableAcrossOrderings(t *testing.T) {
	k1, err := Key("run-checks", map[string]any{"ref": "abc123", "suite": "unit"})
	require.NoError(t, err)
	k2, err := Key("run-checks", map[string]any{"suite": "unit", "ref": "abc123"})
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := Key("run-checks", map[string]any{"ref": "def456", "suite": "unit"})
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)

	k4, err := Key("get-test-results", map[string]any{"ref": "abc123", "suite": "unit"})
	require.NoError(t, err)
	require.NotEqual(t, k1, k4)
}
