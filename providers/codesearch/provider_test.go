/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package codesearch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"auth/token.go":    "package auth\n\nfunc ValidateToken(raw string) error {\n\treturn nil\n}\n",
		"auth/session.go":  "package auth\n\nvar sessionTTL = 3600\n",
		"main.go":          "package main\n\nfunc main() {}\n",
		".git/config":      "[core]\n",
		"vendor/dep/dep.a": "ValidateToken binary-ish content",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

func TestInvokeFindsMatches(t *testing.T) {
	p, err := New(testTree(t))
	require.NoError(t, err)

	res, err := p.Invoke(context.Background(), Tag, map[string]any{"q": "ValidateToken"})
	require.NoError(t, err)

	matches := res.Payload["matches"].([]map[string]any)
	require.Len(t, matches, 1, ".git and vendor must be excluded")
	require.Equal(t, "auth/token.go", matches[0]["file"])
	require.Equal(t, 3, matches[0]["line"])
}

func TestInvokeRegexpQuery(t *testing.T) {
	p, err := New(testTree(t))
	require.NoError(t, err)

	res, err := p.Invoke(context.Background(), Tag, map[string]any{"q": `session(TTL|ID)`})
	require.NoError(t, err)
	matches := res.Payload["matches"].([]map[string]any)
	require.Len(t, matches, 1)
	require.Equal(t, "auth/session.go", matches[0]["file"])
}

func TestInvokeRequiresQuery(t *testing.T) {
	p, err := New(testTree(t))
	require.NoError(t, err)
	_, err = p.Invoke(context.Background(), Tag, map[string]any{})
	require.Error(t, err)
}

func TestInvokeRejectsBadRegexp(t *testing.T) {
	p, err := New(testTree(t))
	require.NoError(t, err)
	_, err = p.Invoke(context.Background(), Tag, map[string]any{"q": "("})
	require.Error(t, err)
}

func TestInvokeCapsMatches(t *testing.T) {
	p, err := New(testTree(t), WithMaxMatches(1))
	require.NoError(t, err)
	res, err := p.Invoke(context.Background(), Tag, map[string]any{"q": "package"})
	require.NoError(t, err)
	require.Len(t, res.Payload["matches"].([]map[string]any), 1)
}
