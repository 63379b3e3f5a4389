/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name string
	tags []string
}

func (s *stubProvider) Name() string   { return s.name }
func (s *stubProvider) Tags() []string { return s.tags }
func (s *stubProvider) Invoke(context.Context, string, map[string]any) (*Result, error) {
	return &Result{Payload: map[string]any{"from": s.name}}, nil
}

func TestRegistryFallbackOrder(t *testing.T) {
	r := NewRegistry()
	primary := &stubProvider{name: "zoekt", tags: []string{"code-search"}}
	secondary := &stubProvider{name: "grep", tags: []string{"code-search"}}
	tertiary := &stubProvider{name: "fs-scan", tags: []string{"code-search"}}

	// Register out of order; priority decides.
	require.NoError(t, r.Register("code-search", tertiary, 30))
	require.NoError(t, r.Register("code-search", primary, 10))
	require.NoError(t, r.Register("code-search", secondary, 20))
	r.Freeze()

	providers, err := r.Resolve("code-search")
	require.NoError(t, err)
	require.Len(t, providers, 3)
	require.Equal(t, "zoekt", providers[0].Name())
	require.Equal(t, "grep", providers[1].Name())
	require.Equal(t, "fs-scan", providers[2].Name())
}

func TestRegistryEqualPriorityKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	first := &stubProvider{name: "first", tags: []string{"git-history"}}
	second := &stubProvider{name: "second", tags: []string{"git-history"}}

	require.NoError(t, r.Register("git-history", first, 10))
	require.NoError(t, r.Register("git-history", second, 10))
	r.Freeze()

	providers, err := r.Resolve("git-history")
	require.NoError(t, err)
	require.Equal(t, "first", providers[0].Name())
	require.Equal(t, "second", providers[1].Name())
}

func TestRegistryUnknownTag(t *testing.T) {
	r := NewRegistry()
	r.Freeze()

	_, err := r.Resolve("lsp-analysis")
	require.ErrorIs(t, err, ErrUnknownTag)
}

func TestRegistryRejectsMismatchedTag(t *testing.T) {
	r := NewRegistry()
	p := &stubProvider{name: "gitlog", tags: []string{"git-history"}}
	require.Error(t, r.Register("code-search", p, 10))
}

func TestRegistryFrozenRejectsRegistration(t *testing.T) {
	r := NewRegistry()
	r.Freeze()

	p := &stubProvider{name: "late", tags: []string{"code-search"}}
	err := r.Register("code-search", p, 10)
	require.True(t, errors.Is(err, ErrFrozen))
}

func TestRegistryVerify(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("code-search", &stubProvider{name: "zoekt", tags: []string{"code-search"}}, 10))
	r.Freeze()

	require.NoError(t, r.Verify("code-search"))
	require.ErrorIs(t, r.Verify("code-search", "test-coverage"), ErrUnknownTag)
}
