/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githistory

import (
	"context"
	"errors"
	"fmt"

	"chainguard.dev/reviewfleet/capability"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Tag is the capability tag this provider serves.
const Tag = "git-history"

const defaultLimit = 20

// Option configures a Provider.
type Option func(*Provider)

// WithLimit caps how many commits a single request may return.
func WithLimit(n int) Option {
	return func(p *Provider) { p.limit = n }
}

// Provider serves commit history from a local clone.
type Provider struct {
	repo  *git.Repository
	limit int
}

// New opens the repository at path.
func New(path string, opts ...Option) (*Provider, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	p := &Provider{repo: repo, limit: defaultLimit}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string   { return "git-history" }
func (p *Provider) Tags() []string { return []string{Tag} }

// Invoke returns up to "limit" commits touching "path" (or the whole tree
// when no path is given), newest first.
func (p *Provider) Invoke(ctx context.Context, _ string, params map[string]any) (*capability.Result, error) {
	opts := &git.LogOptions{Order: git.LogOrderCommitterTime}
	if path, ok := params["path"].(string); ok && path != "" {
		opts.PathFilter = func(file string) bool { return file == path }
	}

	limit := p.limit
	if n, ok := params["limit"].(float64); ok && int(n) > 0 && int(n) < limit {
		limit = int(n)
	}

	iter, err := p.repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	commits := make([]map[string]any, 0, limit)
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, map[string]any{
			"hash":    c.Hash.String(),
			"author":  c.Author.Name,
			"email":   c.Author.Email,
			"date":    c.Author.When.UTC().Format("2006-01-02T15:04:05Z"),
			"message": c.Message,
		})
		if len(commits) >= limit {
			return errStopIteration
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("walking commits: %w", err)
	}

	return &capability.Result{
		Payload: map[string]any{"commits": commits},
	}, nil
}

var errStopIteration = errors.New("stop iteration")
