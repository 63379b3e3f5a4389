/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package codesearch is a capability provider answering "code-search"
// requests with a regexp scan over a local working tree.
package codesearch

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"chainguard.dev/reviewfleet/capability"
)

// Tag is the capability tag this provider serves.
const Tag = "code-search"

const (
	defaultMaxMatches = 50
	maxLineLength     = 512
)

// Option configures a Provider.
type Option func(*Provider)

// WithMaxMatches caps how many matches a single request may return.
func WithMaxMatches(n int) Option {
	return func(p *Provider) { p.maxMatches = n }
}

// Provider scans a local tree for a pattern.
type Provider struct {
	root       string
	maxMatches int
}

// New creates a provider rooted at the given directory.
func New(root string, opts ...Option) (*Provider, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("checking search root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("search root %s is not a directory", root)
	}
	p := &Provider{root: root, maxMatches: defaultMaxMatches}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string   { return "tree-grep" }
func (p *Provider) Tags() []string { return []string{Tag} }

// Invoke searches for params["q"] (a regexp) and returns matches as
// {"file", "line", "text"} rows.
func (p *Provider) Invoke(ctx context.Context, _ string, params map[string]any) (*capability.Result, error) {
	query, _ := params["q"].(string)
	if query == "" {
		return nil, fmt.Errorf("code-search requires a %q param", "q")
	}
	re, err := regexp.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compiling query %q: %w", query, err)
	}

	matches := make([]map[string]any, 0, p.maxMatches)
	err = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= p.maxMatches {
			return filepath.SkipAll
		}
		return p.scanFile(path, re, &matches)
	})
	if err != nil {
		return nil, fmt.Errorf("walking tree: %w", err)
	}

	return &capability.Result{
		Payload: map[string]any{"matches": matches, "query": query},
	}, nil
}

func (p *Provider) scanFile(path string, re *regexp.Regexp, matches *[]map[string]any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		rel = path
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		*matches = append(*matches, map[string]any{
			"file": filepath.ToSlash(rel),
			"line": lineNo,
			"text": strings.TrimSpace(line),
		})
		if len(*matches) >= p.maxMatches {
			return nil
		}
	}
	// Binary files trip the scanner's token limit; skip them quietly.
	if err := scanner.Err(); err != nil && err != bufio.ErrTooLong {
		return err
	}
	return nil
}
