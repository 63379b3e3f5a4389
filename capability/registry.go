/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package capability

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownTag is returned when a tag has no registered providers.
var ErrUnknownTag = errors.New("no providers registered for capability tag")

// ErrFrozen is returned when Register is called after Freeze.
var ErrFrozen = errors.New("registry is frozen")

type entry struct {
	provider Provider
	priority int
	order    int // registration order, tie-breaker for equal priorities
}

// Registry maps capability tags to providers ordered for fallback.
// Register all providers at startup, then call Freeze before handing the
// registry to the orchestrator. A frozen registry is safe for concurrent use.
type Registry struct {
	entries map[string][]entry
	frozen  bool
	seq     int
}

// NewRegistry returns an empty, mutable registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]entry)}
}

// Register adds a provider for the given tag at the given priority.
// Lower priority values are attempted first. The provider must list the tag
// among its Tags.
func (r *Registry) Register(tag string, provider Provider, priority int) error {
	if r.frozen {
		return ErrFrozen
	}
	if tag == "" {
		return errors.New("capability tag cannot be empty")
	}
	if provider == nil {
		return errors.New("provider cannot be nil")
	}
	serves := false
	for _, t := range provider.Tags() {
		if t == tag {
			serves = true
			break
		}
	}
	if !serves {
		return fmt.Errorf("provider %q does not serve tag %q", provider.Name(), tag)
	}

	r.seq++
	r.entries[tag] = append(r.entries[tag], entry{provider: provider, priority: priority, order: r.seq})
	return nil
}

// Freeze sorts each tag's providers into fallback order and disallows
// further registration.
func (r *Registry) Freeze() {
	for tag := range r.entries {
		es := r.entries[tag]
		sort.SliceStable(es, func(i, j int) bool {
			if es[i].priority != es[j].priority {
				return es[i].priority < es[j].priority
			}
			return es[i].order < es[j].order
		})
	}
	r.frozen = true
}

// Resolve returns the providers for a tag in fallback order.
func (r *Registry) Resolve(tag string) ([]Provider, error) {
	es, ok := r.entries[tag]
	if !ok || len(es) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	out := make([]Provider, 0, len(es))
	for _, e := range es {
		out = append(out, e.provider)
	}
	return out, nil
}

// Verify checks that every given tag resolves to at least one provider.
// The task factory calls this at template registration so that
// misconfiguration fails fast at startup.
func (r *Registry) Verify(tags ...string) error {
	for _, tag := range tags {
		if _, err := r.Resolve(tag); err != nil {
			return err
		}
	}
	return nil
}
