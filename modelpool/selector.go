/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package modelpool

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

// Strategy names a model selection strategy.
type Strategy string

const (
	// StrategyFixed always returns the configured override for the role.
	StrategyFixed Strategy = "fixed"

	// StrategyRandom picks uniformly from the pool.
	StrategyRandom Strategy = "random"

	// StrategyBestAvailable walks the pool in priority order and returns the
	// first model the availability predicate accepts, or the last pool entry
	// if none do. It always terminates with a usable model.
	StrategyBestAvailable Strategy = "best_available"
)

// AvailabilityFunc reports whether a model is currently usable
// (not rate-limited, API reachable, and so on).
type AvailabilityFunc func(model string) bool

// Option configures a Selector.
type Option func(*Selector)

// WithOverride sets the fixed model returned for a role under StrategyFixed.
func WithOverride(role, model string) Option {
	return func(s *Selector) { s.overrides[role] = model }
}

// WithAvailability sets the predicate consulted by StrategyBestAvailable.
// Without one, every model is considered available.
func WithAvailability(fn AvailabilityFunc) Option {
	return func(s *Selector) { s.available = fn }
}

// WithRand sets the random source for StrategyRandom, for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rng = r }
}

// Selector chooses a model identifier per role from a pool.
type Selector struct {
	overrides map[string]string
	available AvailabilityFunc

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector returns a Selector configured by the given options.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{overrides: make(map[string]string)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns a model for the role from the pool under the given strategy.
func (s *Selector) Select(role string, pool []string, strategy Strategy) (string, error) {
	if len(pool) == 0 {
		return "", fmt.Errorf("empty model pool for role %q", role)
	}

	switch strategy {
	case StrategyFixed:
		model, ok := s.overrides[role]
		if !ok {
			return "", fmt.Errorf("no fixed model configured for role %q", role)
		}
		return model, nil

	case StrategyRandom:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rng != nil {
			return pool[s.rng.Intn(len(pool))], nil
		}
		return pool[rand.Intn(len(pool))], nil

	case StrategyBestAvailable:
		if s.available == nil {
			return pool[0], nil
		}
		for _, model := range pool {
			if s.available(model) {
				return model, nil
			}
		}
		// Nothing reported available: fall back to the last candidate rather
		// than erroring, so selection always terminates with a model.
		return pool[len(pool)-1], nil

	default:
		return "", errors.New("unknown selection strategy: " + string(strategy))
	}
}
