/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package factory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTemplate wraps every template validation failure.
var ErrInvalidTemplate = errors.New("invalid template")

const (
	// MaxIterationsLimit bounds how many plan/spawn/analyze rounds any
	// specialty may run.
	MaxIterationsLimit = 5

	// SubtaskBudgetLimit bounds a task's sub-task concurrency.
	SubtaskBudgetLimit = 3
)

// Template declares a review specialty. Templates are registered at startup
// and never mutated afterwards.
type Template struct {
	// Specialty names the template and the task it builds.
	Specialty string `yaml:"specialty"`

	// Instructions is the specialist's system prompt.
	Instructions string `yaml:"instructions"`

	// Role selects the model-pool role ("reviewer", "orchestrator", ...),
	// and Pool lists its candidate models in priority order.
	Role string   `yaml:"role"`
	Pool []string `yaml:"pool"`

	// MaxIterations bounds the analyze-back-to-spawn loop, in [1,5].
	MaxIterations int `yaml:"max_iterations"`

	// SubtaskBudget bounds concurrent sub-task execution, in [1,3].
	SubtaskBudget int `yaml:"subtask_budget"`

	// Capabilities lists every capability tag the specialty may request.
	// Registration fails fast when a tag has no provider.
	Capabilities []string `yaml:"capabilities"`
}

// Validate checks the registration invariants. All failures wrap
// ErrInvalidTemplate.
func (t Template) Validate() error {
	if strings.TrimSpace(t.Specialty) == "" {
		return fmt.Errorf("%w: specialty must not be empty", ErrInvalidTemplate)
	}
	if strings.TrimSpace(t.Instructions) == "" {
		return fmt.Errorf("%w: template %q: instructions must not be empty", ErrInvalidTemplate, t.Specialty)
	}
	if t.MaxIterations < 1 || t.MaxIterations > MaxIterationsLimit {
		return fmt.Errorf("%w: template %q: max_iterations %d outside [1,%d]",
			ErrInvalidTemplate, t.Specialty, t.MaxIterations, MaxIterationsLimit)
	}
	if t.SubtaskBudget < 1 || t.SubtaskBudget > SubtaskBudgetLimit {
		return fmt.Errorf("%w: template %q: subtask_budget %d outside [1,%d]",
			ErrInvalidTemplate, t.Specialty, t.SubtaskBudget, SubtaskBudgetLimit)
	}
	return nil
}

// reviewerPool is the default model pool for review specialists, in
// fallback priority order.
var reviewerPool = []string{
	"claude-3-5-sonnet-20241022",
	"gpt-4o",
	"gemini-2.0-flash-thinking-exp",
	"deepseek-chat",
}

// DefaultTemplates returns the stock review specialties.
func DefaultTemplates() []Template {
	return []Template{
		{
			Specialty: "alignment",
			Instructions: "You are an architecture alignment reviewer. Analyze whether the change " +
				"follows the repository's existing architectural patterns, module boundaries, and " +
				"naming conventions, and flag divergences with the file and pattern they break.",
			Role:          "reviewer",
			Pool:          reviewerPool,
			MaxIterations: 3,
			SubtaskBudget: 2,
			Capabilities:  []string{"code-search", "git-history"},
		},
		{
			Specialty: "dependencies",
			Instructions: "You are a dependency management reviewer. Analyze dependency additions, " +
				"upgrades, and removals for version conflicts, known vulnerabilities, license " +
				"concerns, and unnecessary weight.",
			Role:          "reviewer",
			Pool:          reviewerPool,
			MaxIterations: 2,
			SubtaskBudget: 2,
			Capabilities:  []string{"code-search", "git-history"},
		},
		{
			Specialty: "testing",
			Instructions: "You are a test coverage reviewer. Judge whether the change carries " +
				"adequate tests: new behavior exercised, edge cases covered, and existing tests " +
				"kept meaningful rather than weakened.",
			Role:          "reviewer",
			Pool:          reviewerPool,
			MaxIterations: 2,
			SubtaskBudget: 1,
			Capabilities:  []string{"code-search", "run-checks"},
		},
		{
			Specialty: "security",
			Instructions: "You are a security reviewer. Identify vulnerabilities introduced by the " +
				"change: injection, unsafe deserialization, secret handling, authentication and " +
				"authorization gaps, and unsafe defaults.",
			Role:          "reviewer",
			Pool:          reviewerPool,
			MaxIterations: 2,
			SubtaskBudget: 2,
			Capabilities:  []string{"code-search", "git-history"},
		},
	}
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadTemplates reads templates from a YAML file. Entries are validated the
// same way RegisterTemplate validates them.
func LoadTemplates(path string) ([]Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading templates from %s: %w", path, err)
	}
	var f templateFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing templates from %s: %w", path, err)
	}
	for _, t := range f.Templates {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Templates, nil
}
