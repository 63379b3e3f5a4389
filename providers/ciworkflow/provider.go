/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package ciworkflow is a capability provider answering "run-checks"
// requests by dispatching a GitHub Actions workflow and polling the
// resulting run until it concludes. These requests are expensive and
// shareable, so they are expected to arrive through the shared work queue
// rather than directly from tasks.
package ciworkflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chainguard.dev/reviewfleet/capability"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

// Tag is the capability tag this provider serves.
const Tag = "run-checks"

const (
	defaultWorkflowFile = "test.yml"
	defaultPollInterval = 5 * time.Second
)

// Option configures a Provider.
type Option func(*Provider)

// WithPollInterval overrides how often a dispatched run is re-checked.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// WithWorkflowFile overrides the default workflow file dispatched when the
// request does not name one.
func WithWorkflowFile(name string) Option {
	return func(p *Provider) { p.workflowFile = name }
}

// Provider runs CI via GitHub Actions workflow dispatch.
type Provider struct {
	client       *github.Client
	pollInterval time.Duration
	workflowFile string
}

func New(client *github.Client, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("github client is required")
	}
	p := &Provider{
		client:       client,
		pollInterval: defaultPollInterval,
		workflowFile: defaultWorkflowFile,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string   { return "github-actions" }
func (p *Provider) Tags() []string { return []string{Tag} }

// Invoke dispatches the workflow for params["repo"] ("owner/name") on
// params["ref"] and blocks until the run concludes or ctx expires.
func (p *Provider) Invoke(ctx context.Context, _ string, params map[string]any) (*capability.Result, error) {
	owner, name, err := splitRepo(params)
	if err != nil {
		return nil, err
	}
	ref, _ := params["ref"].(string)
	if ref == "" {
		ref = "main"
	}
	workflow := p.workflowFile
	if wf, ok := params["workflow"].(string); ok && wf != "" {
		workflow = wf
	}

	log := clog.FromContext(ctx).With("repo", owner+"/"+name, "ref", ref, "workflow", workflow)

	dispatchedAt := time.Now().UTC()
	_, _, err = p.client.Actions.CreateWorkflowDispatchEventByFileName(ctx, owner, name, workflow,
		github.CreateWorkflowDispatchEventRequest{Ref: ref})
	if err != nil {
		return nil, fmt.Errorf("dispatching workflow %s: %w", workflow, err)
	}
	log.Info("Dispatched workflow, waiting for run")

	run, err := p.awaitRun(ctx, owner, name, workflow, ref, dispatchedAt)
	if err != nil {
		return nil, err
	}

	conclusion := run.GetConclusion()
	return &capability.Result{
		Payload: map[string]any{
			"conclusion":   conclusion,
			"tests_passed": conclusion == "success",
			"run_id":       run.GetID(),
			"run_url":      run.GetHTMLURL(),
			"ref":          ref,
		},
	}, nil
}

// awaitRun finds the run our dispatch created and polls it to completion.
// Dispatch does not return a run id, so we take the newest run for the
// workflow created at or after the dispatch time.
func (p *Provider) awaitRun(ctx context.Context, owner, name, workflow, ref string, since time.Time) (*github.WorkflowRun, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var runID int64
	for {
		if runID == 0 {
			runs, _, err := p.client.Actions.ListWorkflowRunsByFileName(ctx, owner, name, workflow,
				&github.ListWorkflowRunsOptions{
					Branch:      ref,
					ListOptions: github.ListOptions{PerPage: 5},
				})
			if err != nil {
				return nil, fmt.Errorf("listing workflow runs: %w", err)
			}
			for _, run := range runs.WorkflowRuns {
				if !run.GetCreatedAt().Time.Before(since.Add(-time.Minute)) {
					runID = run.GetID()
					break
				}
			}
		} else {
			run, _, err := p.client.Actions.GetWorkflowRunByID(ctx, owner, name, runID)
			if err != nil {
				return nil, fmt.Errorf("fetching workflow run %d: %w", runID, err)
			}
			if run.GetStatus() == "completed" {
				return run, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for workflow run: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func splitRepo(params map[string]any) (string, string, error) {
	repo, _ := params["repo"].(string)
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("run-checks requires a %q param of the form owner/name, got %q", "repo", repo)
	}
	return owner, name, nil
}
