/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs one multi-specialty review session against a pull
// request and prints the final session record as JSON.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"chainguard.dev/reviewfleet/analyst/claudeanalyst"
	"chainguard.dev/reviewfleet/budget"
	"chainguard.dev/reviewfleet/capability"
	"chainguard.dev/reviewfleet/checkpoint"
	"chainguard.dev/reviewfleet/factory"
	"chainguard.dev/reviewfleet/learning"
	"chainguard.dev/reviewfleet/modelpool"
	"chainguard.dev/reviewfleet/orchestrator"
	"chainguard.dev/reviewfleet/providers/ciworkflow"
	"chainguard.dev/reviewfleet/providers/codesearch"
	"chainguard.dev/reviewfleet/providers/githistory"
	"chainguard.dev/reviewfleet/reporting/githubreporter"
	"chainguard.dev/reviewfleet/sessiontrace"
	"chainguard.dev/reviewfleet/workqueue"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
)

type config struct {
	// Repo is the pull request's repository in owner/repo form.
	Repo     string `env:"REVIEW_REPO,required"`
	PRNumber int    `env:"REVIEW_PR,required"`
	Ref      string `env:"REVIEW_REF"`

	// CheckoutPath is a local clone of the repository at the PR's head,
	// used by the code-search and git-history capabilities.
	CheckoutPath string `env:"REVIEW_CHECKOUT,default=."`

	// ResumeSession, when set, resumes a checkpointed session instead of
	// starting a new one.
	ResumeSession string `env:"RESUME_SESSION"`

	CostCeilingUSD float64 `env:"COST_CEILING_USD,default=5.0"`
	TemplatesPath  string  `env:"TEMPLATES_PATH"`
	GitHubToken    string  `env:"GITHUB_TOKEN"`
	CIWorkflowFile string  `env:"CI_WORKFLOW_FILE,default=test.yml"`

	// RedisAddr enables the Redis-backed shared work queue; empty keeps
	// the queue in process memory.
	RedisAddr string `env:"REDIS_ADDR"`

	// CheckpointDSN enables MySQL-backed checkpoints; empty keeps them in
	// process memory, which only supports in-process resume.
	CheckpointDSN string `env:"CHECKPOINT_MYSQL_DSN"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	gh := github.NewClient(nil)
	if cfg.GitHubToken != "" {
		gh = gh.WithAuthToken(cfg.GitHubToken)
	}

	registry := capability.NewRegistry()
	search, err := codesearch.New(cfg.CheckoutPath)
	if err != nil {
		clog.FatalContextf(ctx, "building code-search provider: %v", err)
	}
	if err := registry.Register(codesearch.Tag, search, 0); err != nil {
		clog.FatalContextf(ctx, "registering code-search: %v", err)
	}
	history, err := githistory.New(cfg.CheckoutPath)
	if err != nil {
		clog.FatalContextf(ctx, "building git-history provider: %v", err)
	}
	if err := registry.Register(githistory.Tag, history, 0); err != nil {
		clog.FatalContextf(ctx, "registering git-history: %v", err)
	}
	checks, err := ciworkflow.New(gh, ciworkflow.WithWorkflowFile(cfg.CIWorkflowFile))
	if err != nil {
		clog.FatalContextf(ctx, "building run-checks provider: %v", err)
	}
	if err := registry.Register(ciworkflow.Tag, checks, 0); err != nil {
		clog.FatalContextf(ctx, "registering run-checks: %v", err)
	}
	registry.Freeze()

	var queueStore workqueue.Store = workqueue.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		queueStore, err = workqueue.NewRedisStore(rdb, "reviewfleet")
		if err != nil {
			clog.FatalContextf(ctx, "building redis work queue store: %v", err)
		}
	}
	queue, err := workqueue.NewQueue(queueStore, registry)
	if err != nil {
		clog.FatalContextf(ctx, "building work queue: %v", err)
	}
	if err := queue.Start(ctx); err != nil {
		clog.FatalContextf(ctx, "starting work queue: %v", err)
	}
	defer queue.Stop()

	var ckStore checkpoint.Store = checkpoint.NewMemoryStore()
	if cfg.CheckpointDSN != "" {
		ckStore, err = checkpoint.NewMySQLStore(ctx, cfg.CheckpointDSN)
		if err != nil {
			clog.FatalContextf(ctx, "opening checkpoint store: %v", err)
		}
	}
	defer ckStore.Close()

	ledger := budget.NewLedger()
	analyst := claudeanalyst.New(anthropic.NewClient(), claudeanalyst.WithLedger(ledger))
	emitter := sessiontrace.NewEmitter("reviewfleet", 256)

	f, err := factory.New(registry, analyst, ledger, modelpool.NewSelector(),
		factory.WithQueue(queue),
		factory.WithEmitter(emitter))
	if err != nil {
		clog.FatalContextf(ctx, "building factory: %v", err)
	}
	templates := factory.DefaultTemplates()
	if cfg.TemplatesPath != "" {
		templates, err = factory.LoadTemplates(cfg.TemplatesPath)
		if err != nil {
			clog.FatalContextf(ctx, "loading templates from %s: %v", cfg.TemplatesPath, err)
		}
	}
	for _, tmpl := range templates {
		if err := f.RegisterTemplate(tmpl); err != nil {
			clog.FatalContextf(ctx, "registering template %q: %v", tmpl.Specialty, err)
		}
	}

	opts := []orchestrator.Option{
		orchestrator.WithEmitter(emitter),
		orchestrator.WithLearning(learning.NewMemoryStore()),
	}
	if cfg.GitHubToken != "" {
		reporter, err := githubreporter.New(gh)
		if err != nil {
			clog.FatalContextf(ctx, "building reporter: %v", err)
		}
		opts = append(opts, orchestrator.WithReporter(reporter))
	}
	orch, err := orchestrator.New(f, ckStore, ledger, cfg.CostCeilingUSD, opts...)
	if err != nil {
		clog.FatalContextf(ctx, "building orchestrator: %v", err)
	}

	input := factory.ReviewInput{
		Repo:     cfg.Repo,
		PRNumber: cfg.PRNumber,
		Ref:      cfg.Ref,
		Diff:     fetchDiff(ctx, gh, cfg),
	}

	var rec *orchestrator.SessionRecord
	if cfg.ResumeSession != "" {
		rec, err = orch.Resume(ctx, cfg.ResumeSession, input)
	} else {
		rec, err = orch.Run(ctx, input)
	}
	if err != nil {
		clog.FatalContextf(ctx, "review session: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		clog.FatalContextf(ctx, "encoding record: %v", err)
	}
	if rec.Status == orchestrator.StatusFailed || rec.Verdict == factory.VerdictFail {
		os.Exit(1)
	}
}

// fetchDiff pulls the PR's unified diff. A review can proceed without it,
// so failures degrade to an empty diff.
func fetchDiff(ctx context.Context, gh *github.Client, cfg config) string {
	owner, repo, ok := splitRepo(cfg.Repo)
	if !ok {
		clog.WarnContextf(ctx, "repository %q is not in owner/repo form, skipping diff fetch", cfg.Repo)
		return ""
	}
	diff, _, err := gh.PullRequests.GetRaw(ctx, owner, repo, cfg.PRNumber, github.RawOptions{Type: github.Diff})
	if err != nil {
		clog.WarnContextf(ctx, "fetching PR diff: %v", err)
		return ""
	}
	return diff
}

func splitRepo(full string) (owner, repo string, ok bool) {
	for i, r := range full {
		if r == '/' {
			return full[:i], full[i+1:], i > 0 && i < len(full)-1
		}
	}
	return "", "", false
}
