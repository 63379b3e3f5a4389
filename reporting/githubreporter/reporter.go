/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubreporter posts finalized session records as pull request
// comments.
package githubreporter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/reviewfleet/factory"
	"chainguard.dev/reviewfleet/orchestrator"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

// marker identifies our comments so a re-run updates in place instead of
// stacking duplicates.
const marker = "<!-- reviewfleet-session -->"

// Reporter renders a session record as markdown and upserts it as a PR
// comment.
type Reporter struct {
	client *github.Client
}

var _ orchestrator.Reporter = (*Reporter)(nil)

func New(client *github.Client) (*Reporter, error) {
	if client == nil {
		return nil, errors.New("github client is required")
	}
	return &Reporter{client: client}, nil
}

// Report posts the record to the PR named by the session input. Records
// without a PR number have nowhere to go and are skipped.
func (r *Reporter) Report(ctx context.Context, rec *orchestrator.SessionRecord) error {
	if rec.Input.PRNumber == 0 {
		clog.FromContext(ctx).With("session", rec.SessionID).Debug("no PR number on record, skipping comment")
		return nil
	}
	owner, repo, err := splitRepo(rec.Input.Repo)
	if err != nil {
		return err
	}
	body := render(rec)

	existing, err := r.findExisting(ctx, owner, repo, rec.Input.PRNumber)
	if err != nil {
		return err
	}
	if existing != 0 {
		if _, _, err := r.client.Issues.EditComment(ctx, owner, repo, existing, &github.IssueComment{
			Body: github.Ptr(body),
		}); err != nil {
			return fmt.Errorf("updating review comment: %w", err)
		}
		return nil
	}
	if _, _, err := r.client.Issues.CreateComment(ctx, owner, repo, rec.Input.PRNumber, &github.IssueComment{
		Body: github.Ptr(body),
	}); err != nil {
		return fmt.Errorf("posting review comment: %w", err)
	}
	return nil
}

// findExisting returns the id of a previously posted session comment, or 0.
func (r *Reporter) findExisting(ctx context.Context, owner, repo string, prNumber int) (int64, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := r.client.Issues.ListComments(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return 0, fmt.Errorf("listing PR comments: %w", err)
		}
		for _, c := range comments {
			if strings.Contains(c.GetBody(), marker) {
				return c.GetID(), nil
			}
		}
		if resp.NextPage == 0 {
			return 0, nil
		}
		opts.Page = resp.NextPage
	}
}

func splitRepo(full string) (string, string, error) {
	owner, repo, ok := strings.Cut(full, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("repository %q is not in owner/repo form", full)
	}
	return owner, repo, nil
}

func render(rec *orchestrator.SessionRecord) string {
	var b strings.Builder
	b.WriteString(marker + "\n")
	fmt.Fprintf(&b, "## Review: %s %s\n\n", verdictEmoji(rec.Verdict), rec.Verdict)

	if rec.Status == orchestrator.StatusFailed {
		fmt.Fprintf(&b, "The review session failed: %s\n", rec.Reason)
		return b.String()
	}
	if rec.Status == orchestrator.StatusDegradedCostLimit {
		b.WriteString("> Partial review: the session hit its cost ceiling before every check completed.\n\n")
	}

	b.WriteString("| Specialty | Verdict | Confidence | Findings |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, report := range rec.Reports {
		fmt.Fprintf(&b, "| %s | %s | %.0f%% | %d |\n",
			report.Specialty, report.Verdict, report.Confidence*100, len(report.Findings))
	}

	if len(rec.Findings) > 0 {
		b.WriteString("\n### Findings\n\n")
		for _, f := range rec.Findings {
			loc := ""
			if f.Location != "" {
				loc = " `" + f.Location + "`"
			}
			fmt.Fprintf(&b, "- **%s** (%s)%s: %s\n", f.Category, f.Severity, loc, f.Description)
		}
	}

	fmt.Fprintf(&b, "\n<sub>session %s · %.1fs · $%.4f</sub>\n",
		rec.SessionID, rec.FinishedAt.Sub(rec.StartedAt).Seconds(), rec.CostUSD)
	return b.String()
}

func verdictEmoji(v factory.Verdict) string {
	switch v {
	case factory.VerdictPass:
		return "✅"
	case factory.VerdictWarn:
		return "⚠️"
	case factory.VerdictNeedsWork:
		return "🔧"
	default:
		return "❌"
	}
}
