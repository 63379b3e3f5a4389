/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeanalyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/reviewfleet/budget"
	"chainguard.dev/reviewfleet/factory"
	"chainguard.dev/reviewfleet/retry"
	"chainguard.dev/reviewfleet/subtask"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
)

const (
	defaultMaxTokens   = 8192
	defaultTemperature = 0.1

	// Approximate Claude pricing used for budget accounting, USD per token.
	inputTokenCost  = 3.0 / 1e6
	outputTokenCost = 15.0 / 1e6
)

// Option configures an Analyst.
type Option func(*Analyst)

// WithMaxTokens overrides the response token limit.
func WithMaxTokens(n int64) Option {
	return func(a *Analyst) { a.maxTokens = n }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Analyst) { a.temperature = t }
}

// WithLedger charges each call's token cost to the session's budget entry.
func WithLedger(l *budget.Ledger) Option {
	return func(a *Analyst) { a.ledger = l }
}

// WithRetryConfig overrides the retry policy for transient API errors.
func WithRetryConfig(cfg retry.Config) Option {
	return func(a *Analyst) { a.retryCfg = cfg }
}

// Analyst is the production factory.Analyst backed by the Anthropic API.
type Analyst struct {
	client      anthropic.Client
	maxTokens   int64
	temperature float64
	ledger      *budget.Ledger
	retryCfg    retry.Config
}

func New(client anthropic.Client, opts ...Option) *Analyst {
	a := &Analyst{
		client:      client,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		retryCfg:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type requestPayload struct {
	Tag    string         `json:"tag"`
	Params map[string]any `json:"params"`
	Shared bool           `json:"shared,omitempty"`
}

type planPayload struct {
	Requests  []requestPayload `json:"requests"`
	Reasoning string           `json:"reasoning"`
}

type analysisPayload struct {
	Findings      []factory.Finding `json:"findings"`
	NeedsMoreWork bool              `json:"needs_more_work"`
	Requests      []requestPayload  `json:"requests"`
	Reasoning     string            `json:"reasoning"`
}

func toRequests(in []requestPayload) []subtask.Request {
	out := make([]subtask.Request, 0, len(in))
	for _, r := range in {
		out = append(out, subtask.Request{Tag: r.Tag, Params: r.Params, Shared: r.Shared})
	}
	return out
}

// Plan asks the model which sub-tasks the specialty needs for its first
// iteration.
func (a *Analyst) Plan(ctx context.Context, ex factory.Exchange) (*factory.PlanResult, error) {
	system := planSystemPrompt(ex.Template)
	user := reviewUserPrompt(ex.Input)

	text, err := a.complete(ctx, ex, "plan", system, user)
	if err != nil {
		return nil, err
	}
	payload, err := extract[planPayload](text)
	if err != nil {
		return nil, fmt.Errorf("parsing plan response: %w", err)
	}
	return &factory.PlanResult{
		Requests:  toRequests(payload.Requests),
		Reasoning: payload.Reasoning,
	}, nil
}

// Analyze hands the model everything gathered so far and asks for findings
// plus a continue/stop decision. Requests returned alongside
// needs_more_work seed the next iteration.
func (a *Analyst) Analyze(ctx context.Context, ex factory.Exchange) (*factory.Analysis, error) {
	system := analyzeSystemPrompt(ex.Template, ex.State.Iteration)
	user, err := analyzeUserPrompt(ex)
	if err != nil {
		return nil, err
	}

	text, err := a.complete(ctx, ex, "analyze", system, user)
	if err != nil {
		return nil, err
	}
	payload, err := extract[analysisPayload](text)
	if err != nil {
		return nil, fmt.Errorf("parsing analysis response: %w", err)
	}
	return &factory.Analysis{
		Findings:      payload.Findings,
		NeedsMoreWork: payload.NeedsMoreWork,
		Requests:      toRequests(payload.Requests),
		Reasoning:     payload.Reasoning,
	}, nil
}

// complete runs one streaming message exchange and returns the text content.
func (a *Analyst) complete(ctx context.Context, ex factory.Exchange, op, system, user string) (string, error) {
	log := clog.FromContext(ctx).With("model", ex.Model, "specialty", ex.Template.Specialty, "op", op)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(ex.Model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(user)},
		}},
	}
	params.Temperature = anthropic.Float(a.temperature)

	message, err := retry.Do(ctx, a.retryCfg, op, isRetryableClaudeError, func() (anthropic.Message, error) {
		stream := a.client.Messages.NewStreaming(ctx, params)
		var msg anthropic.Message
		for stream.Next() {
			if err := msg.Accumulate(stream.Current()); err != nil {
				return msg, fmt.Errorf("accumulating stream event: %w", err)
			}
		}
		if err := stream.Err(); err != nil {
			return msg, err
		}
		return msg, nil
	})
	if err != nil {
		return "", fmt.Errorf("streaming %s response: %w", op, err)
	}

	a.charge(ex.State.SessionID, message.Usage)
	log.With("input_tokens", message.Usage.InputTokens, "output_tokens", message.Usage.OutputTokens).Debug("Analyst call completed")

	for _, content := range message.Content {
		if content.Type == "text" {
			return content.Text, nil
		}
	}
	return "", errors.New("no text content in model response")
}

func (a *Analyst) charge(sessionID string, usage anthropic.Usage) {
	if a.ledger == nil {
		return
	}
	cost := float64(usage.InputTokens)*inputTokenCost + float64(usage.OutputTokens)*outputTokenCost
	a.ledger.Add(sessionID, cost)
}

// isRetryableClaudeError reports whether the API error is transient: rate
// limits, overload, and gateway errors.
func isRetryableClaudeError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503, 504, 529:
			return true
		}
	}
	return false
}

func planSystemPrompt(tmpl factory.Template) string {
	var b strings.Builder
	b.WriteString(tmpl.Instructions)
	b.WriteString("\n\nDecide which context-gathering sub-tasks you need before judging the change.")
	fmt.Fprintf(&b, "\nYou may request operations with these capability tags: %s.", strings.Join(tmpl.Capabilities, ", "))
	b.WriteString("\nMark operations that are expensive and shareable across reviewers (like running checks) with \"shared\": true.")
	b.WriteString("\n\nReturn JSON: {\"requests\": [{\"tag\": \"...\", \"params\": {...}, \"shared\": false}], \"reasoning\": \"...\"}")
	return b.String()
}

func analyzeSystemPrompt(tmpl factory.Template, iteration int) string {
	var b strings.Builder
	b.WriteString(tmpl.Instructions)
	fmt.Fprintf(&b, "\n\nYou are in iteration %d of %d.", iteration, tmpl.MaxIterations)
	b.WriteString("\nReview the gathered context. If you need more, set needs_more_work and list the requests; otherwise report your findings.")
	b.WriteString("\nEach finding has severity (high, medium, low), category, location, and description.")
	b.WriteString("\n\nReturn JSON: {\"findings\": [...], \"needs_more_work\": false, \"requests\": [...], \"reasoning\": \"...\"}")
	return b.String()
}

func reviewUserPrompt(input factory.ReviewInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s\nPR: #%d\n", input.Repo, input.PRNumber)
	if input.Conventions != "" {
		fmt.Fprintf(&b, "\nRepository conventions:\n%s\n", input.Conventions)
	}
	fmt.Fprintf(&b, "\nDiff:\n%s\n", input.Diff)
	return b.String()
}

func analyzeUserPrompt(ex factory.Exchange) (string, error) {
	gathered, err := json.MarshalIndent(ex.State.Results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding gathered results: %w", err)
	}
	findings, err := json.MarshalIndent(ex.State.Findings, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding findings: %w", err)
	}

	var b strings.Builder
	b.WriteString(reviewUserPrompt(ex.Input))
	fmt.Fprintf(&b, "\n=== GATHERED CONTEXT (iterations 1-%d) ===\n%s\n", ex.State.Iteration, gathered)
	fmt.Fprintf(&b, "\n=== FINDINGS SO FAR ===\n%s\n", findings)
	if len(ex.State.Trace) > 0 {
		fmt.Fprintf(&b, "\n=== REASONING HISTORY ===\n%s\n", strings.Join(ex.State.Trace, "\n"))
	}
	return b.String(), nil
}
