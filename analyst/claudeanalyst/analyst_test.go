/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeanalyst

import (
	"strings"
	"testing"

	"chainguard.dev/reviewfleet/factory"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{{
		name:  "fenced json block",
		input: "Here you go:\n```json\n{\"a\": 1}\n```\nDone.",
		want:  `{"a": 1}`,
	}, {
		name:  "bare json",
		input: `{"a": 1}`,
		want:  `{"a": 1}`,
	}, {
		name:  "generic fence",
		input: "```\n{\"a\": 1}\n```",
		want:  `{"a": 1}`,
	}, {
		name:  "multiline fenced",
		input: "```json\n{\n  \"a\": 1\n}\n```",
		want:  "{\n  \"a\": 1\n}",
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, extractJSON(test.input))
		})
	}
}

func TestExtractPlanPayload(t *testing.T) {
	response := "I looked at the diff.\n```json\n" +
		`{"requests": [{"tag": "code-search", "params": {"q": "token"}}, {"tag": "run-checks", "params": {"ref": "abc"}, "shared": true}], "reasoning": "need auth context"}` +
		"\n```"

	payload, err := extract[planPayload](response)
	require.NoError(t, err)
	require.Len(t, payload.Requests, 2)
	require.Equal(t, "code-search", payload.Requests[0].Tag)
	require.False(t, payload.Requests[0].Shared)
	require.True(t, payload.Requests[1].Shared)
	require.Equal(t, "need auth context", payload.Reasoning)

	reqs := toRequests(payload.Requests)
	require.Equal(t, "token", reqs[0].Params["q"])
}

func TestExtractAnalysisPayload(t *testing.T) {
	response := "```json\n" +
		`{"findings": [{"severity": "high", "category": "security", "location": "auth.go:10", "description": "SQL built by string concat"}], "needs_more_work": true, "requests": [{"tag": "git-history", "params": {"path": "auth.go"}}], "reasoning": "want blame context"}` +
		"\n```"

	payload, err := extract[analysisPayload](response)
	require.NoError(t, err)
	require.Len(t, payload.Findings, 1)
	require.Equal(t, factory.SeverityHigh, payload.Findings[0].Severity)
	require.True(t, payload.NeedsMoreWork)
	require.Len(t, payload.Requests, 1)
}

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := extract[planPayload]("the model refused to answer")
	require.Error(t, err)
}

func TestPromptsCarryTemplateAndInput(t *testing.T) {
	tmpl := factory.Template{
		Specialty:     "security",
		Instructions:  "You are a security reviewer.",
		MaxIterations: 2,
		Capabilities:  []string{"code-search", "git-history"},
	}

	system := planSystemPrompt(tmpl)
	require.Contains(t, system, "You are a security reviewer.")
	require.Contains(t, system, "code-search, git-history")

	user := reviewUserPrompt(factory.ReviewInput{Repo: "org/repo", PRNumber: 12, Diff: "+ added line"})
	require.Contains(t, user, "org/repo")
	require.Contains(t, user, "#12")
	require.Contains(t, user, "+ added line")

	analyzeSystem := analyzeSystemPrompt(tmpl, 2)
	require.Contains(t, analyzeSystem, "iteration 2 of 2")
}

func TestAnalyzeUserPromptIncludesState(t *testing.T) {
	ex := factory.Exchange{
		Input: factory.ReviewInput{Repo: "org/repo", Diff: "diff"},
		State: &factory.State{
			Iteration: 1,
			Findings:  []factory.Finding{{Severity: factory.SeverityLow, Description: "nit"}},
			Trace:     []string{"first pass"},
		},
	}
	user, err := analyzeUserPrompt(ex)
	require.NoError(t, err)
	require.True(t, strings.Contains(user, "GATHERED CONTEXT"))
	require.Contains(t, user, "nit")
	require.Contains(t, user, "first pass")
}
