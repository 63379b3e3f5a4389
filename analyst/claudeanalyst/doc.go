/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package claudeanalyst implements the review analyst on the Anthropic
// Messages API. Plan asks the model which sub-tasks a specialty needs;
// Analyze turns gathered sub-task results into findings and decides whether
// another iteration is worth its cost. Responses are JSON, tolerantly
// extracted from markdown fences because models love wrapping output.
package claudeanalyst
