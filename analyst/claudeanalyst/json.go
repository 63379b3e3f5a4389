/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeanalyst

import (
	"encoding/json"
	"strings"
)

// extractJSON pulls JSON content out of a model response that may wrap it
// in markdown code fences. An explicit ```json fence wins; otherwise bare
// fences are stripped from the trimmed response.
func extractJSON(text string) string {
	if _, rest, ok := strings.Cut(text, "```json\n"); ok {
		body, _, closed := strings.Cut(rest, "\n```")
		if !closed {
			body = rest
		}
		return strings.TrimSpace(body)
	}

	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// extract unmarshals the JSON content of a model response into T.
func extract[T any](text string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return out, err
	}
	return out, nil
}
