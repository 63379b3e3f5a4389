/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package canonical produces a stable textual form of request parameters.
// The executor's cache keys and the shared work queue's dedup keys both
// compare parameters through this form, so two requests differing only in
// map ordering or whitespace collapse to the same key.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Params renders a parameter map as canonical JSON: object keys sorted,
// no insignificant whitespace. encoding/json already sorts map keys, so the
// canonical form is the plain marshaling of the (possibly nested) map.
func Params(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	b, err := marshalSorted(params)
	if err != nil {
		return "", fmt.Errorf("canonicalizing params: %w", err)
	}
	return string(b), nil
}

// Key derives a compact dedup/cache key from a kind (capability tag or
// request type) and the canonical parameter form.
func Key(kind string, params map[string]any) (string, error) {
	canon, err := Params(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(kind + ":" + canon))
	return kind + ":" + hex.EncodeToString(sum[:8]), nil
}

// marshalSorted normalizes params through a JSON round-trip so that any
// struct values in the map collapse to plain maps, then re-marshals.
// encoding/json emits map keys in sorted order, which gives the canonical
// form regardless of insertion order at every nesting level.
func marshalSorted(params map[string]any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}
