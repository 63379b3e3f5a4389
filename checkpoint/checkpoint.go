/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNoCheckpoint is returned by Read when a session has no records yet.
var ErrNoCheckpoint = errors.New("no checkpoint for session")

var errClosed = errors.New("checkpoint store is closed")

// StateSet maps a specialty name to that task's serialized state. The
// checkpoint layer treats the state as an opaque blob so that it never has
// to chase the task model; callers marshal and unmarshal their own types.
type StateSet map[string]json.RawMessage

// Clone returns a deep copy of the set. Stores hold their own copies so a
// caller mutating a map after Write cannot corrupt history.
func (s StateSet) Clone() StateSet {
	if s == nil {
		return nil
	}
	out := make(StateSet, len(s))
	for k, v := range s {
		b := make(json.RawMessage, len(v))
		copy(b, v)
		out[k] = b
	}
	return out
}

// Record is a single durable snapshot. Records accumulate per session and
// are never rewritten.
type Record struct {
	SessionID string
	States    StateSet
	WrittenAt time.Time
}

// Store persists session snapshots.
//
// Write is synchronous: when it returns nil the snapshot is durable. Read
// returns the latest snapshot for the session or ErrNoCheckpoint. Close
// releases the underlying storage handle; callers acquire a store for the
// duration of a session and release it on every exit path.
type Store interface {
	Write(ctx context.Context, sessionID string, states StateSet) error
	Read(ctx context.Context, sessionID string) (StateSet, error)
	Close() error
}
