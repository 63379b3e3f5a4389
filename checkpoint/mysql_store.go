/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists snapshots in an append-only MySQL table. Each Write
// inserts a fresh row; Read selects the newest row for the session.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against the given DSN and ensures
// the checkpoint table exists.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql dsn must not be empty")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}
	s := &MySQLStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS session_checkpoints (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        state_blob MEDIUMTEXT NOT NULL,
        written_at TIMESTAMP(6) NOT NULL,
        INDEX idx_checkpoint_session (session_id, id)
)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initializing session_checkpoints: %w", err)
	}
	return nil
}

func (s *MySQLStore) Write(ctx context.Context, sessionID string, states StateSet) error {
	blob, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("encoding checkpoint for session %q: %w", sessionID, err)
	}
	const stmt = `INSERT INTO session_checkpoints (session_id, state_blob, written_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, sessionID, string(blob), time.Now().UTC()); err != nil {
		return fmt.Errorf("writing checkpoint for session %q: %w", sessionID, err)
	}
	return nil
}

func (s *MySQLStore) Read(ctx context.Context, sessionID string) (StateSet, error) {
	const stmt = `SELECT state_blob FROM session_checkpoints WHERE session_id = ? ORDER BY id DESC LIMIT 1`
	var blob string
	if err := s.db.QueryRowContext(ctx, stmt, sessionID).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("reading checkpoint for session %q: %w", sessionID, err)
	}
	var states StateSet
	if err := json.Unmarshal([]byte(blob), &states); err != nil {
		return nil, fmt.Errorf("decoding checkpoint for session %q: %w", sessionID, err)
	}
	return states, nil
}

func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
var _ Store = (*MemoryStore)(nil)
