/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists WorkRequests in Redis: one hash per request, a list of
// pending ids drained oldest-first, and an index of active dedup keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client. The prefix namespaces all
// keys so several fleets can share one Redis.
func NewRedisStore(client *redis.Client, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = "reviewfleet:workqueue"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) requestKey(id string) string { return s.prefix + ":request:" + id }
func (s *RedisStore) pendingKey() string          { return s.prefix + ":pending" }
func (s *RedisStore) activeKey(reqType, canonicalParams string) string {
	return s.prefix + ":active:" + reqType + ":" + canonicalParams
}

func (s *RedisStore) Append(ctx context.Context, req *Request) error {
	row := req.clone()
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	fields, err := hashFields(row)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.requestKey(row.ID), fields).Err(); err != nil {
		return fmt.Errorf("storing request %q: %w", row.ID, err)
	}
	if err := s.client.Set(ctx, s.activeKey(row.Type, row.CanonicalParams), row.ID, 0).Err(); err != nil {
		return fmt.Errorf("indexing request %q: %w", row.ID, err)
	}
	if err := s.client.RPush(ctx, s.pendingKey(), row.ID).Err(); err != nil {
		return fmt.Errorf("queueing request %q: %w", row.ID, err)
	}
	return nil
}

func (s *RedisStore) FindActive(ctx context.Context, reqType, canonicalParams string) (*Request, error) {
	id, err := s.client.Get(ctx, s.activeKey(reqType, canonicalParams)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up active request: %w", err)
	}
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// The index can lag a terminal transition; re-check the row itself.
	if row.Status.Terminal() {
		return nil, nil
	}
	return row, nil
}

func (s *RedisStore) NextPending(ctx context.Context) (*Request, error) {
	id, err := s.client.LPop(ctx, s.pendingKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming pending request: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) SetInProgress(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]any{"status": string(StatusInProgress)}, "", "")
}

func (s *RedisStore) SetCompleted(ctx context.Context, id string, result map[string]any, costUSD float64) error {
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result for %q: %w", id, err)
	}
	return s.update(ctx, id, map[string]any{
		"status":   string(StatusCompleted),
		"result":   string(blob),
		"cost_usd": strconv.FormatFloat(costUSD, 'f', -1, 64),
	}, id, "clear-active")
}

func (s *RedisStore) SetFailed(ctx context.Context, id string, errMsg string) error {
	return s.update(ctx, id, map[string]any{
		"status": string(StatusFailed),
		"error":  errMsg,
	}, id, "clear-active")
}

func (s *RedisStore) update(ctx context.Context, id string, fields map[string]any, clearID, clearMode string) error {
	exists, err := s.client.Exists(ctx, s.requestKey(id)).Result()
	if err != nil {
		return fmt.Errorf("checking request %q: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, s.requestKey(id), fields).Err(); err != nil {
		return fmt.Errorf("updating request %q: %w", id, err)
	}

	if clearMode == "clear-active" {
		row, err := s.Get(ctx, clearID)
		if err != nil {
			return err
		}
		if err := s.client.Del(ctx, s.activeKey(row.Type, row.CanonicalParams)).Err(); err != nil {
			return fmt.Errorf("clearing active index for %q: %w", id, err)
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Request, error) {
	fields, err := s.client.HGetAll(ctx, s.requestKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching request %q: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return fromHashFields(id, fields)
}

func hashFields(r *Request) (map[string]any, error) {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	fields := map[string]any{
		"session_id":       r.SessionID,
		"requester_id":     r.RequesterID,
		"type":             r.Type,
		"params":           string(params),
		"canonical_params": r.CanonicalParams,
		"status":           string(r.Status),
		"error":            r.Error,
		"cost_usd":         strconv.FormatFloat(r.CostUSD, 'f', -1, 64),
		"created_at":       r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       r.UpdatedAt.Format(time.RFC3339Nano),
	}
	if r.Result != nil {
		blob, err := json.Marshal(r.Result)
		if err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		fields["result"] = string(blob)
	}
	return fields, nil
}

func fromHashFields(id string, fields map[string]string) (*Request, error) {
	row := &Request{
		ID:              id,
		SessionID:       fields["session_id"],
		RequesterID:     fields["requester_id"],
		Type:            fields["type"],
		CanonicalParams: fields["canonical_params"],
		Status:          Status(fields["status"]),
		Error:           fields["error"],
	}
	if v := fields["params"]; v != "" {
		if err := json.Unmarshal([]byte(v), &row.Params); err != nil {
			return nil, fmt.Errorf("decoding params for %q: %w", id, err)
		}
	}
	if v := fields["result"]; v != "" {
		if err := json.Unmarshal([]byte(v), &row.Result); err != nil {
			return nil, fmt.Errorf("decoding result for %q: %w", id, err)
		}
	}
	if v := fields["cost_usd"]; v != "" {
		cost, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("decoding cost for %q: %w", id, err)
		}
		row.CostUSD = cost
	}
	for field, dst := range map[string]*time.Time{"created_at": &row.CreatedAt, "updated_at": &row.UpdatedAt} {
		if v := fields[field]; v != "" {
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("decoding %s for %q: %w", field, id, err)
			}
			*dst = ts
		}
	}
	return row, nil
}
