package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/hitlflow/hitl"
)

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 16

// RedisStore is a Redis-backed hitl.Store.
//
// Layout (prefix defaults to "hitlflow:"):
//
//	<prefix>hitl:event:<id>      JSON encoded SuspensionRequest
//	<prefix>hitl:user:<user_id>  ZSET of event ids scored by created_at (ms)
//	<prefix>hitl:all             ZSET of every event id scored by created_at (ms)
//	<prefix>hitl:deadline        ZSET of pending event ids scored by expires_at (ms)
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "hitlflow:"
	}
	return &RedisStore{client: client, prefix: keyPrefix + "hitl:"}
}

func (s *RedisStore) eventKey(id string) string    { return s.prefix + "event:" + id }
func (s *RedisStore) userKey(userID string) string { return s.prefix + "user:" + userID }
func (s *RedisStore) allKey() string               { return s.prefix + "all" }
func (s *RedisStore) deadlineKey() string          { return s.prefix + "deadline" }

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Create writes the request and its index entries in one WATCH/MULTI
// transaction, so either all keys exist afterwards or none do. An existing
// id is never overwritten.
func (s *RedisStore) Create(ctx context.Context, req *hitl.SuspensionRequest) error {
	if req == nil || req.EventID == "" {
		return hitl.ErrInvalidRequest
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal suspension: %w", err)
	}

	key := s.eventKey(req.EventID)
	created := score(req.CreatedAt)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return hitl.ErrDuplicateEvent
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.userKey(req.UserID), redis.Z{Score: created, Member: req.EventID})
			pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: created, Member: req.EventID})
			if req.ExpiresAt != nil && req.Status == hitl.StatusPending {
				pipe.ZAdd(ctx, s.deadlineKey(), redis.Z{Score: score(*req.ExpiresAt), Member: req.EventID})
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, hitl.ErrDuplicateEvent):
			return err
		default:
			return fmt.Errorf("redis create: %w", err)
		}
	}
	return fmt.Errorf("redis create %s: too much contention", req.EventID)
}

// Get loads and decodes a request.
func (s *RedisStore) Get(ctx context.Context, eventID string) (*hitl.SuspensionRequest, error) {
	data, err := s.client.Get(ctx, s.eventKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, hitl.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (*hitl.SuspensionRequest, error) {
	var req hitl.SuspensionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal suspension: %w", err)
	}
	return &req, nil
}

// Transition performs a WATCH/MULTI compare-and-set on the status field.
func (s *RedisStore) Transition(ctx context.Context, eventID string, from, to hitl.Status, decision *hitl.Decision) (*hitl.SuspensionRequest, error) {
	key := s.eventKey(eventID)
	var updated *hitl.SuspensionRequest

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return hitl.ErrEventNotFound
		}
		if err != nil {
			return err
		}
		req, err := decode(data)
		if err != nil {
			return err
		}
		if req.Status != from {
			return hitl.ErrStatusConflict
		}
		hitl.ApplyTransition(req, to, decision)
		encoded, err := json.Marshal(req)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if to != hitl.StatusPending {
				pipe.ZRem(ctx, s.deadlineKey(), eventID)
			}
			return nil
		})
		if err == nil {
			updated = req
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, hitl.ErrEventNotFound), errors.Is(err, hitl.ErrStatusConflict):
			return nil, err
		default:
			return nil, fmt.Errorf("redis transition: %w", err)
		}
	}
	return nil, fmt.Errorf("redis transition %s: too much contention", eventID)
}

// Delete removes the request and its index entries.
func (s *RedisStore) Delete(ctx context.Context, eventID string) error {
	req, err := s.Get(ctx, eventID)
	if err != nil && !errors.Is(err, hitl.ErrEventNotFound) {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.eventKey(eventID))
		pipe.ZRem(ctx, s.allKey(), eventID)
		pipe.ZRem(ctx, s.deadlineKey(), eventID)
		if req != nil {
			pipe.ZRem(ctx, s.userKey(req.UserID), eventID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// loadMany fetches ids with MGET, skipping ids whose keys have vanished.
func (s *RedisStore) loadMany(ctx context.Context, ids []string) ([]*hitl.SuspensionRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.eventKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([]*hitl.SuspensionRequest, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		req, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// ListByUser returns the user's requests, oldest first.
func (s *RedisStore) ListByUser(ctx context.Context, userID string, status hitl.Status) ([]*hitl.SuspensionRequest, error) {
	ids, err := s.client.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	reqs, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := reqs[:0]
	for _, req := range reqs {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	hitl.SortByCreatedAt(out)
	return out, nil
}

// ListOverdue returns pending requests whose deadline has passed.
func (s *RedisStore) ListOverdue(ctx context.Context, now time.Time) ([]*hitl.SuspensionRequest, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.deadlineKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	reqs, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := reqs[:0]
	for _, req := range reqs {
		if req.Status == hitl.StatusPending {
			out = append(out, req)
		}
	}
	hitl.SortByCreatedAt(out)
	return out, nil
}

// ExpireStale marks live requests of owner created before cutoff as expired.
// An empty owner matches every request.
func (s *RedisStore) ExpireStale(ctx context.Context, cutoff time.Time, owner string) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.allKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}

	var expired []string
	for _, id := range ids {
		ok, err := s.expireOne(ctx, id, owner)
		if err != nil {
			return expired, err
		}
		if ok {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func (s *RedisStore) expireOne(ctx context.Context, id, owner string) (bool, error) {
	for i := 0; i < maxTxRetries; i++ {
		req, err := s.Get(ctx, id)
		if errors.Is(err, hitl.ErrEventNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if req.Status == hitl.StatusExpired || (owner != "" && req.Owner != owner) {
			return false, nil
		}
		_, err = s.Transition(ctx, id, req.Status, hitl.StatusExpired, nil)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, hitl.ErrStatusConflict):
			continue
		case errors.Is(err, hitl.ErrEventNotFound):
			return false, nil
		default:
			return false, err
		}
	}
	return false, fmt.Errorf("redis expire %s: too much contention", id)
}

// Count returns the size of the global index.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.allKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(n), nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ hitl.Store = (*RedisStore)(nil)
