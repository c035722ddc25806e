package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/engramdev/engram/core"
)

// DefaultHistoryTTL is how long an idle session buffer survives in
// Redis.
const DefaultHistoryTTL = time.Hour

// RedisHistory keeps session buffers in Redis so the short-term window
// survives process restarts. One list per session, JSON-encoded turns,
// TTL refreshed on every append.
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHistory creates a history on an existing client. A
// non-positive ttl gets DefaultHistoryTTL.
func NewRedisHistory(client *redis.Client, ttl time.Duration) *RedisHistory {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &RedisHistory{client: client, ttl: ttl}
}

// DialRedisHistory connects to redisURL (redis://...), pings it, and
// returns a history over the connection.
func DialRedisHistory(ctx context.Context, redisURL string, ttl time.Duration) (*RedisHistory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisHistory(client, ttl), nil
}

func (h *RedisHistory) key(sessionID string) string {
	return "engram:history:" + sessionID
}

func (h *RedisHistory) Append(ctx context.Context, sessionID string, turns ...core.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	vals := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		vals = append(vals, data)
	}
	key := h.key(sessionID)
	if err := h.client.RPush(ctx, key, vals...).Err(); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return h.client.Expire(ctx, key, h.ttl).Err()
}

func (h *RedisHistory) Recent(ctx context.Context, sessionID string, n int) ([]core.Turn, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := h.client.LRange(ctx, h.key(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]core.Turn, 0, len(raw))
	for _, item := range raw {
		var t core.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

var _ History = (*RedisHistory)(nil)
