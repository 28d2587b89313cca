package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chat:history:"

// RedisSessions stores each history as a JSON list under
// chat:history:<session>, trimmed to the bound and expired after ttl of
// inactivity.
type RedisSessions struct {
	client   *redis.Client
	maxTurns int
	ttl      time.Duration
}

func NewRedisSessions(client *redis.Client, maxTurns int, ttl time.Duration) *RedisSessions {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &RedisSessions{client: client, maxTurns: maxTurns, ttl: ttl}
}

func (r *RedisSessions) History(ctx context.Context, sessionID string) ([]Turn, error) {
	raw, err := r.client.LRange(ctx, keyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode history turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (r *RedisSessions) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, len(turns))
	for i, t := range stamp(turns) {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode history turn: %w", err)
		}
		values[i] = b
	}

	key := keyPrefix + sessionID
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, values...)
		p.LTrim(ctx, key, int64(-r.maxTurns), -1)
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (r *RedisSessions) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
