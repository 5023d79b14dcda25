package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLog keeps each owner's turns in a Redis list and the long-term record
// in a hash.
type RedisLog struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLog(ctx context.Context, redisURL string) (*RedisLog, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisLog(rdb), nil
}

func newRedisLog(rdb *redis.Client) *RedisLog {
	return &RedisLog{rdb: rdb, prefix: "aili:memory:"}
}

func (l *RedisLog) turnsKey(o Owner) string    { return l.prefix + "turns:" + o.Key() }
func (l *RedisLog) longTermKey(o Owner) string { return l.prefix + "long:" + o.Key() }

func (l *RedisLog) Append(ctx context.Context, turn Turn, window int) (*Turn, int, error) {
	raw, err := json.Marshal(turn)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal turn: %w", err)
	}
	key := l.turnsKey(turn.Owner())

	var (
		push  *redis.IntCmd
		index *redis.StringCmd
	)
	// MULTI/EXEC keeps the push and the eviction lookup atomic per owner.
	_, err = l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		push = p.RPush(ctx, key, raw)
		if window > 0 {
			index = p.LIndex(ctx, key, int64(-(window + 1)))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("append turn: %w", err)
	}

	total := int(push.Val())
	if index == nil || total <= window {
		return nil, total, nil
	}
	evictedRaw, err := index.Result()
	if err != nil {
		return nil, total, fmt.Errorf("read evicted turn: %w", err)
	}
	var evicted Turn
	if err := json.Unmarshal([]byte(evictedRaw), &evicted); err != nil {
		return nil, total, fmt.Errorf("decode evicted turn: %w", err)
	}
	return &evicted, total, nil
}

func (l *RedisLog) Recent(ctx context.Context, owner Owner, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	raws, err := l.rdb.LRange(ctx, l.turnsKey(owner), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range turns: %w", err)
	}
	out := make([]Turn, 0, len(raws))
	for _, raw := range raws {
		var t Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (l *RedisLog) LongTerm(ctx context.Context, owner Owner) (LongTerm, error) {
	vals, err := l.rdb.HGetAll(ctx, l.longTermKey(owner)).Result()
	if err != nil {
		return LongTerm{}, fmt.Errorf("read long term: %w", err)
	}
	rec := LongTerm{Summary: vals["summary"], Reflection: vals["reflection"]}
	if ts := vals["updated_at"]; ts != "" {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return rec, nil
}

func (l *RedisLog) SaveLongTerm(ctx context.Context, owner Owner, record LongTerm) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	err := l.rdb.HSet(ctx, l.longTermKey(owner),
		"summary", record.Summary,
		"reflection", record.Reflection,
		"updated_at", record.UpdatedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("save long term: %w", err)
	}
	return nil
}

func (l *RedisLog) Close() error { return l.rdb.Close() }
