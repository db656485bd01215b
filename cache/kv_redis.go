package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// redisKV is the optional networked persistent tier for multi-instance
// deployments that want a shared cache tier. Entries live under keyPrefix
// plus the fingerprint; a sorted set keyed by insertion time backs
// DeleteOlderThan and Stats without a full key scan, the same sorted-set
// range idiom the reference cache uses for its epoch-indexed sweeps.
type redisKV struct {
	client    *redis.Client
	keyPrefix string
	indexKey  string
}

// newRedisClient opens and pings a client for the optional networked
// persistent tier, accepting either a bare "host:port" address or a full
// "redis://" URL.
func newRedisClient(addr string) (*redis.Client, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		opt = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opt)
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, errors.WithMessage(err, "failed to ping redis")
	}
	return client, nil
}

func newRedisKV(client *redis.Client, keyPrefix string) *redisKV {
	if keyPrefix == "" {
		keyPrefix = "rpcproxy:kv:"
	}
	return &redisKV{client: client, keyPrefix: keyPrefix, indexKey: keyPrefix + "index"}
}

type redisPayload struct {
	Payload    []byte `json:"payload"`
	InsertedAt int64  `json:"insertedAt"`
}

func (r *redisKV) dataKey(key string) string { return r.keyPrefix + key }

func (r *redisKV) Get(key string) (*kvRecord, error) {
	ctx := context.Background()
	raw, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read redis KV key %q", key)
	}
	var p redisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.WithMessagef(err, "failed to decode redis KV key %q", key)
	}
	return &kvRecord{Payload: p.Payload, InsertedAt: time.UnixMilli(p.InsertedAt)}, nil
}

func (r *redisKV) Put(key string, payload []byte, insertedAt time.Time) error {
	ctx := context.Background()
	blob, err := json.Marshal(redisPayload{Payload: payload, InsertedAt: insertedAt.UnixMilli()})
	if err != nil {
		return errors.WithMessage(err, "failed to encode redis KV payload")
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.dataKey(key), blob, 0)
	pipe.ZAdd(ctx, r.indexKey, &redis.Z{Score: float64(insertedAt.UnixMilli()), Member: key})
	_, err = pipe.Exec(ctx)
	return errors.WithMessagef(err, "failed to upsert redis KV key %q", key)
}

func (r *redisKV) Delete(key string) error {
	ctx := context.Background()
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.dataKey(key))
	pipe.ZRem(ctx, r.indexKey, key)
	_, err := pipe.Exec(ctx)
	return errors.WithMessagef(err, "failed to delete redis KV key %q", key)
}

func (r *redisKV) DeleteOlderThan(cutoff time.Time) (int64, error) {
	ctx := context.Background()
	stale, err := r.client.ZRangeByScore(ctx, r.indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(cutoff),
	}).Result()
	if err != nil {
		return 0, errors.WithMessage(err, "failed to scan redis KV sweep range")
	}
	if len(stale) == 0 {
		return 0, nil
	}

	pipe := r.client.TxPipeline()
	for _, key := range stale {
		pipe.Del(ctx, r.dataKey(key))
	}
	pipe.ZRem(ctx, r.indexKey, toInterfaceSlice(stale)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.WithMessage(err, "failed to sweep redis KV store")
	}
	return int64(len(stale)), nil
}

func (r *redisKV) Count() (int64, error) {
	ctx := context.Background()
	n, err := r.client.ZCard(ctx, r.indexKey).Result()
	return n, errors.WithMessage(err, "failed to count redis KV entries")
}

func (r *redisKV) Stats() (kvStats, error) {
	ctx := context.Background()
	var stats kvStats

	n, err := r.client.ZCard(ctx, r.indexKey).Result()
	if err != nil {
		return stats, errors.WithMessage(err, "failed to stat redis KV store")
	}
	stats.Count = n
	if n == 0 {
		return stats, nil
	}

	oldest, err := r.client.ZRangeWithScores(ctx, r.indexKey, 0, 0).Result()
	if err == nil && len(oldest) == 1 {
		stats.MinTs = time.UnixMilli(int64(oldest[0].Score))
	}
	newest, err := r.client.ZRevRangeWithScores(ctx, r.indexKey, 0, 0).Result()
	if err == nil && len(newest) == 1 {
		stats.MaxTs = time.UnixMilli(int64(newest[0].Score))
	}
	return stats, nil
}

func (r *redisKV) Close() error {
	return r.client.Close()
}

func formatScore(t time.Time) string {
	return jsonInt(t.UnixMilli())
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
