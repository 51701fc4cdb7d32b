package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tos-network/tos-miner/internal/util"
)

const (
	keyPrefix = "tosminer:"

	// Key patterns
	keyCounters  = keyPrefix + "counters"
	keySession   = keyPrefix + "session"
	keyShares    = keyPrefix + "shares"
	keyFailovers = keyPrefix + "failovers"
	keyHashrate  = keyPrefix + "hashrate"
)

// sharesKept bounds the recent-shares and failover lists.
const sharesKept = 256

// RedisClient wraps Redis operations for miner telemetry
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient creates a new Redis client
func NewRedisClient(url, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	util.Info("Connected to Redis at ", url)
	return &RedisClient{client: client, ctx: ctx}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// RecordShare stores one accept/reject response and bumps the counters.
func (r *RedisClient) RecordShare(rec *ShareRecord) error {
	rec.Timestamp = time.Now().Unix()

	field := "rejected"
	if rec.Accepted {
		field = "accepted"
	}
	if rec.Stale {
		field += "Stale"
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.HIncrBy(r.ctx, keyCounters, field, 1)
	pipe.LPush(r.ctx, keyShares, data)
	pipe.LTrim(r.ctx, keyShares, 0, sharesKept-1)
	_, err = pipe.Exec(r.ctx)
	return err
}

// RecordFailover stores one pool rotation event.
func (r *RedisClient) RecordFailover(from, to string) error {
	rec := FailoverRecord{From: from, To: to, Timestamp: time.Now().Unix()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.HIncrBy(r.ctx, keyCounters, "failovers", 1)
	pipe.LPush(r.ctx, keyFailovers, data)
	pipe.LTrim(r.ctx, keyFailovers, 0, sharesKept-1)
	_, err = pipe.Exec(r.ctx)
	return err
}

// RecordWasted bumps the wasted-solutions counter.
func (r *RedisClient) RecordWasted() error {
	return r.client.HIncrBy(r.ctx, keyCounters, "wasted", 1).Err()
}

// RecordHashrate appends a hashrate sample and expires samples older than
// the window. Member format: "rate:ms".
func (r *RedisClient) RecordHashrate(rate uint64, window time.Duration) error {
	now := time.Now()
	member := fmt.Sprintf("%d:%d", rate, now.UnixMilli())

	pipe := r.client.Pipeline()
	pipe.ZAdd(r.ctx, keyHashrate, &redis.Z{
		Score:  float64(now.Unix()),
		Member: member,
	})
	pipe.ZRemRangeByScore(r.ctx, keyHashrate, "-inf",
		strconv.FormatInt(now.Add(-window).Unix(), 10))
	_, err := pipe.Exec(r.ctx)
	return err
}

// SetActivePool records the currently connected pool.
func (r *RedisClient) SetActivePool(pool string) error {
	return r.client.HSet(r.ctx, keySession,
		"activePool", pool,
		"connectedAt", time.Now().Unix(),
	).Err()
}

// ActivePool returns the last recorded pool, empty if none.
func (r *RedisClient) ActivePool() (string, error) {
	pool, err := r.client.HGet(r.ctx, keySession, "activePool").Result()
	if err == redis.Nil {
		return "", nil
	}
	return pool, err
}

// GetCounters reads the lifetime counters.
func (r *RedisClient) GetCounters() (*Counters, error) {
	fields, err := r.client.HGetAll(r.ctx, keyCounters).Result()
	if err != nil {
		return nil, err
	}

	get := func(name string) int64 {
		n, _ := strconv.ParseInt(fields[name], 10, 64)
		return n
	}
	return &Counters{
		Accepted:      get("accepted"),
		AcceptedStale: get("acceptedStale"),
		Rejected:      get("rejected"),
		RejectedStale: get("rejectedStale"),
		Wasted:        get("wasted"),
		Failovers:     get("failovers"),
	}, nil
}

// RecentShares returns up to n most recent share records, newest first.
func (r *RedisClient) RecentShares(n int64) ([]*ShareRecord, error) {
	raw, err := r.client.LRange(r.ctx, keyShares, 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*ShareRecord, 0, len(raw))
	for _, item := range raw {
		var rec ShareRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// AverageHashrate averages the samples recorded inside the window.
func (r *RedisClient) AverageHashrate(window time.Duration) (uint64, error) {
	from := strconv.FormatInt(time.Now().Add(-window).Unix(), 10)
	members, err := r.client.ZRangeByScore(r.ctx, keyHashrate, &redis.ZRangeBy{
		Min: from,
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	var total uint64
	for _, m := range members {
		parts := strings.SplitN(m, ":", 2)
		rate, _ := strconv.ParseUint(parts[0], 10, 64)
		total += rate
	}
	return total / uint64(len(members)), nil
}
