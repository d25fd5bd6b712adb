// Package cache is the near-term prefetch layer in front of the system of
// record. It is purely an optimization: every read path has a store
// fallback, and losing the whole keyspace loses no data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/models"
)

const (
	pendingKeyPrefix  = "pending:"
	upcomingKeyPrefix = "user-reminders-zset:"
	minuteLayout      = "200601021504"

	// A pending snapshot outlives its minute by a bounded multiple of the
	// prefetch interval, so stale entries self-expire even if cleanup fails.
	pendingTTLFactor = 7
)

type Cache struct {
	client   *redis.Client
	interval time.Duration
	log      zerolog.Logger
}

// New wraps the Redis client. A nil client yields a disabled cache whose
// every method is a cheap no-op or miss.
func New(client *redis.Client, prefetchInterval time.Duration, log zerolog.Logger) *Cache {
	if prefetchInterval <= 0 {
		prefetchInterval = time.Minute
	}
	return &Cache{client: client, interval: prefetchInterval, log: log}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// PendingKey is the hash key holding the snapshot of instances due in the
// given minute.
func PendingKey(minute time.Time) string {
	return pendingKeyPrefix + minute.UTC().Truncate(time.Minute).Format(minuteLayout)
}

// UpcomingKey is the per-user sorted set of upcoming instances.
func UpcomingKey(userID int64) string {
	return upcomingKeyPrefix + strconv.FormatInt(userID, 10)
}

// WritePending stores the due-minute snapshot as a hash of
// instanceID -> serialized instance, with a short TTL.
func (c *Cache) WritePending(ctx context.Context, minute time.Time, instances []*models.Instance) error {
	if !c.Enabled() || len(instances) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(instances))
	for _, inst := range instances {
		raw, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("cadence/cache: marshal instance: %w", err)
		}
		fields[strconv.FormatInt(inst.InstanceID, 10)] = raw
	}

	key := PendingKey(minute)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, time.Duration(pendingTTLFactor)*c.interval)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/cache: write pending: %w", err)
	}
	return nil
}

// ReadPending returns the snapshot for the minute. The second return value
// is false on a miss (or when the cache is disabled); the caller then falls
// back to the store.
func (c *Cache) ReadPending(ctx context.Context, minute time.Time) ([]*models.Instance, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	raw, err := c.client.HGetAll(ctx, PendingKey(minute)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("cadence/cache: read pending: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	instances := make([]*models.Instance, 0, len(raw))
	for _, v := range raw {
		inst := &models.Instance{}
		if err := json.Unmarshal([]byte(v), inst); err != nil {
			return nil, false, fmt.Errorf("cadence/cache: unmarshal instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, true, nil
}

// DeletePending drops the snapshot once the delivery worker has consumed it.
// Best effort; the TTL is the backstop.
func (c *Cache) DeletePending(ctx context.Context, minute time.Time) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Del(ctx, PendingKey(minute)).Err(); err != nil {
		c.log.Warn().Err(err).Msg("pending snapshot delete failed")
	}
}

// AddUpcoming warms the per-user lookahead sets, scored by due time.
func (c *Cache) AddUpcoming(ctx context.Context, instances []*models.Instance) error {
	if !c.Enabled() || len(instances) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, inst := range instances {
		raw, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("cadence/cache: marshal instance: %w", err)
		}
		pipe.ZAdd(ctx, UpcomingKey(inst.ToUserID), redis.Z{
			Score:  float64(inst.EventTime.Unix()),
			Member: raw,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/cache: add upcoming: %w", err)
	}
	return nil
}

// ListUpcoming returns the user's next limit instances from the lookahead
// set. A miss (empty set or disabled cache) returns ok=false.
func (c *Cache) ListUpcoming(ctx context.Context, userID int64, after time.Time, limit int) ([]*models.Instance, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	members, err := c.client.ZRangeByScore(ctx, UpcomingKey(userID), &redis.ZRangeBy{
		Min:   strconv.FormatInt(after.Unix()+1, 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, false, fmt.Errorf("cadence/cache: list upcoming: %w", err)
	}
	if len(members) == 0 {
		return nil, false, nil
	}
	instances := make([]*models.Instance, 0, len(members))
	for _, m := range members {
		inst := &models.Instance{}
		if err := json.Unmarshal([]byte(m), inst); err != nil {
			return nil, false, fmt.Errorf("cadence/cache: unmarshal instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, true, nil
}

// InvalidateUpcoming drops a user's lookahead set after template mutations;
// the next prefetch pass rebuilds it.
func (c *Cache) InvalidateUpcoming(ctx context.Context, userID int64) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Del(ctx, UpcomingKey(userID)).Err(); err != nil {
		c.log.Warn().Err(err).Int64("user_id", userID).Msg("upcoming set invalidate failed")
	}
}

// SweepExpired removes lookahead members already behind now and deletes any
// sorted set that became empty, bounding keyspace growth.
func (c *Cache) SweepExpired(ctx context.Context, now time.Time) error {
	if !c.Enabled() {
		return nil
	}
	var swept, deleted int
	iter := c.client.Scan(ctx, 0, upcomingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := c.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Unix(), 10)).Result()
		if err != nil {
			return fmt.Errorf("cadence/cache: sweep %s: %w", key, err)
		}
		swept += int(n)
		card, err := c.client.ZCard(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("cadence/cache: card %s: %w", key, err)
		}
		if card == 0 {
			if err := c.client.Del(ctx, key).Err(); err != nil {
				return fmt.Errorf("cadence/cache: delete %s: %w", key, err)
			}
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cadence/cache: scan: %w", err)
	}
	c.log.Debug().Int("members", swept).Int("keys_deleted", deleted).Msg("upcoming sets swept")
	return nil
}
