// Package jobs holds the periodic loops that warm and clean the prefetch
// cache. Both follow the minute-ticker pattern of the scheduler: tick, do
// one bounded pass, log failures and keep going.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/cache"
	"github.com/hray3182/Cadence/internal/models"
)

// InstanceStore is the read slice of the system of record the jobs need.
type InstanceStore interface {
	ListDueBetween(ctx context.Context, from, to time.Time) ([]*models.Instance, error)
}

// upcomingLookahead is how far ahead the per-user sorted sets are warmed.
const upcomingLookahead = 24 * time.Hour

// PrefetchJob snapshots "due in the next interval" instances into short-TTL
// pending hashes and warms the per-user lookahead sets.
type PrefetchJob struct {
	store    InstanceStore
	cache    *cache.Cache
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewPrefetchJob(store InstanceStore, c *cache.Cache, interval time.Duration, log zerolog.Logger) *PrefetchJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PrefetchJob{store: store, cache: c, interval: interval, log: log, now: time.Now}
}

func (j *PrefetchJob) Run(ctx context.Context) error {
	if !j.cache.Enabled() {
		j.log.Info().Msg("prefetch cache disabled, job idle")
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	j.log.Info().Dur("interval", j.interval).Msg("prefetch job started")

	j.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("prefetch job stopped")
			return ctx.Err()
		case <-ticker.C:
			j.pass(ctx)
		}
	}
}

func (j *PrefetchJob) pass(ctx context.Context) {
	now := j.now()

	due, err := j.store.ListDueBetween(ctx, now, now.Add(j.interval))
	if err != nil {
		j.log.Error().Err(err).Msg("prefetch due query failed")
		return
	}
	for minute, group := range groupByMinute(due) {
		if err := j.cache.WritePending(ctx, minute, group); err != nil {
			j.log.Warn().Err(err).Time("minute", minute).Msg("pending snapshot write failed")
		}
	}

	upcoming, err := j.store.ListDueBetween(ctx, now, now.Add(upcomingLookahead))
	if err != nil {
		j.log.Error().Err(err).Msg("prefetch lookahead query failed")
		return
	}
	if err := j.cache.AddUpcoming(ctx, upcoming); err != nil {
		j.log.Warn().Err(err).Msg("upcoming set warm failed")
	}
}

func groupByMinute(instances []*models.Instance) map[time.Time][]*models.Instance {
	groups := make(map[time.Time][]*models.Instance)
	for _, inst := range instances {
		minute := inst.EventTime.Truncate(time.Minute)
		groups[minute] = append(groups[minute], inst)
	}
	return groups
}
