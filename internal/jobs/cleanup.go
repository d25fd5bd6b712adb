package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/cache"
)

// CleanupJob sweeps elapsed members out of the per-user lookahead sets once
// a day and deletes sets that became empty.
type CleanupJob struct {
	cache    *cache.Cache
	interval time.Duration
	log      zerolog.Logger
}

func NewCleanupJob(c *cache.Cache, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{cache: c, interval: 24 * time.Hour, log: log}
}

func (j *CleanupJob) Run(ctx context.Context) error {
	if !j.cache.Enabled() {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	j.log.Info().Dur("interval", j.interval).Msg("cleanup job started")
	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("cleanup job stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := j.cache.SweepExpired(ctx, time.Now()); err != nil {
				j.log.Error().Err(err).Msg("lookahead sweep failed")
			}
		}
	}
}
