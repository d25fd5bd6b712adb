// Package delivery drains due instances to the notification transport. The
// prefetch cache is the fast path; the store is both the fallback and the
// exactly-once arbiter via the conditional notified_at update.
package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/cache"
	"github.com/hray3182/Cadence/internal/models"
	"github.com/hray3182/Cadence/internal/notifier"
)

// InstanceStore is the slice of the system of record the worker needs.
type InstanceStore interface {
	ListDueBetween(ctx context.Context, from, to time.Time) ([]*models.Instance, error)
	MarkNotified(ctx context.Context, instanceID int64, at time.Time) (bool, error)
}

type Worker struct {
	store    InstanceStore
	cache    *cache.Cache
	notifier notifier.Notifier
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewWorker(store InstanceStore, c *cache.Cache, n notifier.Notifier, interval time.Duration, log zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{store: store, cache: c, notifier: n, interval: interval, log: log, now: time.Now}
}

// Run loops until the context is cancelled, draining each elapsed minute.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.log.Info().Dur("interval", w.interval).Msg("delivery worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("delivery worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	now := w.now()
	minute := now.Truncate(time.Minute)

	instances, hit, err := w.cache.ReadPending(ctx, minute)
	if err != nil {
		w.log.Warn().Err(err).Msg("pending snapshot read failed, falling back to store")
	}
	if !hit {
		instances, err = w.store.ListDueBetween(ctx, minute.Add(-w.interval), minute)
		if err != nil {
			w.log.Error().Err(err).Msg("due instance query failed")
			return
		}
	}

	for _, inst := range instances {
		w.Deliver(ctx, inst)
	}
	if hit {
		w.cache.DeletePending(ctx, minute)
	}
}

// Deliver sends one instance. The conditional notified_at update is taken
// first; a worker that loses it skips the send, so retries and concurrent
// workers cannot double-deliver.
func (w *Worker) Deliver(ctx context.Context, inst *models.Instance) {
	won, err := w.store.MarkNotified(ctx, inst.InstanceID, w.now())
	if err != nil {
		w.log.Error().Err(err).Int64("instance_id", inst.InstanceID).Msg("mark notified failed")
		return
	}
	if !won {
		return
	}
	if err := w.notifier.Send(ctx, inst); err != nil {
		w.log.Error().Err(err).Int64("instance_id", inst.InstanceID).Msg("notification send failed")
		return
	}
	w.log.Debug().Int64("instance_id", inst.InstanceID).Time("event_time", inst.EventTime).Msg("reminder delivered")
}
