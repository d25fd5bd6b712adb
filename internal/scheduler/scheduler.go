// Package scheduler maps each persisted instance to exactly one one-shot
// timer. Timers carry only the instance id and title; the fire path resolves
// the row fresh so stale timers for deleted instances are harmless no-ops.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/models"
)

// InstanceResolver re-reads an instance at fire time.
type InstanceResolver interface {
	GetByID(ctx context.Context, instanceID int64) (*models.Instance, error)
	ListFrom(ctx context.Context, cutoff time.Time) ([]*models.Instance, error)
}

// FireFunc is invoked at (or immediately after) an instance's event time.
type FireFunc func(ctx context.Context, inst *models.Instance)

// Bridge owns the timer registry. Registrations are keyed by instance id, so
// concurrent create/update/delete on the same id linearize to last writer
// wins at the timer layer.
type Bridge struct {
	resolver InstanceResolver
	fire     FireFunc
	log      zerolog.Logger

	// restoreLookback bounds how far back Restore re-arms missed timers.
	restoreLookback time.Duration

	mu     sync.Mutex
	timers map[int64]*time.Timer
	// version counters let stale timer callbacks from replaced
	// registrations detect themselves and bail out.
	versions map[int64]uint64

	baseCtx context.Context
}

func NewBridge(resolver InstanceResolver, fire FireFunc, log zerolog.Logger) *Bridge {
	return &Bridge{
		resolver:        resolver,
		fire:            fire,
		log:             log,
		restoreLookback: 24 * time.Hour,
		timers:          make(map[int64]*time.Timer),
		versions:        make(map[int64]uint64),
		baseCtx:         context.Background(),
	}
}

// TimerName returns the registration identity used in logs and diagnostics.
func TimerName(instanceID int64) string {
	return fmt.Sprintf("reminder_%d", instanceID)
}

// Schedule arms a one-shot timer for the instance. A timer that already
// exists for the id is kept and the call logged, not an error: scheduling is
// idempotent. An event time already in the past fires immediately (misfire
// recovery is "fire now", never "skip").
func (b *Bridge) Schedule(inst *models.Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.timers[inst.InstanceID]; ok {
		b.log.Warn().Str("timer", TimerName(inst.InstanceID)).Msg("timer already registered, skipping")
		return
	}
	b.armLocked(inst.InstanceID, inst.EventTime)
}

// Reschedule cancels any existing timer and arms a new one for the new event
// time. An absent timer is tolerated; the new registration proceeds either way.
func (b *Bridge) Reschedule(instanceID int64, eventTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[instanceID]; ok {
		t.Stop()
		delete(b.timers, instanceID)
	}
	b.armLocked(instanceID, eventTime)
}

// Cancel stops and forgets the instance's timer. Absence is not an error:
// the timer may already have fired, or never existed.
func (b *Bridge) Cancel(instanceID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.versions[instanceID]++
	if t, ok := b.timers[instanceID]; ok {
		t.Stop()
		delete(b.timers, instanceID)
	}
}

// Exists reports whether a timer is currently registered for the instance.
func (b *Bridge) Exists(instanceID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.timers[instanceID]
	return ok
}

// Restore re-arms timers for every undelivered instance inside the lookback
// window. Instances whose event time elapsed while the process was down fire
// immediately.
func (b *Bridge) Restore(ctx context.Context) error {
	instances, err := b.resolver.ListFrom(ctx, time.Now().Add(-b.restoreLookback))
	if err != nil {
		return fmt.Errorf("restore timers: %w", err)
	}
	for _, inst := range instances {
		b.Schedule(inst)
	}
	b.log.Info().Int("timers", len(instances)).Msg("timer registry restored")
	return nil
}

// StopAll stops every registered timer. Registrations are runtime-only; the
// store still holds the instances, so the next Restore rebuilds them.
func (b *Bridge) StopAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.timers {
		t.Stop()
		b.versions[id]++
		delete(b.timers, id)
	}
}

func (b *Bridge) armLocked(instanceID int64, eventTime time.Time) {
	b.versions[instanceID]++
	ver := b.versions[instanceID]

	delay := time.Until(eventTime)
	if delay < 0 {
		delay = 0
	}
	b.timers[instanceID] = time.AfterFunc(delay, func() {
		b.mu.Lock()
		if b.versions[instanceID] != ver {
			b.mu.Unlock()
			return
		}
		delete(b.timers, instanceID)
		b.mu.Unlock()

		inst, err := b.resolver.GetByID(b.baseCtx, instanceID)
		if err != nil {
			// Row gone (deleted or regenerated): the fire is a no-op.
			b.log.Debug().Str("timer", TimerName(instanceID)).Err(err).Msg("fired for missing instance")
			return
		}
		b.fire(b.baseCtx, inst)
	})
}
