// Package service orchestrates the template and instance lifecycle: the
// idempotent create path, synchronous immediate-window expansion, the async
// regeneration hand-off, and the cache/timer bookkeeping around mutations.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/idempotency"
	"github.com/hray3182/Cadence/internal/models"
	"github.com/hray3182/Cadence/internal/recurrence"
)

type TemplateStore interface {
	CreateIfAbsent(ctx context.Context, t *models.Template) (bool, error)
	GetByID(ctx context.Context, templateID int64) (*models.Template, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Template, error)
	Update(ctx context.Context, t *models.Template) error
	Delete(ctx context.Context, templateID, userID int64) error
}

type InstanceStore interface {
	Create(ctx context.Context, inst *models.Instance) error
	GetByID(ctx context.Context, instanceID int64) (*models.Instance, error)
	ExistsByTemplateAndTime(ctx context.Context, templateID int64, eventTime time.Time) (bool, error)
	ListByTemplate(ctx context.Context, templateID int64) ([]*models.Instance, error)
	ListUpcomingByUser(ctx context.Context, userID int64, after time.Time, limit int) ([]*models.Instance, error)
	Reschedule(ctx context.Context, instanceID int64, eventTime time.Time) error
	Delete(ctx context.Context, instanceID, userID int64) error
}

// TimerBridge is the scheduler capability the service needs.
type TimerBridge interface {
	Schedule(inst *models.Instance)
	Reschedule(instanceID int64, eventTime time.Time)
	Cancel(instanceID int64)
}

// Expander runs synchronous expansions.
type Expander interface {
	Expand(ctx context.Context, tmpl *models.Template, monthsAhead int) ([]*models.Instance, error)
	EnsureGenerated(ctx context.Context, tmpl *models.Template, year int, month time.Month) ([]*models.Instance, error)
}

// ChangePublisher enqueues asynchronous regeneration.
type ChangePublisher interface {
	PublishTemplateChanged(templateID int64, monthsAhead int, userID int64) error
}

// UpcomingCache is the prefetch-layer slice the service touches.
type UpcomingCache interface {
	ListUpcoming(ctx context.Context, userID int64, after time.Time, limit int) ([]*models.Instance, bool, error)
	AddUpcoming(ctx context.Context, instances []*models.Instance) error
	InvalidateUpcoming(ctx context.Context, userID int64)
}

type Reminders struct {
	templates   TemplateStore
	instances   InstanceStore
	bridge      TimerBridge
	expander    Expander
	publisher   ChangePublisher
	cache       UpcomingCache
	monthsAhead int
	log         zerolog.Logger
	now         func() time.Time
}

func NewReminders(
	templates TemplateStore,
	instances InstanceStore,
	bridge TimerBridge,
	expander Expander,
	publisher ChangePublisher,
	c UpcomingCache,
	monthsAhead int,
	log zerolog.Logger,
) *Reminders {
	if monthsAhead <= 0 {
		monthsAhead = 3
	}
	return &Reminders{
		templates:   templates,
		instances:   instances,
		bridge:      bridge,
		expander:    expander,
		publisher:   publisher,
		cache:       c,
		monthsAhead: monthsAhead,
		log:         log,
		now:         time.Now,
	}
}

// CreateTemplateRequest carries the user-supplied template fields. An empty
// IdempotencyKey derives the deterministic business key; callers that want
// several otherwise-identical templates pass idempotency.RandomKey().
type CreateTemplateRequest struct {
	FromUserID     int64
	ToUserID       int64
	Title          string
	Description    string
	RecurrenceRule string
	ReminderType   string
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	MaxExecutions  *int
	IdempotencyKey string
}

// CreateTemplate validates, then creates-if-absent: a repeated request with
// the same key returns the original template unchanged. A newly created
// template is expanded synchronously for the immediate month, with the full
// lookahead window handed to the async pipeline.
func (s *Reminders) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*models.Template, bool, error) {
	if err := recurrence.Validate(req.RecurrenceRule); err != nil {
		return nil, false, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.BusinessKey(idempotency.KeyFields{
			FromUserID:    req.FromUserID,
			ToUserID:      req.ToUserID,
			Title:         req.Title,
			Rule:          req.RecurrenceRule,
			ReminderType:  req.ReminderType,
			ValidFrom:     req.ValidFrom,
			ValidUntil:    req.ValidUntil,
			MaxExecutions: req.MaxExecutions,
		})
	}
	if err := idempotency.Validate(key); err != nil {
		return nil, false, err
	}

	tmpl := &models.Template{
		FromUserID:     req.FromUserID,
		ToUserID:       req.ToUserID,
		Title:          req.Title,
		Description:    req.Description,
		RecurrenceRule: req.RecurrenceRule,
		ReminderType:   req.ReminderType,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		MaxExecutions:  req.MaxExecutions,
		IdempotencyKey: key,
	}
	created, err := s.templates.CreateIfAbsent(ctx, tmpl)
	if err != nil {
		return nil, false, fmt.Errorf("create template: %w", err)
	}
	if !created {
		return tmpl, false, nil
	}

	// Immediate window synchronously, so "list this month" is right away
	// consistent; the full lookahead goes through the pipeline.
	if _, err := s.expander.Expand(ctx, tmpl, 0); err != nil {
		return nil, false, fmt.Errorf("expand immediate window: %w", err)
	}
	if err := s.publisher.PublishTemplateChanged(tmpl.TemplateID, s.monthsAhead, tmpl.FromUserID); err != nil {
		// The lazy ensure path self-heals coverage; log, don't fail the create.
		s.log.Warn().Err(err).Int64("template_id", tmpl.TemplateID).Msg("regeneration enqueue failed")
	}
	return tmpl, true, nil
}

// UpdateTemplate persists the mutation and hands regeneration to the async
// pipeline; existing instances stay visible until the pipeline resets them.
func (s *Reminders) UpdateTemplate(ctx context.Context, tmpl *models.Template) error {
	if err := recurrence.Validate(tmpl.RecurrenceRule); err != nil {
		return err
	}
	if err := s.templates.Update(ctx, tmpl); err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if err := s.publisher.PublishTemplateChanged(tmpl.TemplateID, s.monthsAhead, tmpl.FromUserID); err != nil {
		return fmt.Errorf("enqueue regeneration: %w", err)
	}
	s.cache.InvalidateUpcoming(ctx, tmpl.ToUserID)
	return nil
}

// DeleteTemplate removes the template and, via cascade, its instances, then
// cancels their timers and drops the owner's lookahead set.
func (s *Reminders) DeleteTemplate(ctx context.Context, templateID, userID int64) error {
	instances, err := s.instances.ListByTemplate(ctx, templateID)
	if err != nil {
		return fmt.Errorf("list template instances: %w", err)
	}
	if err := s.templates.Delete(ctx, templateID, userID); err != nil {
		return err
	}
	for _, inst := range instances {
		s.bridge.Cancel(inst.InstanceID)
		s.cache.InvalidateUpcoming(ctx, inst.ToUserID)
	}
	return nil
}

// CreateInstance creates a standalone one-off reminder, or a template-bound
// one-off guarded by the per-(template, eventTime) existence check: a
// duplicate resolves to a silent no-op rather than a conflict error.
func (s *Reminders) CreateInstance(ctx context.Context, inst *models.Instance) error {
	if inst.TemplateID != nil {
		exists, err := s.instances.ExistsByTemplateAndTime(ctx, *inst.TemplateID, inst.EventTime)
		if err != nil {
			return fmt.Errorf("instance duplicate check: %w", err)
		}
		if exists {
			return nil
		}
	}
	if err := s.instances.Create(ctx, inst); err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	s.bridge.Schedule(inst)
	if err := s.cache.AddUpcoming(ctx, []*models.Instance{inst}); err != nil {
		s.log.Warn().Err(err).Msg("upcoming set warm failed")
	}
	return nil
}

// RescheduleInstance moves an instance's event time and re-registers its
// timer; the old registration is cancelled as part of Reschedule.
func (s *Reminders) RescheduleInstance(ctx context.Context, instanceID, userID int64, eventTime time.Time) error {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.FromUserID != userID {
		return fmt.Errorf("instance %d not owned by user %d", instanceID, userID)
	}
	if err := s.instances.Reschedule(ctx, instanceID, eventTime); err != nil {
		return err
	}
	s.bridge.Reschedule(instanceID, eventTime)
	s.cache.InvalidateUpcoming(ctx, inst.ToUserID)
	return nil
}

func (s *Reminders) DeleteInstance(ctx context.Context, instanceID, userID int64) error {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := s.instances.Delete(ctx, instanceID, userID); err != nil {
		return err
	}
	s.bridge.Cancel(instanceID)
	s.cache.InvalidateUpcoming(ctx, inst.ToUserID)
	return nil
}

// ListUpcoming serves "my next N reminders" cache-first with a store
// fallback, lazily ensuring the current month is generated for every
// template the user owns. This lazy ensure is what makes coverage
// self-healing without a monthly background sweep.
func (s *Reminders) ListUpcoming(ctx context.Context, userID int64, limit int) ([]*models.Instance, error) {
	now := s.now()
	templates, err := s.templates.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user templates: %w", err)
	}
	for _, tmpl := range templates {
		if _, err := s.expander.EnsureGenerated(ctx, tmpl, now.Year(), now.Month()); err != nil {
			s.log.Warn().Err(err).Int64("template_id", tmpl.TemplateID).Msg("lazy ensure failed")
		}
	}

	// The lookahead set only holds near-term instances, so a hit is
	// authoritative only when it fills the whole request. A short hit falls
	// through to the store; the cache saves round-trips, never changes
	// results.
	if instances, ok, err := s.cache.ListUpcoming(ctx, userID, now, limit); err != nil {
		s.log.Warn().Err(err).Msg("upcoming cache read failed, falling back to store")
	} else if ok && len(instances) >= limit {
		return instances, nil
	}
	return s.instances.ListUpcomingByUser(ctx, userID, now, limit)
}

// EnsureMonth guarantees instance coverage for one template through the
// given month, for read paths that scan an arbitrary month.
func (s *Reminders) EnsureMonth(ctx context.Context, templateID int64, year int, month time.Month) error {
	tmpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return err
	}
	_, err = s.expander.EnsureGenerated(ctx, tmpl, year, month)
	return err
}
