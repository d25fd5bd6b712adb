// Package expansion turns reminder templates into persisted instances, one
// month window at a time, gated by the per-template generation watermark.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/models"
	"github.com/hray3182/Cadence/internal/recurrence"
)

// TemplateStore is the slice of the system of record the expander needs for
// templates.
type TemplateStore interface {
	SetLastGeneratedYm(ctx context.Context, templateID int64, ym int) error
}

// InstanceStore is the slice of the system of record the expander needs for
// instances.
type InstanceStore interface {
	BulkInsert(ctx context.Context, instances []*models.Instance) error
	CountByTemplate(ctx context.Context, templateID int64) (int, error)
}

// Registrar receives newly persisted instances so their one-shot timers get
// armed. May be nil when the caller wires timers elsewhere.
type Registrar interface {
	Schedule(inst *models.Instance)
}

const defaultBatchSize = 100

type Service struct {
	templates TemplateStore
	instances InstanceStore
	registrar Registrar
	loc       *time.Location
	batchSize int
	now       func() time.Time
	log       zerolog.Logger
}

func New(templates TemplateStore, instances InstanceStore, registrar Registrar, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		templates: templates,
		instances: instances,
		registrar: registrar,
		loc:       loc,
		batchSize: defaultBatchSize,
		now:       time.Now,
		log:       log,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ym packs a year and month into the YYYYMM watermark form.
func Ym(year int, month time.Month) int {
	return year*100 + int(month)
}

// EnsureGenerated guarantees instance coverage for the template through the
// given month. Months the watermark already covers are a no-op; months
// strictly in the past advance the watermark without generating anything
// (there is nothing useful to deliver for a bygone month); current and
// future months run a real expansion.
func (s *Service) EnsureGenerated(ctx context.Context, tmpl *models.Template, year int, month time.Month) ([]*models.Instance, error) {
	targetYm := Ym(year, month)
	if tmpl.Covered(targetYm) {
		return nil, nil
	}

	now := s.now().In(s.loc)
	if targetYm < Ym(now.Year(), now.Month()) {
		if err := s.advanceWatermark(ctx, tmpl, targetYm); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// Months the watermark already covers hold their instances; the window
	// floor keeps an overlapping ensure call from generating them twice.
	var floor time.Time
	if tmpl.LastGeneratedYm != nil {
		floor = endOfMonth((*tmpl.LastGeneratedYm)/100, time.Month((*tmpl.LastGeneratedYm)%100), s.loc)
	}
	end := endOfMonth(year, month, s.loc)
	return s.expandWindow(ctx, tmpl, floor, end)
}

// Expand generates instances for the template through the month monthsAhead
// months from now, then advances the watermark to the actually covered
// month. Unlike EnsureGenerated it ignores the watermark when positioning
// the window: the caller guarantees a clean slate (fresh template, or the
// pipeline's delete-then-regenerate reset).
func (s *Service) Expand(ctx context.Context, tmpl *models.Template, monthsAhead int) ([]*models.Instance, error) {
	if monthsAhead < 0 {
		monthsAhead = 0
	}
	now := s.now().In(s.loc)
	target := now.AddDate(0, monthsAhead, 0)
	end := endOfMonth(target.Year(), target.Month(), s.loc)
	return s.expandWindow(ctx, tmpl, time.Time{}, end)
}

// expandWindow runs the expansion over [max(now, validFrom, floor), min(end,
// validUntil)], flushes batches, and persists the covered watermark. A parse
// failure degrades to zero instances with the watermark unchanged so one
// malformed template cannot block a bulk sweep.
func (s *Service) expandWindow(ctx context.Context, tmpl *models.Template, floor, end time.Time) ([]*models.Instance, error) {
	now := s.now().In(s.loc)
	start := tmpl.WindowStart(now)
	if floor.After(start) {
		start = floor
	}
	end = tmpl.WindowEnd(end)
	if !end.After(start) {
		// validUntil already elapsed; nothing will ever be generated again.
		return nil, s.advanceWatermark(ctx, tmpl, coveredYm(end, s.loc))
	}

	budget := 0
	if tmpl.MaxExecutions != nil {
		generated, err := s.instances.CountByTemplate(ctx, tmpl.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("count generated instances: %w", err)
		}
		budget = *tmpl.MaxExecutions - generated
		if budget <= 0 {
			return nil, s.advanceWatermark(ctx, tmpl, coveredYm(end, s.loc))
		}
	}

	times, err := recurrence.Between(tmpl.RecurrenceRule, start, end, budget, s.loc)
	if err != nil {
		if errors.Is(err, recurrence.ErrInvalidRule) {
			s.log.Warn().Err(err).Int64("template_id", tmpl.TemplateID).
				Msg("skipping expansion of malformed rule")
			return nil, nil
		}
		return nil, err
	}

	var created []*models.Instance
	batch := make([]*models.Instance, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.instances.BulkInsert(ctx, batch); err != nil {
			return fmt.Errorf("flush instance batch: %w", err)
		}
		for _, inst := range batch {
			if s.registrar != nil {
				s.registrar.Schedule(inst)
			}
			created = append(created, inst)
		}
		batch = batch[:0]
		return nil
	}

	for _, t := range times {
		batch = append(batch, snapshot(tmpl, t))
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				return created, err
			}
		}
	}
	if err := flush(); err != nil {
		return created, err
	}

	if err := s.advanceWatermark(ctx, tmpl, coveredYm(end, s.loc)); err != nil {
		return created, err
	}

	s.log.Debug().Int64("template_id", tmpl.TemplateID).
		Int("instances", len(created)).
		Int("watermark", *tmpl.LastGeneratedYm).
		Msg("template expanded")
	return created, nil
}

func (s *Service) advanceWatermark(ctx context.Context, tmpl *models.Template, ym int) error {
	if tmpl.Covered(ym) {
		return nil
	}
	if err := s.templates.SetLastGeneratedYm(ctx, tmpl.TemplateID, ym); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	tmpl.LastGeneratedYm = &ym
	return nil
}

// snapshot copies title and description from the template at generation time
// so later template edits do not rewrite already-generated instances.
func snapshot(tmpl *models.Template, eventTime time.Time) *models.Instance {
	templateID := tmpl.TemplateID
	return &models.Instance{
		FromUserID:   tmpl.FromUserID,
		ToUserID:     tmpl.ToUserID,
		Title:        tmpl.Title,
		Description:  tmpl.Description,
		EventTime:    eventTime,
		ReminderType: tmpl.ReminderType,
		TemplateID:   &templateID,
	}
}

// coveredYm is the watermark value for a window ending at end: the month of
// end itself. When validUntil truncates the window this is an earlier month
// than requested, so the watermark reflects the actually covered range.
func coveredYm(end time.Time, loc *time.Location) int {
	end = end.In(loc)
	return Ym(end.Year(), end.Month())
}

func endOfMonth(year int, month time.Month, loc *time.Location) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0).Add(-time.Second)
}
