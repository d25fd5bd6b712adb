package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/models"
	"github.com/hray3182/Cadence/internal/repository"
)

// TemplateStore re-fetches the template at processing time; the event may be
// handled long after issuance.
type TemplateStore interface {
	GetByID(ctx context.Context, templateID int64) (*models.Template, error)
}

// InstanceStore resets the template's instances before re-expansion.
type InstanceStore interface {
	DeleteByTemplate(ctx context.Context, templateID int64) (int64, error)
}

// Expander re-generates instances over the requested window.
type Expander interface {
	Expand(ctx context.Context, tmpl *models.Template, monthsAhead int) ([]*models.Instance, error)
}

// Handler consumes template mutation events. Processing is delete-then-
// regenerate, so redelivery converges: running the same event any number of
// times leaves the same instance set. A returned error nacks the message and
// forces redelivery; permanent conditions (unknown command, missing or
// foreign template) are dropped with an ack instead.
type Handler struct {
	templates TemplateStore
	instances InstanceStore
	expander  Expander
	log       zerolog.Logger

	// dispatch maps command strings to their handlers; built once at
	// construction from the fixed list of known commands.
	dispatch map[string]func(ctx context.Context, ev TemplateChangedEvent) error
}

func NewHandler(templates TemplateStore, instances InstanceStore, expander Expander, log zerolog.Logger) *Handler {
	h := &Handler{
		templates: templates,
		instances: instances,
		expander:  expander,
		log:       log,
	}
	h.dispatch = map[string]func(ctx context.Context, ev TemplateChangedEvent) error{
		CommandUpdateComplexReminder: h.handleUpdate,
	}
	return h
}

// Handle is the Watermill handler func for the template-changed topic.
func (h *Handler) Handle(msg *message.Message) error {
	var ev TemplateChangedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		// Not our schema; the log is shared. Drop.
		h.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("undecodable event dropped")
		return nil
	}
	fn, ok := h.dispatch[ev.Command]
	if !ok {
		h.log.Warn().Str("command", ev.Command).Str("message_id", msg.UUID).Msg("unknown command dropped")
		return nil
	}
	return fn(msg.Context(), ev)
}

func (h *Handler) handleUpdate(ctx context.Context, ev TemplateChangedEvent) error {
	tmpl, err := h.templates.GetByID(ctx, ev.ComplexReminderID)
	if errors.Is(err, repository.ErrNotFound) {
		// Deleted since the event was issued; nothing to regenerate.
		h.log.Debug().Int64("template_id", ev.ComplexReminderID).Msg("template gone, regeneration skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("cadence/stream: fetch template %d: %w", ev.ComplexReminderID, err)
	}

	if tmpl.FromUserID != ev.UserID {
		// Ownership re-check: reject rather than retry, the condition is permanent.
		h.log.Warn().Int64("template_id", tmpl.TemplateID).Int64("user_id", ev.UserID).
			Msg("regeneration rejected, acting user does not own template")
		return nil
	}

	deleted, err := h.instances.DeleteByTemplate(ctx, tmpl.TemplateID)
	if err != nil {
		return fmt.Errorf("cadence/stream: reset instances for template %d: %w", tmpl.TemplateID, err)
	}

	// The watermark restarts with the fresh expansion; timers of deleted
	// instances fire into missing rows and no-op.
	created, err := h.expander.Expand(ctx, tmpl, ev.MonthsAhead)
	if err != nil {
		return fmt.Errorf("cadence/stream: re-expand template %d: %w", tmpl.TemplateID, err)
	}

	h.log.Info().Int64("template_id", tmpl.TemplateID).
		Int64("deleted", deleted).Int("created", len(created)).
		Msg("template regenerated")
	return nil
}
