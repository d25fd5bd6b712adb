package models

import "time"

// Template is a recurring reminder definition. Expansion turns it into
// concrete Instance rows, one per fire time.
type Template struct {
	TemplateID      int64      `json:"template_id"`
	FromUserID      int64      `json:"from_user_id"`
	ToUserID        int64      `json:"to_user_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	RecurrenceRule  string     `json:"recurrence_rule"` // cron expression or RFC 5545 RRULE
	ReminderType    string     `json:"reminder_type"`
	ValidFrom       *time.Time `json:"valid_from"`
	ValidUntil      *time.Time `json:"valid_until"`
	MaxExecutions   *int       `json:"max_executions"`
	LastGeneratedYm *int       `json:"last_generated_ym"` // YYYYMM, nil means never generated
	IdempotencyKey  string     `json:"idempotency_key"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Covered reports whether instances are already guaranteed to exist through
// the given YYYYMM month.
func (t *Template) Covered(ym int) bool {
	return t.LastGeneratedYm != nil && *t.LastGeneratedYm >= ym
}

// WindowStart returns the later of now and the template's valid-from bound.
func (t *Template) WindowStart(now time.Time) time.Time {
	if t.ValidFrom != nil && t.ValidFrom.After(now) {
		return *t.ValidFrom
	}
	return now
}

// WindowEnd returns the earlier of end and the template's valid-until bound.
func (t *Template) WindowEnd(end time.Time) time.Time {
	if t.ValidUntil != nil && t.ValidUntil.Before(end) {
		return *t.ValidUntil
	}
	return end
}
