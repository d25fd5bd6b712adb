package models

import "time"

// Instance is a single concretely-timed reminder. It is either generated
// from a Template or created standalone by a user; EventTime is the sole
// fire trigger.
type Instance struct {
	InstanceID   int64      `json:"instance_id"`
	FromUserID   int64      `json:"from_user_id"`
	ToUserID     int64      `json:"to_user_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	EventTime    time.Time  `json:"event_time"`
	ReminderType string     `json:"reminder_type"`
	TemplateID   *int64     `json:"template_id"` // nil for one-off instances
	NotifiedAt   *time.Time `json:"notified_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FromTemplate reports whether this instance was generated by expansion.
func (i *Instance) FromTemplate() bool {
	return i.TemplateID != nil
}
