// Package stream is the asynchronous regeneration pipeline: template
// mutation events go onto a durable partitioned log and are consumed with
// at-least-once, ordered-per-template semantics.
package stream

// TopicTemplateChanged is the log topic carrying template mutation commands.
const TopicTemplateChanged = "reminders.template-changed"

// PartitionKeyMetadata names the message metadata field used as the
// partition key. Events for one template always land on one partition, so a
// stale update cannot race ahead of a newer one.
const PartitionKeyMetadata = "partition_key"

// Commands understood by the pipeline. The log is shared infrastructure;
// unknown commands are dropped, not errored.
const (
	CommandUpdateComplexReminder = "UPDATE_COMPLEX_REMINDER"
)

// TemplateChangedEvent is the wire envelope for regeneration commands.
type TemplateChangedEvent struct {
	Command           string `json:"command"`
	ComplexReminderID int64  `json:"complexReminderId"`
	MonthsAhead       int    `json:"monthsAhead"`
	UserID            int64  `json:"userId"`
}
