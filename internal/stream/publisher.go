package stream

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Publisher emits template mutation events. The template id rides along as
// the partition key so per-template ordering holds across consumers.
type Publisher struct {
	pub message.Publisher
}

func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// PublishTemplateChanged enqueues a full regeneration of the template over
// the given lookahead window.
func (p *Publisher) PublishTemplateChanged(templateID int64, monthsAhead int, userID int64) error {
	if p == nil || p.pub == nil {
		return nil
	}
	payload, err := json.Marshal(TemplateChangedEvent{
		Command:           CommandUpdateComplexReminder,
		ComplexReminderID: templateID,
		MonthsAhead:       monthsAhead,
		UserID:            userID,
	})
	if err != nil {
		return fmt.Errorf("cadence/stream: marshal event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(PartitionKeyMetadata, strconv.FormatInt(templateID, 10))
	if err := p.pub.Publish(TopicTemplateChanged, msg); err != nil {
		return fmt.Errorf("cadence/stream: publish template changed: %w", err)
	}
	return nil
}
