package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hray3182/Cadence/internal/models"
	"github.com/hray3182/Cadence/internal/recurrence"
	"github.com/hray3182/Cadence/internal/service"
)

const listLimit = 10

func (b *Bot) handleHelp(msg *tgbotapi.Message) {
	b.send(msg.Chat.ID, strings.Join([]string{
		"⏰ Cadence reminders",
		"",
		"/remind <HH:MM> <message> - one-off reminder today",
		"/every <rule> | <message> - recurring reminder (cron or plain words)",
		"/list - next upcoming reminders",
		"/delete <id> - delete a recurring reminder",
	}, "\n"))
}

func (b *Bot) handleRemind(ctx context.Context, msg *tgbotapi.Message) {
	parts := strings.SplitN(strings.TrimSpace(msg.CommandArguments()), " ", 2)
	if len(parts) < 2 {
		b.send(msg.Chat.ID, "Usage: /remind <HH:MM> <message>\nExample: /remind 15:30 standup")
		return
	}

	remindAt, err := parseTimeToday(parts[0], b.loc)
	if err != nil {
		b.send(msg.Chat.ID, "Time must be HH:MM (for example 15:30)")
		return
	}
	inst := &models.Instance{
		FromUserID:   msg.From.ID,
		ToUserID:     msg.From.ID,
		Title:        parts[1],
		EventTime:    remindAt,
		ReminderType: "telegram",
	}
	if err := b.reminders.CreateInstance(ctx, inst); err != nil {
		b.log.Error().Err(err).Msg("create instance failed")
		b.send(msg.Chat.ID, "Could not create the reminder, please try again later")
		return
	}
	b.send(msg.Chat.ID, fmt.Sprintf("⏰ Reminder set for %s", remindAt.Format("2006-01-02 15:04")))
}

func (b *Bot) handleEvery(ctx context.Context, msg *tgbotapi.Message) {
	parts := strings.SplitN(msg.CommandArguments(), "|", 2)
	if len(parts) < 2 {
		b.send(msg.Chat.ID, "Usage: /every <rule> | <message>\nExample: /every 0 9 * * 1 | weekly report")
		return
	}
	rule := strings.TrimSpace(parts[0])
	title := strings.TrimSpace(parts[1])

	if err := recurrence.Validate(rule); err != nil {
		// Not a cron or RRULE; maybe plain words the assistant can translate.
		if b.ai == nil {
			b.send(msg.Chat.ID, "Rule must be a cron expression like '0 9 * * 1'")
			return
		}
		suggestion, aiErr := b.ai.SuggestRule(ctx, rule, time.Now())
		if aiErr != nil {
			b.log.Debug().Err(aiErr).Str("rule", rule).Msg("rule suggestion failed")
			b.send(msg.Chat.ID, "Could not understand that schedule, try a cron expression")
			return
		}
		rule = suggestion.Cron
	}

	tmpl, created, err := b.reminders.CreateTemplate(ctx, service.CreateTemplateRequest{
		FromUserID:     msg.From.ID,
		ToUserID:       msg.From.ID,
		Title:          title,
		RecurrenceRule: rule,
		ReminderType:   "telegram",
	})
	if err != nil {
		b.log.Error().Err(err).Msg("create template failed")
		b.send(msg.Chat.ID, "Could not create the reminder, please try again later")
		return
	}
	if !created {
		b.send(msg.Chat.ID, fmt.Sprintf("🔄 Already exists as #%d", tmpl.TemplateID))
		return
	}
	b.send(msg.Chat.ID, fmt.Sprintf("🔄 Recurring reminder #%d created (%s)", tmpl.TemplateID, rule))
}

func (b *Bot) handleList(ctx context.Context, msg *tgbotapi.Message) {
	instances, err := b.reminders.ListUpcoming(ctx, msg.From.ID, listLimit)
	if err != nil {
		b.log.Error().Err(err).Msg("list upcoming failed")
		b.send(msg.Chat.ID, "Could not load reminders, please try again later")
		return
	}
	if len(instances) == 0 {
		b.send(msg.Chat.ID, "⏰ No upcoming reminders")
		return
	}

	var sb strings.Builder
	sb.WriteString("⏰ Upcoming reminders\n\n")
	for _, inst := range instances {
		sb.WriteString(fmt.Sprintf("%d. %s at %s\n",
			inst.InstanceID, inst.Title, inst.EventTime.Format("2006-01-02 15:04")))
	}
	b.send(msg.Chat.ID, sb.String())
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) {
	id, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		b.send(msg.Chat.ID, "Usage: /delete <id>")
		return
	}
	if err := b.reminders.DeleteTemplate(ctx, id, msg.From.ID); err != nil {
		b.send(msg.Chat.ID, "Could not delete that reminder")
		return
	}
	b.send(msg.Chat.ID, fmt.Sprintf("🗑 Reminder #%d deleted", id))
}

// parseTimeToday resolves an HH:MM clock time to the next occurrence in the
// home zone: today if still ahead, otherwise tomorrow.
func parseTimeToday(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", s, loc)
	if err != nil {
		return time.Time{}, err
	}
	now := time.Now().In(loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	if at.Before(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}
