// Package bot is the Telegram command surface over the reminder engine.
// Commands map one-to-one onto service operations; everything stateful
// lives behind the service.
package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/ai"
	"github.com/hray3182/Cadence/internal/service"
)

type Bot struct {
	api       *tgbotapi.BotAPI
	reminders *service.Reminders
	ai        *ai.Client
	// loc is the home zone; user-entered clock times resolve in it.
	loc *time.Location
	log zerolog.Logger
}

func New(token string, reminders *service.Reminders, aiClient *ai.Client, loc *time.Location, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Bot{api: api, reminders: reminders, ai: aiClient, loc: loc, log: log}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.log.Info().Str("account", b.api.Self.UserName).Msg("bot authorized")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			go b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		b.handleHelp(msg)
	case "remind":
		b.handleRemind(ctx, msg)
	case "every":
		b.handleEvery(ctx, msg)
	case "list":
		b.handleList(ctx, msg)
	case "delete":
		b.handleDelete(ctx, msg)
	}
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}
