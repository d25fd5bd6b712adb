package notifier

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hray3182/Cadence/internal/models"
)

// Telegram delivers reminder instances as Telegram messages. The target user
// id doubles as the chat id, same convention as direct-message bots.
type Telegram struct {
	api *tgbotapi.BotAPI
}

func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram api: %w", err)
	}
	return &Telegram{api: api}, nil
}

func (t *Telegram) Send(ctx context.Context, inst *models.Instance) error {
	text := "⏰ " + inst.Title
	if inst.Description != "" {
		text += "\n\n" + inst.Description
	}
	msg := tgbotapi.NewMessage(inst.ToUserID, text)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram reminder %d: %w", inst.InstanceID, err)
	}
	return nil
}
