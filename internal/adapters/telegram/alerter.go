package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
)

// Sender — часть tgbotapi.BotAPI, нужная для отправки сообщений.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter пишет дежурным в служебный чат о неуспешных запусках.
type Alerter struct {
	bot    Sender
	chatID int64
	log    zerolog.Logger
}

var _ domain.OperatorAlerter = (*Alerter)(nil)

// NewAlerter создаёт бота по токену.
func NewAlerter(token string, chatID int64, logger zerolog.Logger) (*Alerter, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram: token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewAlerterWithSender(bot, chatID, logger), nil
}

// NewAlerterWithSender создаёт алертер поверх готового клиента.
func NewAlerterWithSender(bot Sender, chatID int64, logger zerolog.Logger) *Alerter {
	return &Alerter{bot: bot, chatID: chatID, log: logger}
}

// Alert отправляет текст, при необходимости разбивая его на несколько сообщений.
func (a *Alerter) Alert(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, messageLimit-16) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(a.chatID, "⚠️ <pre>"+html.EscapeString(chunk)+"</pre>")
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true

		start := time.Now()
		_, err := a.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram", "send_alert", "bot_api", start, err)
		if err != nil {
			return fmt.Errorf("telegram: отправка оповещения: %w", err)
		}
	}
	a.log.Debug().Int64("chat_id", a.chatID).Msg("telegram: оповещение отправлено")
	return nil
}
