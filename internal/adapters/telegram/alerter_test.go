package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func TestAlertEscapesAndSplits(t *testing.T) {
	sender := &fakeSender{}
	alerter := NewAlerterWithSender(sender, 42, zerolog.Nop())

	text := "digest run failed <b>\n" + strings.Repeat("e", 5000)
	if err := alerter.Alert(context.Background(), text); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(sender.sent) != 3 {
		t.Fatalf("ожидали 3 сообщения, получили %d", len(sender.sent))
	}
	first := sender.sent[0]
	if first.ChatID != 42 || first.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("неожиданные параметры сообщения: %+v", first)
	}
	if !strings.Contains(first.Text, "&lt;b&gt;") {
		t.Fatalf("текст должен экранироваться: %q", first.Text)
	}
}

func TestAlertReturnsSendError(t *testing.T) {
	alerter := NewAlerterWithSender(&fakeSender{err: errors.New("forbidden")}, 1, zerolog.Nop())
	if err := alerter.Alert(context.Background(), "boom"); err == nil {
		t.Fatalf("ожидали ошибку отправки")
	}
}

func TestNewAlerterValidatesInput(t *testing.T) {
	if _, err := NewAlerter("", 1, zerolog.Nop()); err == nil {
		t.Fatalf("ожидали ошибку без токена")
	}
}
