package notify

import (
	"fmt"

	"chart_feed/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Telegram — пассивный нотифайер сервисных алертов (падение стрима и т.п.).
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Send(msg string) {
	m := tgbot.NewMessage(t.chatID, msg)
	if _, err := t.bot.Send(m); err != nil {
		logger.Error("telegram send: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) {
	t.Send(fmt.Sprintf(format, args...))
}

// Stdout — фолбэк, когда телеграм не настроен.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Send(msg string) { logger.Info("%s", msg) }

func (s *Stdout) Sendf(format string, args ...any) { logger.Info(format, args...) }
