// Package notify delivers operator alerts to a fixed Telegram chat.
// It carries the escalation path for registrations that were created
// but could not be linked to their warranty code, and backs the
// ERROR-level slog fan-out.
package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"warreg/internal/config"
	"warreg/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

type Telegram struct {
	api    *tgbotapi.Bot
	chatId int64
	log    *slog.Logger
}

func NewTelegram(conf *config.Config, log *slog.Logger) (*Telegram, error) {
	if !conf.Telegram.Enabled {
		return nil, nil
	}
	api, err := tgbotapi.NewBot(conf.Telegram.ApiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	return &Telegram{
		api:    api,
		chatId: conf.Telegram.ChatId,
		log:    log.With(sl.Module("notify")),
	}, nil
}

// Alert sends a reconciliation message to the ops chat. Errors are
// logged and swallowed: alerting must never fail the caller.
func (t *Telegram) Alert(message string) {
	t.Send("*warreg alert*\n" + Sanitize(message))
}

// Send delivers pre-formatted MarkdownV2 text. Callers own the markup;
// on rejection the text is retried without parse mode, the content
// matters more than formatting.
func (t *Telegram) Send(text string) {
	_, err := t.api.SendMessage(t.chatId, text, &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		_, err = t.api.SendMessage(t.chatId, text, &tgbotapi.SendMessageOpts{})
	}
	if err != nil {
		t.log.With(slog.Int64("chat_id", t.chatId)).Error("sending alert", sl.Err(err))
	}
}

func Sanitize(input string) string {
	reservedChars := "\\_{}#+-.!|()[]=*"
	sanitized := ""
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sanitized += "\\" + string(char)
		} else {
			sanitized += string(char)
		}
	}
	return sanitized
}
