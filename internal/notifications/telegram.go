package notifications

import (
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxMessageLength = 4096
	sendTimeout      = 10 * time.Second
)

type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier authorizes the bot against the Telegram API.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithEndpoint(token, chatID, tgbotapi.APIEndpoint, &http.Client{Timeout: sendTimeout})
}

// NewTelegramNotifierWithEndpoint targets a custom Bot API server. endpoint is a
// format string taking the token and the method, like tgbotapi.APIEndpoint.
func NewTelegramNotifierWithEndpoint(token string, chatID int64, endpoint string, client *http.Client) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{api: bot, chatID: chatID}, nil
}

// BotName is the authorized bot's username.
func (t *TelegramNotifier) BotName() string {
	return t.api.Self.UserName
}

func (t *TelegramNotifier) SendAlert(level Level, message string) error {
	emoji := "ℹ️"
	switch level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelError:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	// plain text: reasons and symbols carry underscores that break Markdown
	text := fmt.Sprintf("%s Risk Alert\n\n%s", emoji, message)
	for _, part := range splitMessage(text, maxMessageLength) {
		if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, part)); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most max bytes on rune boundaries.
func splitMessage(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var parts []string
	for len(text) > max {
		cut := max
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
