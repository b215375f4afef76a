package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	http   *resty.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		http:   newHTTPClient(telegramBaseURL),
	}
}

// Send posts a message to the configured chat. The title is rendered in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("*%s*\n%s", title, message),
			"parse_mode": "Markdown",
		}).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String()))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
