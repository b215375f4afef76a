package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	http       *resty.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		http:       newHTTPClient(""),
	}
}

// Send posts a message to the webhook with the title in bold.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	resp, err := d.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"content": fmt.Sprintf("**%s**\n%s", title, message),
		}).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	// 204 No Content on success.
	if resp.IsError() {
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String()))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
