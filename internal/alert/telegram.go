package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramAlerter posts alerts to a chat through the Bot API sendMessage call.
type TelegramAlerter struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramAlerter creates a Telegram alerter for one chat.
func NewTelegramAlerter(token, chatID string) *TelegramAlerter {
	return &TelegramAlerter{
		apiBase: defaultTelegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithAPIBase points the alerter at a different Bot API host.
func (t *TelegramAlerter) WithAPIBase(base string) *TelegramAlerter {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

// Send sends an alert as a plain-text message.
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", alert.Type, alert.Title)
	if alert.Message != "" {
		b.WriteString("\n")
		b.WriteString(alert.Message)
	}
	for _, k := range sortedFields(alert.Fields) {
		fmt.Fprintf(&b, "\n%s: %s", k, alert.Fields[k])
	}

	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     b.String(),
		"disable_web_page_preview": true,
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	if err := postJSON(ctx, t.client, url, payload, "telegram"); err != nil {
		// The token is part of the URL; keep it out of error strings.
		return errors.New(strings.ReplaceAll(err.Error(), t.token, "***"))
	}
	return nil
}
