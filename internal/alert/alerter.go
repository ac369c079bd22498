package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emperorhan/wallet-sentinel/internal/metrics"
)

// AlertType categorizes the kind of alert.
type AlertType string

const (
	AlertTypeRPCWarning         AlertType = "RPC_WARNING"
	AlertTypeRPCQuarantined     AlertType = "RPC_QUARANTINED"
	AlertTypeTargetsUnmonitored AlertType = "TARGETS_UNMONITORED"
	AlertTypeEndpointsExhausted AlertType = "ENDPOINTS_EXHAUSTED"
	AlertTypeFundsReceived      AlertType = "FUNDS_RECEIVED"
	AlertTypeTransferOK         AlertType = "TRANSFER_OK"
	AlertTypeTransferFailed     AlertType = "TRANSFER_FAILED"
	AlertTypeAmountTooSmall     AlertType = "AMOUNT_TOO_SMALL"
	AlertTypeMonitoring         AlertType = "MONITORING"
)

// Per-event alerts that must reach the operator every time. RPC warnings are
// already spaced by the router's error window.
var bypassCooldown = map[AlertType]bool{
	AlertTypeRPCWarning:         true,
	AlertTypeRPCQuarantined:     true,
	AlertTypeTargetsUnmonitored: true,
	AlertTypeFundsReceived:      true,
	AlertTypeTransferOK:         true,
	AlertTypeTransferFailed:     true,
	AlertTypeMonitoring:         true,
}

// Alert represents a single alert event.
type Alert struct {
	ID      string
	Type    AlertType
	Subject string // endpoint name or wallet address the alert is about
	Title   string
	Message string
	Fields  map[string]string
}

// Alerter is the interface for sending alerts.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// MultiAlerter fans out alerts to multiple channels.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewMultiAlerter creates a new multi-channel alerter with cooldown.
func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Channels returns the names of the configured channels.
func (m *MultiAlerter) Channels() []string {
	names := make([]string, 0, len(m.alerters))
	for _, a := range m.alerters {
		names = append(names, alerterName(a))
	}
	return names
}

// cooldownKey generates a dedup key for cooldown tracking.
func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s:%s", a.Type, a.Subject)
}

// Send dispatches alert to all channels, respecting cooldown.
func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	if !bypassCooldown[alert.Type] && m.cooldown > 0 {
		key := cooldownKey(alert)

		m.mu.Lock()
		now := m.now()
		if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
			m.mu.Unlock()
			m.logger.Debug("alert suppressed by cooldown", "key", key)
			for _, a := range m.alerters {
				metrics.AlertsCooldownSkipped.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
			}
			return nil
		}
		m.lastSent[key] = now
		m.mu.Unlock()
	}

	var firstErr error
	for _, a := range m.alerters {
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("alert send failed",
				"channel", alerterName(a),
				"type", alert.Type,
				"alert_id", alert.ID,
				"error", err,
			)
			metrics.AlertsFailedTotal.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
			if firstErr == nil {
				firstErr = err
			}
		} else {
			metrics.AlertsSentTotal.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
		}
	}
	return firstErr
}

func alerterName(a Alerter) string {
	switch a.(type) {
	case *SlackAlerter:
		return "slack"
	case *WebhookAlerter:
		return "webhook"
	case *TelegramAlerter:
		return "telegram"
	case *NoopAlerter:
		return "noop"
	default:
		return "unknown"
	}
}

// sortedFields renders fields in stable key order.
func sortedFields(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s alert: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
	}
	return nil
}

// SlackAlerter sends alerts to a Slack webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

// NewSlackAlerter creates a Slack alerter with the given webhook URL.
func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func slackEmoji(t AlertType) string {
	switch t {
	case AlertTypeRPCQuarantined, AlertTypeTargetsUnmonitored, AlertTypeEndpointsExhausted:
		return ":rotating_light:"
	case AlertTypeFundsReceived:
		return ":moneybag:"
	case AlertTypeTransferOK:
		return ":white_check_mark:"
	case AlertTypeTransferFailed:
		return ":x:"
	case AlertTypeMonitoring:
		return ":information_source:"
	default:
		return ":warning:"
	}
}

// Send sends an alert to Slack.
func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("%s *[%s]* %s: %s\n%s",
		slackEmoji(alert.Type), alert.Type, alert.Subject, alert.Title, alert.Message)

	if len(alert.Fields) > 0 {
		text += "\n"
		for _, k := range sortedFields(alert.Fields) {
			text += fmt.Sprintf("- *%s*: %s\n", k, alert.Fields[k])
		}
	}

	return postJSON(ctx, s.client, s.webhookURL, map[string]string{"text": text}, "slack")
}

// WebhookAlerter sends alerts to a generic HTTP webhook.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

// NewWebhookAlerter creates a generic webhook alerter.
func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send sends an alert to the webhook endpoint.
func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload := map[string]any{
		"id":      alert.ID,
		"type":    string(alert.Type),
		"subject": alert.Subject,
		"title":   alert.Title,
		"message": alert.Message,
		"fields":  alert.Fields,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, w.client, w.url, payload, "webhook")
}

// NoopAlerter does nothing. Used when no alert channels are configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
