package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"sitealert/internal/config"
	"sitealert/internal/domain"
	"sitealert/internal/permanent"
)

// headerConfigPrefix marks channel configuration entries copied into request headers.
const headerConfigPrefix = "header."

// WebhookSender posts JSON notification payloads to arbitrary endpoints.
// Message recipient is the endpoint URL.
type WebhookSender struct {
	cfg    config.WebhookNotifier
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates generic webhook sender.
// Params: webhook notifier config.
// Returns: initialized sender.
func NewWebhookSender(cfg config.WebhookNotifier) *WebhookSender {
	return &WebhookSender{cfg: cfg, client: newHTTPClient(cfg.TimeoutSec), now: time.Now}
}

// Channel returns sender channel type.
func (s *WebhookSender) Channel() domain.ChannelType {
	return domain.ChannelWebhook
}

type webhookPayload struct {
	NotificationID string            `json:"notification_id"`
	Subject        string            `json:"subject,omitempty"`
	Body           string            `json:"body"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	SentAt         time.Time         `json:"sent_at"`
}

// Send delivers JSON payload to the recipient endpoint.
// Params: context and rendered message.
// Returns: optional response id or transport error.
func (s *WebhookSender) Send(ctx context.Context, message Message) (SendResult, error) {
	endpoint := strings.TrimSpace(message.Recipient)
	if endpoint == "" {
		return SendResult{}, permanent.WithCode(CodeMissingConfiguration, errors.New("webhook url is required"))
	}

	method := strings.ToUpper(firstNonEmpty(message.Configuration["method"], s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	headers := make(map[string]string, len(s.cfg.Headers))
	for key, value := range s.cfg.Headers {
		headers[key] = value
	}
	for key, value := range message.Configuration {
		if name, ok := strings.CutPrefix(key, headerConfigPrefix); ok && name != "" {
			headers[name] = value
		}
	}

	payload := webhookPayload{
		NotificationID: message.NotificationID,
		Subject:        message.Subject,
		Body:           message.Body,
		Metadata:       message.Metadata,
		SentAt:         s.now().UTC(),
	}
	var response struct {
		ID string `json:"id"`
	}
	if err := doJSON(ctx, s.client, method, endpoint, headers, payload, &response, "webhook"); err != nil {
		return SendResult{}, err
	}
	return SendResult{MessageID: strings.TrimSpace(response.ID)}, nil
}
