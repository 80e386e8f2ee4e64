package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"sitealert/internal/config"
	"sitealert/internal/domain"
	"sitealert/internal/permanent"
)

// SlackSender posts messages to Slack incoming webhooks.
// Message recipient is the webhook URL.
type SlackSender struct {
	cfg    config.SlackNotifier
	client *http.Client
}

// NewSlackSender creates Slack webhook sender.
func NewSlackSender(cfg config.SlackNotifier) *SlackSender {
	return &SlackSender{cfg: cfg, client: newHTTPClient(cfg.TimeoutSec)}
}

// Channel returns sender channel type.
func (s *SlackSender) Channel() domain.ChannelType {
	return domain.ChannelSlack
}

type slackPayload struct {
	Text      string `json:"text"`
	Channel   string `json:"channel,omitempty"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// Send posts one message to the recipient webhook.
// Params: context and rendered message.
// Returns: transport or HTTP error; Slack webhooks return no message id.
func (s *SlackSender) Send(ctx context.Context, message Message) (SendResult, error) {
	webhookURL := strings.TrimSpace(message.Recipient)
	if webhookURL == "" {
		return SendResult{}, permanent.WithCode(CodeMissingConfiguration, errors.New("slack webhook url is required"))
	}

	text := strings.TrimSpace(message.Body)
	if subject := strings.TrimSpace(message.Subject); subject != "" {
		text = "*" + subject + "*\n" + text
	}
	payload := slackPayload{
		Text:      text,
		Channel:   strings.TrimSpace(message.Configuration["channel"]),
		Username:  firstNonEmpty(message.Configuration["username"], s.cfg.Username),
		IconEmoji: firstNonEmpty(message.Configuration["icon_emoji"], s.cfg.IconEmoji),
	}
	if err := doJSON(ctx, s.client, http.MethodPost, webhookURL, nil, payload, nil, "slack"); err != nil {
		return SendResult{}, err
	}
	return SendResult{}, nil
}
