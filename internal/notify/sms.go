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

// SMSSender posts text messages to an HTTP SMS gateway.
type SMSSender struct {
	cfg    config.SMSNotifier
	client *http.Client
}

// NewSMSSender creates SMS gateway sender.
// Params: SMS notifier config.
// Returns: initialized sender.
func NewSMSSender(cfg config.SMSNotifier) *SMSSender {
	return &SMSSender{cfg: cfg, client: newHTTPClient(cfg.TimeoutSec)}
}

// Channel returns sender channel type.
func (s *SMSSender) Channel() domain.ChannelType {
	return domain.ChannelSMS
}

// Send posts one message to the gateway.
// Params: context and rendered message; recipient is the phone number.
// Returns: gateway message id or transport error.
func (s *SMSSender) Send(ctx context.Context, message Message) (SendResult, error) {
	endpoint := strings.TrimSpace(s.cfg.URL)
	if endpoint == "" {
		return SendResult{}, permanent.WithCode(CodeMissingConfiguration, errors.New("sms gateway url is required"))
	}
	to := strings.TrimSpace(message.Recipient)
	if to == "" {
		return SendResult{}, permanent.WithCode(CodeInvalidRecipient, errors.New("sms recipient is required"))
	}

	text := strings.TrimSpace(message.Body)
	if subject := strings.TrimSpace(message.Subject); subject != "" {
		text = subject + ": " + text
	}
	payload := struct {
		To   string `json:"to"`
		From string `json:"from,omitempty"`
		Body string `json:"body"`
	}{
		To:   to,
		From: firstNonEmpty(message.Configuration["from"], s.cfg.From),
		Body: text,
	}
	headers := map[string]string{}
	if apiKey := strings.TrimSpace(s.cfg.APIKey); apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}

	var response struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
		SID       string `json:"sid"`
	}
	if err := doJSON(ctx, s.client, http.MethodPost, endpoint, headers, payload, &response, "sms"); err != nil {
		return SendResult{}, err
	}
	return SendResult{MessageID: firstNonEmpty(response.MessageID, response.ID, response.SID)}, nil
}
