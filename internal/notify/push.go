package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"sitealert/internal/config"
	"sitealert/internal/domain"
	"sitealert/internal/permanent"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// PushSender delivers push notifications through a Telegram bot.
// Message recipient is the target chat id.
type PushSender struct {
	client  *tgbot.Bot
	timeout time.Duration
	html    bool
	initErr error
}

// NewPushSender creates Telegram-backed push sender.
// Params: push notifier config.
// Returns: initialized sender; config errors surface on Send.
func NewPushSender(cfg config.PushNotifier) *PushSender {
	sender := &PushSender{
		timeout: defaultHTTPTimeout,
		html:    !strings.EqualFold(strings.TrimSpace(cfg.ParseMode), "text"),
	}
	if cfg.TimeoutSec > 0 {
		sender.timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = permanent.WithCode(CodeMissingConfiguration, errors.New("push bot token is required"))
		return sender
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if apiBase := strings.TrimSpace(cfg.APIBase); apiBase != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(apiBase, "/")))
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sender.initErr = permanent.WithCode(CodeMissingConfiguration, fmt.Errorf("init push bot: %w", err))
		return sender
	}
	sender.client = botClient
	return sender
}

// Channel returns sender channel type.
func (s *PushSender) Channel() domain.ChannelType {
	return domain.ChannelPush
}

// Send posts one message to the recipient chat.
// Params: context and rendered message.
// Returns: Telegram message id or transport error.
func (s *PushSender) Send(ctx context.Context, message Message) (SendResult, error) {
	if s.initErr != nil {
		return SendResult{}, s.initErr
	}
	if s.client == nil {
		return SendResult{}, errors.New("push client is not initialized")
	}
	chatID := normalizeChatID(message.Recipient)
	if chatID == "" {
		return SendResult{}, permanent.WithCode(CodeInvalidRecipient, errors.New("push recipient chat id is required"))
	}

	request := &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   s.formatText(message),
	}
	if s.html {
		request.ParseMode = tgmodels.ParseModeHTML
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sent, err := s.client.SendMessage(sendCtx, request)
	if err != nil {
		return SendResult{}, fmt.Errorf("push send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return SendResult{}, errors.New("push send returned empty message id")
	}
	return SendResult{MessageID: strconv.Itoa(sent.ID)}, nil
}

func (s *PushSender) formatText(message Message) string {
	subject := strings.TrimSpace(message.Subject)
	body := strings.TrimSpace(message.Body)
	if s.html {
		subject = html.EscapeString(subject)
		body = html.EscapeString(body)
		if subject != "" {
			subject = "<b>" + subject + "</b>"
		}
	}
	switch {
	case subject == "":
		return body
	case body == "":
		return subject
	default:
		return subject + "\n\n" + body
	}
}

// normalizeChatID converts numeric chat IDs to int64 and keeps usernames as string.
// Params: recipient value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
