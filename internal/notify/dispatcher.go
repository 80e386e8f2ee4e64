package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"sitealert/internal/config"
	"sitealert/internal/domain"
	"sitealert/internal/metrics"
	"sitealert/internal/permanent"

	"golang.org/x/time/rate"
)

// Error codes reported on failed outcomes.
const (
	CodeNotConfigured = "channel_not_configured"
	CodeRateLimited   = "rate_limited"
	CodeSendFailed    = "send_failed"
	CodePanic         = "sender_panic"

	CodeMissingConfiguration = "missing_configuration"
	CodeInvalidRecipient     = "invalid_recipient"
	CodeProviderRejected     = "provider_rejected"
	CodePermanent            = "permanent_failure"
)

// Message is one rendered outbound notification for a channel sender.
type Message struct {
	NotificationID string
	Channel        domain.ChannelType
	Recipient      string
	Subject        string
	Body           string
	Configuration  map[string]string
	Metadata       map[string]string
}

// SendResult carries sender metadata after successful delivery.
type SendResult struct {
	MessageID string
}

// ChannelSender sends one outbound message over one channel type.
type ChannelSender interface {
	Channel() domain.ChannelType
	Send(ctx context.Context, message Message) (SendResult, error)
}

// Outcome is dispatch result recorded on a notification.
// Delivery failures are data here, never returned as errors.
type Outcome struct {
	Success      bool
	MessageID    string
	ErrorMessage string
	ErrorCode    string
}

// Dispatcher routes messages to channel senders with per-channel retry and rate limits.
type Dispatcher struct {
	senders  map[domain.ChannelType]ChannelSender
	retries  map[domain.ChannelType]config.NotifyRetry
	limiters map[domain.ChannelType]*rate.Limiter
	logger   *slog.Logger
}

// NewDispatcher builds dispatcher from enabled channel sections.
// Params: notify config and optional logger.
// Returns: configured dispatcher.
func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger) *Dispatcher {
	dispatcher := &Dispatcher{
		senders:  make(map[domain.ChannelType]ChannelSender),
		retries:  make(map[domain.ChannelType]config.NotifyRetry),
		limiters: make(map[domain.ChannelType]*rate.Limiter),
		logger:   logger,
	}
	for _, channel := range []domain.ChannelType{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush, domain.ChannelSlack, domain.ChannelWebhook} {
		common, ok := channelSettings(cfg, channel)
		if !ok || !common.Enabled {
			continue
		}
		dispatcher.Register(newSenderForChannel(channel, cfg), common)
	}
	return dispatcher
}

// NewDispatcherWithSenders builds dispatcher around explicit senders without retry or rate limits.
func NewDispatcherWithSenders(logger *slog.Logger, senders ...ChannelSender) *Dispatcher {
	dispatcher := &Dispatcher{
		senders:  make(map[domain.ChannelType]ChannelSender),
		retries:  make(map[domain.ChannelType]config.NotifyRetry),
		limiters: make(map[domain.ChannelType]*rate.Limiter),
		logger:   logger,
	}
	for _, sender := range senders {
		dispatcher.Register(sender, config.NotifyChannelCommon{})
	}
	return dispatcher
}

// Register installs or replaces sender for its channel type.
// Params: sender and channel section carrying retry policy and rate limit.
// Returns: none.
func (d *Dispatcher) Register(sender ChannelSender, common config.NotifyChannelCommon) {
	if sender == nil {
		return
	}
	channel := sender.Channel()
	d.senders[channel] = sender
	d.retries[channel] = common.Retry
	if common.RatePerSec > 0 {
		burst := common.RateBurst
		if burst < 1 {
			burst = 1
		}
		d.limiters[channel] = rate.NewLimiter(rate.Limit(common.RatePerSec), burst)
	} else {
		delete(d.limiters, channel)
	}
}

// Channels returns configured channel types in sorted order.
func (d *Dispatcher) Channels() []domain.ChannelType {
	channels := make([]domain.ChannelType, 0, len(d.senders))
	for channel := range d.senders {
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// Deliver sends message through its channel sender.
// Params: context and rendered message.
// Returns: outcome; transport errors and sender panics become failed outcomes.
func (d *Dispatcher) Deliver(ctx context.Context, message Message) (outcome Outcome) {
	channel := message.Channel
	started := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			if d.logger != nil {
				d.logger.Error("notify sender panicked", "channel", channel, "notification_id", message.NotificationID, "panic", recovered)
			}
			outcome = Outcome{ErrorMessage: fmt.Sprintf("sender panic: %v", recovered), ErrorCode: CodePanic}
		}
		metrics.ObserveSend(string(channel), outcome.Success, time.Since(started))
	}()

	sender, ok := d.senders[channel]
	if !ok {
		return Outcome{ErrorMessage: fmt.Sprintf("notify channel %q is not configured", channel), ErrorCode: CodeNotConfigured}
	}
	if limiter := d.limiters[channel]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return Outcome{ErrorMessage: fmt.Sprintf("rate limit wait: %v", err), ErrorCode: CodeRateLimited}
		}
	}

	result, err := d.sendWithRetry(ctx, sender, message, d.retries[channel])
	if err != nil {
		return Outcome{ErrorMessage: err.Error(), ErrorCode: failureCode(err)}
	}
	return Outcome{Success: true, MessageID: result.MessageID}
}

// failureCode picks the outcome code for a transport error.
func failureCode(err error) string {
	if code := permanent.Code(err); code != "" {
		return code
	}
	if permanent.Is(err) {
		return CodePermanent
	}
	return CodeSendFailed
}

// sendWithRetry sends one message with channel-specific transport retry policy.
// Params: sender, message, and retry policy for the sender channel.
// Returns: channel metadata and final error after retries.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender ChannelSender, message Message, retry config.NotifyRetry) (SendResult, error) {
	if !retry.Enabled {
		return sender.Send(ctx, message)
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer stopTimer(timer)

	for {
		attempt++
		result, err := sender.Send(ctx, message)
		if err == nil {
			if retry.LogEachAttempt && attempt > 1 && d.logger != nil {
				d.logger.Info("notify send recovered after retries", "channel", sender.Channel(), "attempt", attempt)
			}
			return result, nil
		}
		if retry.LogEachAttempt && d.logger != nil {
			d.logger.Warn("notify send attempt failed", "channel", sender.Channel(), "attempt", attempt, "error", err.Error())
		}
		if permanent.Is(err) {
			return SendResult{}, err
		}
		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			return SendResult{}, fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), attempt, err)
		}

		metrics.NotificationRetries.WithLabelValues(string(sender.Channel())).Inc()
		timer.Reset(backoff)
		select {
		case <-ctx.Done():
			return SendResult{}, errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if maxBackoff > 0 && backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// channelSettings returns common settings of one channel section.
func channelSettings(cfg config.NotifyConfig, channel domain.ChannelType) (config.NotifyChannelCommon, bool) {
	switch channel {
	case domain.ChannelEmail:
		return cfg.Email.NotifyChannelCommon, true
	case domain.ChannelSMS:
		return cfg.SMS.NotifyChannelCommon, true
	case domain.ChannelPush:
		return cfg.Push.NotifyChannelCommon, true
	case domain.ChannelSlack:
		return cfg.Slack.NotifyChannelCommon, true
	case domain.ChannelWebhook:
		return cfg.Webhook.NotifyChannelCommon, true
	default:
		return config.NotifyChannelCommon{}, false
	}
}

// newSenderForChannel builds transport sender for one channel type.
func newSenderForChannel(channel domain.ChannelType, cfg config.NotifyConfig) ChannelSender {
	switch channel {
	case domain.ChannelEmail:
		return NewEmailSender(cfg.Email)
	case domain.ChannelSMS:
		return NewSMSSender(cfg.SMS)
	case domain.ChannelPush:
		return NewPushSender(cfg.Push)
	case domain.ChannelSlack:
		return NewSlackSender(cfg.Slack)
	case domain.ChannelWebhook:
		return NewWebhookSender(cfg.Webhook)
	default:
		return nil
	}
}
