package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sitealert/internal/config"
	"sitealert/internal/permanent"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events into a JetStream stream, one subject per kind.
type NATSPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATSPublisher connects and ensures event stream exists.
// Params: events NATS config.
// Returns: publisher or setup error.
func NewNATSPublisher(cfg config.NATSEventsConfig) (*NATSPublisher, error) {
	nc, js, err := openEventsJetStream(cfg)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns JetStream subject of kind under prefix.
func Subject(prefix string, kind Kind) string {
	return prefix + "." + string(kind)
}

// Publish sends one event with Nats-Msg-Id set for dedupe.
// Params: context and event.
// Returns: publish error.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = BuildEventID(event)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(Subject(p.prefix, event.Kind))
	msg.Data = body
	msg.Header.Set("Nats-Msg-Id", event.ID)
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}
	return nil
}

// Close closes publisher NATS connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}

// NATSSubscriber consumes one event kind through a durable queue consumer.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber starts queue consumer for kind.
// Decode failures and permanent handler errors are acked, other failures are redelivered.
// Params: events config, kind, logger, and handler.
// Returns: running subscriber or setup error.
func NewNATSSubscriber(cfg config.NATSEventsConfig, kind Kind, logger *slog.Logger, handler Handler) (*NATSSubscriber, error) {
	nc, js, err := openEventsJetStream(cfg)
	if err != nil {
		return nil, err
	}

	subscriber := &NATSSubscriber{nc: nc, logger: logger}
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	durable := cfg.ConsumerName + "_" + strings.ReplaceAll(string(kind), ".", "_")
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverNew(),
	}
	subject := Subject(cfg.SubjectPrefix, kind)
	sub, err := js.QueueSubscribe(subject, cfg.DeliverGroup, func(message *nats.Msg) {
		var event Event
		if err := json.Unmarshal(message.Data, &event); err != nil {
			subscriber.warn("event decode failed", message, err)
			subscriber.ack(message)
			return
		}
		if err := handler(context.Background(), event); err != nil {
			if permanent.Is(err) {
				subscriber.warn("event handler failed permanently", message, err)
				subscriber.ack(message)
				return
			}
			subscriber.warn("event handler failed", message, err)
			subscriber.nak(message, nackDelay)
			return
		}
		subscriber.ack(message)
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

func (s *NATSSubscriber) ack(message *nats.Msg) {
	if err := message.Ack(); err != nil {
		s.warn("event ack failed", message, err)
	}
}

func (s *NATSSubscriber) nak(message *nats.Msg, delay time.Duration) {
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.warn("event nack failed", message, err)
	}
}

func (s *NATSSubscriber) warn(msg string, message *nats.Msg, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, "subject", message.Subject, "error", err.Error())
}

// Close drains subscription and closes connection.
func (s *NATSSubscriber) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}

// openEventsJetStream opens connection and ensures the event stream exists.
func openEventsJetStream(cfg config.NATSEventsConfig) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("sitealert-events"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect events nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream init for events: %w", err)
	}
	if err := ensureStream(js, cfg); err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, js, nil
}

// ensureStream creates event stream when absent.
func ensureStream(js nats.JetStreamContext, cfg config.NATSEventsConfig) error {
	if _, err := js.StreamInfo(cfg.Stream); err == nil {
		return nil
	} else if err != nats.ErrStreamNotFound && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", cfg.Stream, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     time.Duration(cfg.MaxAgeHours) * time.Hour,
		Duplicates: time.Duration(cfg.DedupWindowSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", cfg.Stream, err)
	}
	return nil
}
