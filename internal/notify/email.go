package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"sitealert/internal/config"
	"sitealert/internal/domain"
	"sitealert/internal/permanent"

	"github.com/google/uuid"
)

// EmailSender delivers plain-text mail over SMTP.
// Message recipient is one or more comma-separated addresses.
type EmailSender struct {
	cfg     config.EmailNotifier
	timeout time.Duration
	now     func() time.Time
}

// NewEmailSender creates SMTP sender.
// Params: email notifier config.
// Returns: initialized sender.
func NewEmailSender(cfg config.EmailNotifier) *EmailSender {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return &EmailSender{cfg: cfg, timeout: timeout, now: time.Now}
}

// Channel returns sender channel type.
func (s *EmailSender) Channel() domain.ChannelType {
	return domain.ChannelEmail
}

// Send delivers one message through the configured SMTP relay.
// Params: context and rendered message.
// Returns: generated Message-ID header or SMTP error.
func (s *EmailSender) Send(ctx context.Context, message Message) (SendResult, error) {
	if strings.TrimSpace(s.cfg.Host) == "" {
		return SendResult{}, permanent.WithCode(CodeMissingConfiguration, errors.New("smtp host is required"))
	}
	from, err := mail.ParseAddress(firstNonEmpty(message.Configuration["from"], s.cfg.From))
	if err != nil {
		return SendResult{}, permanent.WithCode(CodeMissingConfiguration, fmt.Errorf("parse email sender: %w", err))
	}
	recipients, err := mail.ParseAddressList(message.Recipient)
	if err != nil {
		return SendResult{}, permanent.WithCode(CodeInvalidRecipient, fmt.Errorf("parse email recipient: %w", err))
	}

	host := strings.TrimSpace(s.cfg.Host)
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
	body := buildMailMessage(from, recipients, message.Subject, message.Body, messageID, s.now())

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	client, err := s.dial(ctx, host)
	if err != nil {
		return SendResult{}, fmt.Errorf("connect smtp: %w", err)
	}
	defer client.Close()

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
		if err := client.Auth(auth); err != nil {
			return SendResult{}, permanent.WithCode(CodeProviderRejected, fmt.Errorf("smtp auth: %w", err))
		}
	}
	if err := client.Mail(from.Address); err != nil {
		return SendResult{}, fmt.Errorf("smtp mail from: %w", err)
	}
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient.Address); err != nil {
			return SendResult{}, fmt.Errorf("smtp rcpt %s: %w", recipient.Address, err)
		}
	}
	writer, err := client.Data()
	if err != nil {
		return SendResult{}, fmt.Errorf("smtp data: %w", err)
	}
	if _, err := writer.Write(body); err != nil {
		return SendResult{}, fmt.Errorf("smtp write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return SendResult{}, fmt.Errorf("smtp close data: %w", err)
	}
	if err := client.Quit(); err != nil {
		return SendResult{}, fmt.Errorf("smtp quit: %w", err)
	}
	return SendResult{MessageID: messageID}, nil
}

// dial opens SMTP session using implicit TLS on 465 and opportunistic STARTTLS otherwise.
func (s *EmailSender) dial(ctx context.Context, host string) (*smtp.Client, error) {
	port := s.cfg.Port
	if port <= 0 {
		port = 587
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if port == 465 {
		dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if port != 465 && !s.cfg.DisableStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}
	return client, nil
}

// buildMailMessage renders RFC 5322 plain-text message.
func buildMailMessage(from *mail.Address, to []*mail.Address, subject, body, messageID string, at time.Time) []byte {
	addresses := make([]string, 0, len(to))
	for _, address := range to {
		addresses = append(addresses, address.String())
	}

	var builder strings.Builder
	builder.WriteString("From: " + from.String() + "\r\n")
	builder.WriteString("To: " + strings.Join(addresses, ", ") + "\r\n")
	builder.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	builder.WriteString("Message-ID: " + messageID + "\r\n")
	builder.WriteString("Date: " + at.UTC().Format(time.RFC1123Z) + "\r\n")
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	builder.WriteString("\r\n")
	return []byte(builder.String())
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(strings.TrimSpace(value))
}
