package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sitealert/internal/domain"
	"sitealert/internal/events"
)

func sampleAlert(severity domain.Severity) domain.Alert {
	return domain.Alert{
		AlertID:     "alert-1",
		Type:        domain.AlertTypeLowStock,
		Severity:    severity,
		Title:       "Low stock: Oat milk",
		Message:     "stock_level 2 below reorder point 10",
		EntityID:    "sku-42",
		EntityType:  "product",
		TriggeredAt: testStart,
		Status:      domain.AlertStatusActive,
	}
}

func TestNotificationManagerRequiresInitialization(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0, &stubSender{channel: domain.ChannelEmail})
	ctx := context.Background()
	if _, err := env.notifications.SendEmail(ctx, "org-1", domain.SendRequest{Recipient: "a@b.c", Body: "x"}); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("send: expected ErrNotInitialized, got %v", err)
	}
	if _, err := env.notifications.SendForAlert(ctx, "org-1", sampleAlert(domain.SeverityHigh), nil); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("fan-out: expected ErrNotInitialized, got %v", err)
	}
	if _, err := env.notifications.GetChannels(ctx, "org-1"); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("channels: expected ErrNotInitialized, got %v", err)
	}
}

func TestSendRecordsSentNotification(t *testing.T) {
	t.Parallel()

	email := &stubSender{channel: domain.ChannelEmail}
	env := newTestEnv(t, 0, email)
	env.initOrg(t)

	record, err := env.notifications.SendEmail(context.Background(), "org-1", domain.SendRequest{
		Recipient: "ops@example.com",
		Subject:   "Daily digest",
		Body:      "All good",
	})
	if err != nil {
		t.Fatalf("send email: %v", err)
	}
	if record.Status != domain.NotificationSent || record.SentAt == nil {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.ExternalMessageID != "ext-"+record.NotificationID {
		t.Fatalf("unexpected external id %q", record.ExternalMessageID)
	}
	if sent := email.sent(); len(sent) != 1 || sent[0].Recipient != "ops@example.com" {
		t.Fatalf("unexpected transport calls: %+v", sent)
	}
	want := []events.Kind{events.KindNotificationQueued, events.KindNotificationSent}
	if kinds := env.recorder.Kinds(); len(kinds) != 2 || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
}

func TestSendToUnconfiguredChannelFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0)
	env.initOrg(t)

	record, err := env.notifications.SendSMS(context.Background(), "org-1", domain.SendRequest{Recipient: "+15550100", Body: "hi"})
	if err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if record.Status != domain.NotificationFailed || !strings.Contains(record.ErrorMessage, "not configured") {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestRetryStopsAfterBudget(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0, &stubSender{channel: domain.ChannelSMS, fail: true})
	env.initOrg(t)
	ctx := context.Background()

	record, err := env.notifications.SendSMS(ctx, "org-1", domain.SendRequest{Recipient: "+15550100", Body: "hi"})
	if err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if record.Status != domain.NotificationFailed {
		t.Fatalf("expected failed record, got %s", record.Status)
	}

	for attempt := 1; attempt <= domain.MaxRetries; attempt++ {
		retried, err := env.notifications.Retry(ctx, "org-1", record.NotificationID)
		if err != nil {
			t.Fatalf("retry %d: %v", attempt, err)
		}
		if retried.RetryCount != attempt || retried.Status != domain.NotificationFailed {
			t.Fatalf("retry %d: unexpected record %+v", attempt, retried)
		}
	}

	if _, err := env.notifications.Retry(ctx, "org-1", record.NotificationID); !errors.Is(err, domain.ErrRetryBudgetExceeded) {
		t.Fatalf("expected ErrRetryBudgetExceeded, got %v", err)
	}
	stored, err := env.notifications.GetNotification(ctx, "org-1", record.NotificationID)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if stored.RetryCount != domain.MaxRetries {
		t.Fatalf("retry count = %d, want %d", stored.RetryCount, domain.MaxRetries)
	}
	if got := env.recorder.Count(events.KindNotificationRetried); got != domain.MaxRetries {
		t.Fatalf("retried events = %d, want %d", got, domain.MaxRetries)
	}
}

func TestRetryRejectsSentNotification(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0, &stubSender{channel: domain.ChannelPush})
	env.initOrg(t)
	ctx := context.Background()

	record, err := env.notifications.SendPush(ctx, "org-1", domain.SendRequest{Recipient: "12345", Body: "hi"})
	if err != nil {
		t.Fatalf("send push: %v", err)
	}
	if _, err := env.notifications.Retry(ctx, "org-1", record.NotificationID); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := env.notifications.Retry(ctx, "org-1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSendForAlertIsolatesChannelFailures(t *testing.T) {
	t.Parallel()

	email := &stubSender{channel: domain.ChannelEmail}
	sms := &stubSender{channel: domain.ChannelSMS, panics: true}
	slack := &stubSender{channel: domain.ChannelSlack}
	env := newTestEnv(t, 0, email, sms, slack)
	env.initOrg(t)

	channels := []domain.ChannelConfig{
		{ChannelID: "ops-email", Type: domain.ChannelEmail, Target: "ops@example.com", Enabled: true},
		{ChannelID: "ops-sms", Type: domain.ChannelSMS, Target: "+15550100", Enabled: true},
		{ChannelID: "ops-slack", Type: domain.ChannelSlack, Target: "https://hooks.slack.test/x", Enabled: true},
	}
	records, err := env.notifications.SendForAlert(context.Background(), "org-1", sampleAlert(domain.SeverityHigh), channels)
	if err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	statuses := map[domain.ChannelType]domain.NotificationStatus{}
	for _, record := range records {
		statuses[record.Type] = record.Status
		if record.TriggeredByAlertID != "alert-1" {
			t.Fatalf("record not linked to alert: %+v", record)
		}
	}
	if statuses[domain.ChannelEmail] != domain.NotificationSent || statuses[domain.ChannelSlack] != domain.NotificationSent {
		t.Fatalf("healthy channels must succeed: %v", statuses)
	}
	if statuses[domain.ChannelSMS] != domain.NotificationFailed {
		t.Fatalf("panicking channel must fail: %v", statuses)
	}
	if len(email.sent()) != 1 || len(slack.sent()) != 1 {
		t.Fatalf("expected one delivery on each healthy channel")
	}

	linked, err := env.notifications.GetNotificationsForAlert(context.Background(), "org-1", "alert-1")
	if err != nil {
		t.Fatalf("notifications for alert: %v", err)
	}
	if len(linked) != 3 {
		t.Fatalf("linked records = %d, want 3", len(linked))
	}
}

func TestSendForAlertAppliesChannelFilters(t *testing.T) {
	t.Parallel()

	email := &stubSender{channel: domain.ChannelEmail}
	env := newTestEnv(t, 0, email)
	env.initOrg(t)

	channels := []domain.ChannelConfig{
		{ChannelID: "managers", Type: domain.ChannelEmail, Target: "m@example.com", Enabled: true, MinimumSeverity: domain.SeverityHigh},
		{ChannelID: "stock-only", Type: domain.ChannelEmail, Target: "s@example.com", Enabled: true, AlertTypes: []domain.AlertType{domain.AlertTypeOutOfStock}},
		{ChannelID: "muted", Type: domain.ChannelEmail, Target: "x@example.com", Enabled: false},
	}
	records, err := env.notifications.SendForAlert(context.Background(), "org-1", sampleAlert(domain.SeverityMedium), channels)
	if err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	if len(records) != 0 || len(email.sent()) != 0 {
		t.Fatalf("filtered channels must not deliver: records=%d sent=%d", len(records), len(email.sent()))
	}
}

func TestSendForAlertToConfiguredUsesStoredChannels(t *testing.T) {
	t.Parallel()

	webhook := &stubSender{channel: domain.ChannelWebhook}
	env := newTestEnv(t, 0, webhook)
	env.initOrg(t)
	ctx := context.Background()

	channel, err := env.notifications.AddChannel(ctx, "org-1", domain.ChannelConfig{
		ChannelID:     "erp",
		Type:          "WEBHOOK",
		Target:        "https://erp.example.com/hooks/alerts",
		Enabled:       true,
		Configuration: map[string]string{"method": "PUT"},
	})
	if err != nil {
		t.Fatalf("add channel: %v", err)
	}
	if channel.Type != domain.ChannelWebhook {
		t.Fatalf("channel type not normalized: %q", channel.Type)
	}
	if _, err := env.notifications.AddChannel(ctx, "org-1", channel); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	records, err := env.notifications.SendForAlertToConfigured(ctx, "org-1", sampleAlert(domain.SeverityLow))
	if err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	if len(records) != 1 || records[0].Metadata[domain.MetaChannelID] != "erp" {
		t.Fatalf("unexpected records: %+v", records)
	}
	sent := webhook.sent()
	if len(sent) != 1 || sent[0].Configuration["method"] != "PUT" {
		t.Fatalf("channel configuration not passed to transport: %+v", sent)
	}

	if err := env.notifications.SetChannelEnabled(ctx, "org-1", "erp", false); err != nil {
		t.Fatalf("disable channel: %v", err)
	}
	records, err = env.notifications.SendForAlertToConfigured(ctx, "org-1", sampleAlert(domain.SeverityLow))
	if err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("disabled channel must not deliver: %+v", records)
	}

	if err := env.notifications.RemoveChannel(ctx, "org-1", "erp"); err != nil {
		t.Fatalf("remove channel: %v", err)
	}
	if err := env.notifications.RemoveChannel(ctx, "org-1", "erp"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNotificationHistoryIsBounded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 2, &stubSender{channel: domain.ChannelEmail})
	env.initOrg(t)
	ctx := context.Background()

	var ids []string
	for _, subject := range []string{"one", "two", "three"} {
		record, err := env.notifications.SendEmail(ctx, "org-1", domain.SendRequest{Recipient: "a@example.com", Subject: subject, Body: subject})
		if err != nil {
			t.Fatalf("send %s: %v", subject, err)
		}
		ids = append(ids, record.NotificationID)
	}

	history, err := env.notifications.GetNotifications(ctx, "org-1", domain.NotificationFilter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].NotificationID != ids[2] || history[1].NotificationID != ids[1] {
		t.Fatalf("unexpected history: %+v", history)
	}
	if _, err := env.notifications.GetNotification(ctx, "org-1", ids[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("trimmed record must be gone, got %v", err)
	}

	limited, err := env.notifications.GetNotifications(ctx, "org-1", domain.NotificationFilter{Limit: 1, Status: domain.NotificationSent})
	if err != nil {
		t.Fatalf("limited history: %v", err)
	}
	if len(limited) != 1 || limited[0].NotificationID != ids[2] {
		t.Fatalf("unexpected limited history: %+v", limited)
	}
}

func TestRetryReusesOriginalDeliveryConfiguration(t *testing.T) {
	t.Parallel()

	webhook := &stubSender{channel: domain.ChannelWebhook, fail: true}
	env := newTestEnv(t, 0, webhook)
	env.initOrg(t)
	ctx := context.Background()

	configuration := map[string]string{"method": "PUT", "header.Authorization": "Bearer x"}
	record, err := env.notifications.SendWebhook(ctx, "org-1", domain.SendRequest{
		Recipient:     "https://erp.example.com/hooks/alerts",
		Body:          "{}",
		Configuration: configuration,
	})
	if err != nil {
		t.Fatalf("send webhook: %v", err)
	}
	if record.Status != domain.NotificationFailed {
		t.Fatalf("expected failed record, got %s", record.Status)
	}
	configuration["header.Authorization"] = "changed"

	if _, err := env.notifications.Retry(ctx, "org-1", record.NotificationID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	sent := webhook.sent()
	if len(sent) != 2 {
		t.Fatalf("expected original send and one retry, got %d", len(sent))
	}
	for i, message := range sent {
		if message.Configuration["method"] != "PUT" || message.Configuration["header.Authorization"] != "Bearer x" {
			t.Fatalf("attempt %d configuration = %v", i, message.Configuration)
		}
	}
}

func TestOrgsWithSimilarIDsDoNotShareState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0, &stubSender{channel: domain.ChannelEmail})
	ctx := context.Background()

	if err := env.notifications.Initialize(ctx, "acme.eu"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := env.notifications.AddChannel(ctx, "acme.eu", domain.ChannelConfig{
		ChannelID: "secret",
		Type:      domain.ChannelEmail,
		Target:    "cfo@acme.eu",
		Enabled:   true,
	}); err != nil {
		t.Fatalf("add channel: %v", err)
	}
	for _, other := range []string{"acme_eu", "acme eu"} {
		if _, err := env.notifications.GetChannels(ctx, other); !errors.Is(err, domain.ErrNotInitialized) {
			t.Fatalf("org %q: expected ErrNotInitialized, got %v", other, err)
		}
	}
}
