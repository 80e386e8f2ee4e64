package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// validateConfig validates full runtime configuration.
// Params: cfg snapshot after defaults.
// Returns: first failing check.
func validateConfig(cfg Config) error {
	switch cfg.Service.Mode {
	case ServiceModeSingle, ServiceModeNATS:
	default:
		return fmt.Errorf("service.mode has unsupported value %q", cfg.Service.Mode)
	}
	switch cfg.Service.Store {
	case StoreMemory, StoreSQLite:
	case StoreNATS:
		if cfg.Service.Mode == ServiceModeSingle {
			return errors.New("service.store = \"nats\" requires service.mode = \"nats\"")
		}
	default:
		return fmt.Errorf("service.store has unsupported value %q", cfg.Service.Store)
	}
	if cfg.Service.Mode == ServiceModeSingle && cfg.Ingest.NATS.Enabled {
		return errors.New("ingest.nats requires service.mode = \"nats\"")
	}

	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if err := validateHTTPIngest(cfg.Ingest.HTTP); err != nil {
		return err
	}

	for i, raw := range cfg.NATS.URL {
		if raw == "" {
			return fmt.Errorf("nats.url[%d] is empty", i)
		}
	}
	if cfg.Ingest.NATS.Enabled && cfg.Ingest.NATS.MaxDeliver < -1 {
		return errors.New("ingest.nats.max_deliver must be -1 or >0")
	}
	if cfg.Service.Store == StoreNATS && cfg.State.NATS.History > 64 {
		return errors.New("state.nats.history must be <=64")
	}
	if cfg.Service.Mode == ServiceModeNATS && !isSubjectToken(cfg.Events.NATS.SubjectPrefix) {
		return fmt.Errorf("events.nats.subject_prefix has invalid value %q", cfg.Events.NATS.SubjectPrefix)
	}

	return validateNotify(cfg.Notify)
}

func validateHTTPIngest(cfg HTTPIngestConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return errors.New("ingest.http.listen is required")
	}
	paths := map[string]string{
		"ingest.http.health_path":  cfg.HealthPath,
		"ingest.http.ready_path":   cfg.ReadyPath,
		"ingest.http.ingest_path":  cfg.IngestPath,
		"ingest.http.metrics_path": cfg.MetricsPath,
	}
	seen := make(map[string]string, len(paths))
	for _, name := range []string{"ingest.http.health_path", "ingest.http.ready_path", "ingest.http.ingest_path", "ingest.http.metrics_path"} {
		path := paths[name]
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with /", name)
		}
		if previous, exists := seen[path]; exists {
			return fmt.Errorf("%s duplicates %s", name, previous)
		}
		seen[path] = name
	}
	return nil
}

func validateNotify(cfg NotifyConfig) error {
	if cfg.Email.Enabled {
		if strings.TrimSpace(cfg.Email.Host) == "" {
			return errors.New("notify.email.host is required")
		}
		if strings.TrimSpace(cfg.Email.From) == "" {
			return errors.New("notify.email.from is required")
		}
	}
	if cfg.SMS.Enabled {
		if err := validateURL("notify.sms.url", cfg.SMS.URL); err != nil {
			return err
		}
	}
	if cfg.Push.Enabled && strings.TrimSpace(cfg.Push.BotToken) == "" {
		return errors.New("notify.push.bot_token is required")
	}
	if cfg.Push.APIBase != "" {
		if err := validateURL("notify.push.api_base", cfg.Push.APIBase); err != nil {
			return err
		}
	}
	switch strings.ToLower(cfg.Push.ParseMode) {
	case "html", "text":
	default:
		return fmt.Errorf("notify.push.parse_mode has unsupported value %q", cfg.Push.ParseMode)
	}

	channels := map[string]NotifyChannelCommon{
		"email":   cfg.Email.NotifyChannelCommon,
		"sms":     cfg.SMS.NotifyChannelCommon,
		"push":    cfg.Push.NotifyChannelCommon,
		"slack":   cfg.Slack.NotifyChannelCommon,
		"webhook": cfg.Webhook.NotifyChannelCommon,
	}
	for _, name := range []string{"email", "sms", "push", "slack", "webhook"} {
		common := channels[name]
		if common.RatePerSec < 0 {
			return fmt.Errorf("notify.%s.rate_per_sec must be >=0", name)
		}
		switch strings.ToLower(common.Retry.Backoff) {
		case "exponential", "fixed":
		default:
			return fmt.Errorf("notify.%s.retry.backoff has unsupported value %q", name, common.Retry.Backoff)
		}
	}
	return nil
}

func validateURL(name, raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", name)
	}
	return nil
}

// isSubjectToken reports whether value is a dot-separated NATS subject without wildcards.
func isSubjectToken(value string) bool {
	if value == "" {
		return false
	}
	for _, token := range strings.Split(value, ".") {
		if token == "" || strings.ContainsAny(token, "*> \t") {
			return false
		}
	}
	return true
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	return nil
}
