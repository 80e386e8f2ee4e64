package config

import "strings"

// applyDefaults fills unset values and derives shared NATS URLs.
// Params: cfg to mutate.
// Returns: none.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)
	cfg.Service.Store = normalizeStore(cfg.Service.Store, cfg.Service.Mode)
	if cfg.Service.ShutdownTimeoutSec <= 0 {
		cfg.Service.ShutdownTimeoutSec = defaultShutdownTimeoutSec
	}
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadIntervalSec
	}

	applyLogDefaults(&cfg.Log)
	applyIngestDefaults(&cfg.Ingest)

	cfg.NATS.URL = normalizeNATSURLs(cfg.NATS.URL)
	if len(cfg.NATS.URL) == 0 && usesNATS(*cfg) {
		cfg.NATS.URL = []string{defaultNATSURL}
	}
	cfg.Ingest.NATS.URL = append([]string(nil), cfg.NATS.URL...)
	cfg.State.NATS.URL = append([]string(nil), cfg.NATS.URL...)
	cfg.Events.NATS.URL = append([]string(nil), cfg.NATS.URL...)

	if strings.TrimSpace(cfg.State.NATS.Bucket) == "" {
		cfg.State.NATS.Bucket = defaultStateBucket
	}
	if cfg.State.NATS.History <= 0 {
		cfg.State.NATS.History = 1
	}
	if cfg.State.NATS.Replicas <= 0 {
		cfg.State.NATS.Replicas = 1
	}
	if strings.TrimSpace(cfg.State.SQLite.Path) == "" {
		cfg.State.SQLite.Path = defaultSQLitePath
	}

	applyEventsDefaults(&cfg.Events)
	applyNotifyDefaults(&cfg.Notify)
}

func applyLogDefaults(log *LogConfig) {
	if log.Console.Level == "" {
		log.Console.Level = "info"
	}
	if log.Console.Format == "" {
		log.Console.Format = "line"
	}
	if log.File.Level == "" {
		log.File.Level = "info"
	}
	if log.File.Format == "" {
		log.File.Format = "json"
	}
	if !log.Console.Enabled && !log.File.Enabled {
		log.Console.Enabled = true
	}
}

func applyIngestDefaults(ingest *IngestConfig) {
	if !ingest.HTTP.Enabled && !ingest.NATS.Enabled {
		ingest.HTTP.Enabled = true
	}
	if strings.TrimSpace(ingest.HTTP.Listen) == "" {
		ingest.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(ingest.HTTP.HealthPath) == "" {
		ingest.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(ingest.HTTP.ReadyPath) == "" {
		ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(ingest.HTTP.IngestPath) == "" {
		ingest.HTTP.IngestPath = defaultIngestPath
	}
	if strings.TrimSpace(ingest.HTTP.MetricsPath) == "" {
		ingest.HTTP.MetricsPath = defaultMetricsPath
	}
	if ingest.HTTP.MaxBodyBytes <= 0 {
		ingest.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	nats := &ingest.NATS
	if strings.TrimSpace(nats.Subject) == "" {
		nats.Subject = defaultIngestSubject
	}
	if strings.TrimSpace(nats.Stream) == "" {
		nats.Stream = defaultIngestStream
	}
	if strings.TrimSpace(nats.ConsumerName) == "" {
		nats.ConsumerName = defaultIngestConsumer
	}
	if strings.TrimSpace(nats.DeliverGroup) == "" {
		nats.DeliverGroup = defaultIngestGroup
	}
	if nats.AckWaitSec <= 0 {
		nats.AckWaitSec = defaultAckWaitSec
	}
	if nats.NackDelayMS <= 0 {
		nats.NackDelayMS = defaultNackDelayMS
	}
	if nats.MaxDeliver == 0 {
		nats.MaxDeliver = defaultMaxDeliver
	}
	if nats.MaxAckPending <= 0 {
		nats.MaxAckPending = defaultMaxAckPending
	}
}

func applyEventsDefaults(events *EventsConfig) {
	if events.LocalBuffer <= 0 {
		events.LocalBuffer = defaultLocalBuffer
	}
	nats := &events.NATS
	if strings.TrimSpace(nats.Stream) == "" {
		nats.Stream = defaultEventsStream
	}
	if strings.TrimSpace(nats.SubjectPrefix) == "" {
		nats.SubjectPrefix = defaultEventsPrefix
	}
	nats.SubjectPrefix = strings.TrimRight(nats.SubjectPrefix, ".")
	if strings.TrimSpace(nats.ConsumerName) == "" {
		nats.ConsumerName = defaultEventsConsumer
	}
	if strings.TrimSpace(nats.DeliverGroup) == "" {
		nats.DeliverGroup = defaultEventsGroup
	}
	if nats.AckWaitSec <= 0 {
		nats.AckWaitSec = defaultAckWaitSec
	}
	if nats.NackDelayMS <= 0 {
		nats.NackDelayMS = defaultNackDelayMS
	}
	if nats.MaxDeliver == 0 {
		nats.MaxDeliver = defaultMaxDeliver
	}
	if nats.MaxAckPending <= 0 {
		nats.MaxAckPending = defaultMaxAckPending
	}
	if nats.MaxAgeHours <= 0 {
		nats.MaxAgeHours = defaultEventsMaxAgeHours
	}
	if nats.DedupWindowSec <= 0 {
		nats.DedupWindowSec = defaultEventsDedupSec
	}
}

func applyNotifyDefaults(notify *NotifyConfig) {
	if notify.HistoryMax <= 0 {
		notify.HistoryMax = defaultHistoryMax
	}
	for _, common := range []*NotifyChannelCommon{
		&notify.Email.NotifyChannelCommon,
		&notify.SMS.NotifyChannelCommon,
		&notify.Push.NotifyChannelCommon,
		&notify.Slack.NotifyChannelCommon,
		&notify.Webhook.NotifyChannelCommon,
	} {
		if common.TimeoutSec <= 0 {
			common.TimeoutSec = defaultNotifyTimeoutSec
		}
		if common.RatePerSec > 0 && common.RateBurst <= 0 {
			common.RateBurst = 1
		}
		fillNotifyRetryDefaults(&common.Retry)
	}
	if notify.Email.Port <= 0 {
		notify.Email.Port = 587
	}
	if strings.TrimSpace(notify.Push.ParseMode) == "" {
		notify.Push.ParseMode = "html"
	}
	if strings.TrimSpace(notify.Webhook.Method) == "" {
		notify.Webhook.Method = "POST"
	}
}

// fillNotifyRetryDefaults sets retry defaults for one channel.
// Params: retry policy pointer.
// Returns: none.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry == nil {
		return
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 30000
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
}

// usesNATS reports whether any enabled component needs a NATS connection.
func usesNATS(cfg Config) bool {
	return cfg.Service.Mode == ServiceModeNATS || cfg.Service.Store == StoreNATS || cfg.Ingest.NATS.Enabled
}
