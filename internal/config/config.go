package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName        = "sitealert"
	defaultShutdownTimeoutSec = 10
	defaultReloadIntervalSec  = 5
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultIngestPath         = "/snapshots"
	defaultMetricsPath        = "/metrics"
	defaultMaxBodyBytes       = 2 << 20
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultIngestSubject      = "sitealert.snapshots"
	defaultIngestStream       = "SITEALERT_SNAPSHOTS"
	defaultIngestConsumer     = "sitealert-ingest"
	defaultIngestGroup        = "sitealert-workers"
	defaultAckWaitSec         = 30
	defaultNackDelayMS        = 1000
	defaultMaxDeliver         = 5
	defaultMaxAckPending      = 1024
	defaultStateBucket        = "sitealert_state"
	defaultSQLitePath         = "data/sitealert.db"
	defaultEventsStream       = "SITEALERT_EVENTS"
	defaultEventsPrefix       = "sitealert.events"
	defaultEventsConsumer     = "sitealert-fanout"
	defaultEventsGroup        = "sitealert-fanout"
	defaultEventsMaxAgeHours  = 72
	defaultEventsDedupSec     = 120
	defaultLocalBuffer        = 1024
	defaultHistoryMax         = 500
	defaultNotifyTimeoutSec   = 10

	// ServiceModeSingle runs one instance without NATS dependencies.
	ServiceModeSingle = "single"
	// ServiceModeNATS runs with NATS-backed state, events, and ingest.
	ServiceModeNATS = "nats"

	// StoreMemory keeps tenant state in process memory.
	StoreMemory = "memory"
	// StoreNATS keeps tenant state in a JetStream KV bucket.
	StoreNATS = "nats"
	// StoreSQLite keeps tenant state in a local SQLite file.
	StoreSQLite = "sqlite"
)

// Config is full runtime configuration snapshot.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Log     LogConfig     `toml:"log"`
	NATS    NATSConfig    `toml:"nats"`
	Ingest  IngestConfig  `toml:"ingest"`
	State   StateConfig   `toml:"state"`
	Events  EventsConfig  `toml:"events"`
	Notify  NotifyConfig  `toml:"notify"`
}

// ServiceConfig defines process-level settings.
// Params: service name, runtime mode, state store, fan-out and reload switches.
// Returns: service behavior.
type ServiceConfig struct {
	Name               string `toml:"name"`
	Mode               string `toml:"mode"`
	Store              string `toml:"store"`
	AutoFanout         bool   `toml:"auto_fanout"`
	ShutdownTimeoutSec int    `toml:"shutdown_timeout_sec"`
	ReloadEnabled      bool   `toml:"reload_enabled"`
	ReloadIntervalSec  int    `toml:"reload_interval_sec"`
}

// NATSConfig holds shared NATS servers.
type NATSConfig struct {
	URL []string `toml:"url"`
}

// IngestConfig contains snapshot intake transports.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures HTTP listener with probes, metrics, and snapshot intake.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	IngestPath   string `toml:"ingest_path"`
	MetricsPath  string `toml:"metrics_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream snapshot consumer.
// URL is derived from [nats].
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"-"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StateConfig holds backend-specific tenant state settings.
type StateConfig struct {
	NATS   NATSStateConfig   `toml:"nats"`
	SQLite SQLiteStateConfig `toml:"sqlite"`
}

// NATSStateConfig configures JetStream KV tenant state.
// URL is derived from [nats].
type NATSStateConfig struct {
	URL                []string `toml:"-"`
	Bucket             string   `toml:"bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
	History            int      `toml:"history"`
	Replicas           int      `toml:"replicas"`
}

// SQLiteStateConfig configures SQLite tenant state file.
type SQLiteStateConfig struct {
	Path string `toml:"path"`
}

// EventsConfig configures lifecycle event publishing.
// Single mode uses the in-process bus; nats mode uses JetStream.
type EventsConfig struct {
	LocalBuffer int              `toml:"local_buffer"`
	NATS        NATSEventsConfig `toml:"nats"`
}

// NATSEventsConfig configures JetStream event stream and fan-out consumer.
// URL is derived from [nats].
type NATSEventsConfig struct {
	URL            []string `toml:"-"`
	Stream         string   `toml:"stream"`
	SubjectPrefix  string   `toml:"subject_prefix"`
	ConsumerName   string   `toml:"consumer_name"`
	DeliverGroup   string   `toml:"deliver_group"`
	AckWaitSec     int      `toml:"ack_wait_sec"`
	NackDelayMS    int      `toml:"nack_delay_ms"`
	MaxDeliver     int      `toml:"max_deliver"`
	MaxAckPending  int      `toml:"max_ack_pending"`
	MaxAgeHours    int      `toml:"max_age_hours"`
	DedupWindowSec int      `toml:"dedup_window_sec"`
}

// NotifyConfig configures notification history and channel transports.
type NotifyConfig struct {
	HistoryMax int             `toml:"history_max"`
	Email      EmailNotifier   `toml:"email"`
	SMS        SMSNotifier     `toml:"sms"`
	Push       PushNotifier    `toml:"push"`
	Slack      SlackNotifier   `toml:"slack"`
	Webhook    WebhookNotifier `toml:"webhook"`
}

// NotifyChannelCommon holds settings shared by every channel transport.
type NotifyChannelCommon struct {
	Enabled    bool        `toml:"enabled"`
	TimeoutSec int         `toml:"timeout_sec"`
	RatePerSec float64     `toml:"rate_per_sec"`
	RateBurst  int         `toml:"rate_burst"`
	Retry      NotifyRetry `toml:"retry"`
}

// NotifyRetry defines transport retry inside one send.
// Params: retry toggle, backoff strategy, delays, and attempt cap.
// Returns: retry behavior for one channel.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// EmailNotifier configures SMTP relay.
type EmailNotifier struct {
	NotifyChannelCommon
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	From            string `toml:"from"`
	DisableStartTLS bool   `toml:"disable_starttls"`
}

// SMSNotifier configures HTTP SMS gateway.
type SMSNotifier struct {
	NotifyChannelCommon
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
	From   string `toml:"from"`
}

// PushNotifier configures Telegram bot used for push delivery.
type PushNotifier struct {
	NotifyChannelCommon
	BotToken  string `toml:"bot_token"`
	APIBase   string `toml:"api_base"`
	ParseMode string `toml:"parse_mode"`
}

// SlackNotifier configures Slack webhook presentation.
type SlackNotifier struct {
	NotifyChannelCommon
	Username  string `toml:"username"`
	IconEmoji string `toml:"icon_emoji"`
}

// WebhookNotifier configures generic webhook requests.
type WebhookNotifier struct {
	NotifyChannelCommon
	Method  string            `toml:"method"`
	Headers map[string]string `toml:"headers"`
}

// LogConfig contains console and file sinks.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, path, and console color.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
	Color   bool   `toml:"color"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}
	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		err = decodeFileInto(src.File, &cfg)
	} else {
		err = loadDir(src.Dir, &cfg)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeFileInto overlays one TOML file onto cfg; keys absent from the file keep prior values.
// Params: file path and destination config.
// Returns: read/decode error; unknown keys are rejected.
func decodeFileInto(path string, cfg *Config) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	decoder := toml.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return fmt.Errorf("decode config file %q: unknown keys:\n%s", path, strictErr.String())
		}
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	return nil
}

// loadDir overlays TOML files from one directory in lexical order.
// Params: directory containing config fragments and destination config.
// Returns: read/decode error.
func loadDir(dir string, cfg *Config) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := decodeFileInto(file, cfg); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeServiceMode canonicalizes service mode and applies default.
// Params: raw mode value from config.
// Returns: normalized mode (`single` by default).
func NormalizeServiceMode(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ServiceModeSingle
	}
	return normalized
}

// normalizeStore canonicalizes store backend with mode-specific default.
func normalizeStore(value, mode string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized != "" {
		return normalized
	}
	if mode == ServiceModeNATS {
		return StoreNATS
	}
	return StoreMemory
}

// normalizeNATSURLs trims spaces around each configured NATS URL.
// Params: raw URL list from config.
// Returns: normalized URL list preserving element count for validation.
func normalizeNATSURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = strings.TrimSpace(urls[i])
	}
	return out
}
