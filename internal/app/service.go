package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"sitealert/internal/clock"
	"sitealert/internal/config"
	"sitealert/internal/domain"
	"sitealert/internal/events"
	"sitealert/internal/ingest"
	"sitealert/internal/logging"
	"sitealert/internal/notify"
	"sitealert/internal/permanent"
	"sitealert/internal/state"
	"sitealert/internal/tenant"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const fanoutTimeout = 60 * time.Second

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable site alerting service.
type Service struct {
	source config.ConfigSource

	cfgMu sync.RWMutex
	cfg   config.Config

	logger        *slog.Logger
	closeLog      func()
	store         state.Store
	publisher     events.Publisher
	bus           *events.LocalBus
	alerts        *AlertManager
	notifications *NotificationManager
	httpSrv       *http.Server
	natsSub       interface{ Close() error }
	fanoutSub     interface{ Close() error }
	readyFlag     atomic.Bool
	clock         clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}

	store, err := buildStore(cfg)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.store = store

	if err := service.buildPublisher(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	executor := tenant.NewExecutor()
	dispatcher := notify.NewDispatcher(cfg.Notify, logger)
	service.alerts = NewAlertManager(store, executor, service.publisher, clk, logger)
	service.notifications = NewNotificationManager(store, executor, dispatcher, service.publisher, clk, logger, cfg.Notify.HistoryMax)

	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildFanout(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	logger.Info("service initialized",
		"mode", cfg.Service.Mode,
		"store", cfg.Service.Store,
		"channels", dispatcher.Channels(),
		"auto_fanout", cfg.Service.AutoFanout,
	)
	return service, nil
}

// Alerts returns alert manager for embedding callers.
func (s *Service) Alerts() *AlertManager {
	return s.alerts
}

// Notifications returns notification manager for embedding callers.
func (s *Service) Notifications() *NotificationManager {
	return s.notifications
}

// Handler returns HTTP router with health, readiness, metrics and ingest endpoints.
func (s *Service) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := s.currentConfig()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		s.logger.Info("http server starting", "listen", cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	if cfg.Service.ReloadEnabled {
		group.Go(func() error {
			ticker := time.NewTicker(time.Duration(cfg.Service.ReloadIntervalSec) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					if err := s.reloadConfig(); err != nil {
						s.logger.Error("reload failed", "error", err.Error())
					}
				}
			}
		})
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-groupCtx.Done():
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownErr := s.shutdown()
	cancel()
	if err := group.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	timeout := time.Duration(s.currentConfig().Service.ShutdownTimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	closeStep := func(name string, closeFn func() error) {
		if err := closeFn(); err != nil {
			s.logger.Error(name+" close failed", "error", err.Error())
			if firstErr == nil {
				firstErr = fmt.Errorf("%s close: %w", name, err)
			}
		}
	}

	closeStep("http server", func() error { return s.httpSrv.Shutdown(ctx) })
	if s.natsSub != nil {
		closeStep("nats ingest", s.natsSub.Close)
	}
	if s.fanoutSub != nil {
		closeStep("fan-out subscriber", s.fanoutSub.Close)
	}
	closeStep("event publisher", s.publisher.Close)
	closeStep("store", s.store.Close)
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
func (s *Service) cleanupInitResources() {
	if s.fanoutSub != nil {
		_ = s.fanoutSub.Close()
		s.fanoutSub = nil
	}
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.publisher != nil {
		_ = s.publisher.Close()
		s.publisher = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildPublisher selects in-process bus or JetStream publisher by mode.
func (s *Service) buildPublisher() error {
	if isSingleMode(s.cfg) {
		s.bus = events.NewLocalBus(s.cfg.Events.LocalBuffer, s.logger)
		s.publisher = s.bus
		return nil
	}
	publisher, err := events.NewNATSPublisher(s.cfg.Events.NATS)
	if err != nil {
		return err
	}
	s.publisher = publisher
	return nil
}

// buildHTTPServer wires router with ingest, metrics and health endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	httpCfg := s.cfg.Ingest.HTTP
	mux := http.NewServeMux()
	mux.HandleFunc(httpCfg.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(httpCfg.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(httpCfg.MetricsPath, promhttp.Handler())

	if httpCfg.Enabled {
		mux.Handle(httpCfg.IngestPath, ingest.NewHTTPHandler(s.alerts, httpCfg.MaxBodyBytes, s.logger))
	}

	s.httpSrv = &http.Server{
		Addr:              httpCfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts NATS ingest when enabled.
func (s *Service) buildNATSSubscriber() error {
	if isSingleMode(s.cfg) || !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.alerts, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildFanout subscribes triggered alerts to org channel delivery when enabled.
func (s *Service) buildFanout() error {
	if !s.cfg.Service.AutoFanout {
		return nil
	}
	if s.bus != nil {
		s.bus.Subscribe(events.KindAlertTriggered, s.handleTriggered)
		return nil
	}
	subscriber, err := events.NewNATSSubscriber(s.cfg.Events.NATS, events.KindAlertTriggered, s.logger, s.handleTriggered)
	if err != nil {
		return err
	}
	s.fanoutSub = subscriber
	return nil
}

// handleTriggered sends one triggered alert to every enabled channel of its org.
// Params: context and alert.triggered event.
// Returns: permanent error for undecodable events or uninitialized orgs.
func (s *Service) handleTriggered(ctx context.Context, event events.Event) error {
	alert, err := events.AlertFromEvent(event)
	if err != nil {
		return permanent.Mark(err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, fanoutTimeout)
	defer cancel()

	records, err := s.notifications.SendForAlertToConfigured(sendCtx, event.OrgID, alert)
	if err != nil {
		if errors.Is(err, domain.ErrNotInitialized) {
			logging.ForOrg(s.logger, event.OrgID).Debug("fan-out skipped for uninitialized org", "alert_id", alert.AlertID)
			return permanent.Mark(err)
		}
		return err
	}
	logging.ForOrg(s.logger, event.OrgID).Debug("alert fan-out done", "alert_id", alert.AlertID, "notifications", len(records))
	return nil
}

// reloadConfig reloads config snapshot and applies notify settings.
// Params: none.
// Returns: reload or apply error.
func (s *Service) reloadConfig() error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	current := s.currentConfig()
	if nextCfg.Service.Mode != current.Service.Mode {
		return errors.New("service.mode change requires restart")
	}
	if nextCfg.Service.Store != current.Service.Store {
		return errors.New("service.store change requires restart")
	}

	dispatcher := notify.NewDispatcher(nextCfg.Notify, s.logger)
	s.notifications.SetDispatcher(dispatcher)
	s.notifications.SetHistoryMax(nextCfg.Notify.HistoryMax)

	s.cfgMu.Lock()
	s.cfg = nextCfg
	s.cfgMu.Unlock()
	s.logger.Info("configuration reloaded", "channels", dispatcher.Channels())
	return nil
}

func (s *Service) currentConfig() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// buildStore creates runtime state backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (state.Store, error) {
	switch cfg.Service.Store {
	case config.StoreNATS:
		return state.NewNATSStore(cfg.State.NATS)
	case config.StoreSQLite:
		return state.NewSQLiteStore(cfg.State.SQLite)
	default:
		return state.NewMemoryStore(), nil
	}
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
