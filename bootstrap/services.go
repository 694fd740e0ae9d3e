package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/najoast/actorrt/config"
	"github.com/najoast/actorrt/core"
)

// Names of the services every application registers.
const (
	RuntimeServiceName     = "runtime"
	MonitorServiceName     = "monitor"
	ConfigWatchServiceName = "config-watcher"
)

// RuntimeService runs the scheduler as a managed service.
type RuntimeService struct {
	rt      *core.Runtime
	timeout time.Duration
}

// NewRuntimeService wraps rt. Stop waits at most timeout for the workers.
func NewRuntimeService(rt *core.Runtime, timeout time.Duration) *RuntimeService {
	return &RuntimeService{rt: rt, timeout: timeout}
}

func (s *RuntimeService) Name() string { return RuntimeServiceName }

func (s *RuntimeService) Start(ctx context.Context) error {
	return s.rt.Start()
}

func (s *RuntimeService) Stop(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err := s.rt.Shutdown(ctx)
	if errors.Is(err, core.ErrRuntimeStopped) {
		return nil
	}
	return err
}

func (s *RuntimeService) Health(ctx context.Context) (HealthStatus, error) {
	stats := s.rt.Stats()
	status := HealthStatus{
		State:     HealthHealthy,
		Message:   "runtime running",
		LastCheck: time.Now(),
		Data: map[string]interface{}{
			"workers":           stats.Workers,
			"dedicated_workers": stats.DedicatedWorkers,
			"idle_workers":      stats.IdleWorkers,
			"ready_objects":     stats.ReadyObjects,
			"objects":           stats.Objects,
			"reclaimed":         stats.Reclaimed,
			"time_slice":        stats.TimeSlice.String(),
		},
	}
	if !s.rt.Running() {
		status.State = HealthStopped
		status.Message = "runtime not running"
	}
	return status, nil
}

// MonitorService serves metrics and health over HTTP and periodically logs
// runtime statistics.
type MonitorService struct {
	cfg      config.MonitorConfig
	rt       *core.Runtime
	registry *prometheus.Registry
	health   LifecycleManager
	logger   *slog.Logger

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitorService creates the monitor. Health reports cover every service
// registered on health.
func NewMonitorService(cfg config.MonitorConfig, rt *core.Runtime, registry *prometheus.Registry, health LifecycleManager, logger *slog.Logger) *MonitorService {
	return &MonitorService{
		cfg:      cfg,
		rt:       rt,
		registry: registry,
		health:   health,
		logger:   logger.With(slog.String("service", MonitorServiceName)),
	}
}

func (s *MonitorService) Name() string { return MonitorServiceName }

// Handler returns the monitor's HTTP routes.
func (s *MonitorService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.HTTP.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}))
	mux.HandleFunc(s.cfg.HTTP.HealthPath, s.serveHealth)
	return mux
}

func (s *MonitorService) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Addr())
	if err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.server = server
	s.addr = ln.Addr()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor server failed", slog.Any("error", err))
		}
	}()

	if interval := s.cfg.StatsInterval.Std(); interval > 0 {
		s.wg.Add(1)
		go s.statsLoop(loopCtx, interval)
	}

	s.logger.Info("monitor listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("metrics", s.cfg.HTTP.MetricsPath),
		slog.String("health", s.cfg.HTTP.HealthPath),
	)
	return nil
}

func (s *MonitorService) Stop(ctx context.Context) error {
	s.mu.Lock()
	server, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	cancel()
	err := server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *MonitorService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return HealthStatus{State: HealthStopped, Message: "monitor not serving"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "monitor serving",
		Data:    map[string]interface{}{"addr": s.addr.String()},
	}, nil
}

// Addr returns the address the monitor listens on, nil before Start.
func (s *MonitorService) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

type healthReport struct {
	Status   HealthState             `json:"status"`
	Services map[string]HealthStatus `json:"services"`
}

func (s *MonitorService) serveHealth(w http.ResponseWriter, r *http.Request) {
	services, err := s.health.Health(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	report := healthReport{Status: HealthHealthy, Services: services}
	code := http.StatusOK
	for _, status := range services {
		if status.State == HealthUnhealthy || status.State == HealthStopped {
			report.Status = HealthUnhealthy
			code = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Debug("write health report", slog.Any("error", err))
	}
}

func (s *MonitorService) statsLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.rt.Stats()
			s.logger.Info("runtime stats",
				slog.Int("workers", stats.Workers),
				slog.Int("dedicated", stats.DedicatedWorkers),
				slog.Int("idle", stats.IdleWorkers),
				slog.Int("ready", stats.ReadyObjects),
				slog.Int("objects", stats.Objects),
				slog.Uint64("reclaimed", stats.Reclaimed),
				slog.Duration("timeSlice", stats.TimeSlice),
			)
		}
	}
}

// ConfigWatchService reloads the configuration file on change and applies
// the settings that can change at runtime: the default time slice.
type ConfigWatchService struct {
	file   string
	rt     *core.Runtime
	logger *slog.Logger

	mu      sync.Mutex
	watcher *config.Watcher
}

// NewConfigWatchService watches file on behalf of rt.
func NewConfigWatchService(file string, rt *core.Runtime, logger *slog.Logger) *ConfigWatchService {
	return &ConfigWatchService{
		file:   file,
		rt:     rt,
		logger: logger.With(slog.String("service", ConfigWatchServiceName)),
	}
}

func (s *ConfigWatchService) Name() string { return ConfigWatchServiceName }

func (s *ConfigWatchService) Start(ctx context.Context) error {
	w, err := config.NewWatcher(s.file, config.NewLoader(), config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnConfigChange(s.apply)
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

func (s *ConfigWatchService) Stop(ctx context.Context) error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Stop()
}

func (s *ConfigWatchService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher == nil {
		return HealthStatus{State: HealthStopped, Message: "not watching"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "watching",
		Data:    map[string]interface{}{"file": s.file},
	}, nil
}

// Reload rereads the file immediately.
func (s *ConfigWatchService) Reload() error {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()

	if w == nil {
		return fmt.Errorf("config watcher not started")
	}
	return w.Reload()
}

func (s *ConfigWatchService) apply(oldConfig, newConfig *config.Config) {
	slice := newConfig.Runtime.TimeSlice.Std()
	if slice == oldConfig.Runtime.TimeSlice.Std() {
		return
	}
	if err := s.rt.SetTimeSlice(slice); err != nil {
		s.logger.Warn("rejected time slice from config", slog.Any("error", err))
	}
}

var (
	_ Service = (*RuntimeService)(nil)
	_ Service = (*MonitorService)(nil)
	_ Service = (*ConfigWatchService)(nil)
)
