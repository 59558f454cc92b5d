package backendvisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/loykin/backendvisor/internal/config"
	"github.com/loykin/backendvisor/internal/history"
	"github.com/loykin/backendvisor/internal/history/factory"
	"github.com/loykin/backendvisor/internal/launch"
	"github.com/loykin/backendvisor/internal/metrics"
	"github.com/loykin/backendvisor/internal/server"
	"github.com/loykin/backendvisor/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Mode = launch.Mode

type Layout = launch.Layout

type Spec = launch.Spec

type State = supervisor.State

type Status = supervisor.Status

type Event = supervisor.Event

type EventType = supervisor.EventType

type Observer = supervisor.Observer

type Options = supervisor.Options

type SpawnError = supervisor.SpawnError

type Config = config.Config

const (
	ModeDevelopment = launch.ModeDevelopment
	ModePackaged    = launch.ModePackaged

	StateStopped = supervisor.StateStopped
	StateRunning = supervisor.StateRunning

	EventStarted        = supervisor.EventStarted
	EventSpawnFailure   = supervisor.EventSpawnFailure
	EventStopped        = supervisor.EventStopped
	EventExited         = supervisor.EventExited
	EventUnexpectedExit = supervisor.EventUnexpectedExit
)

var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrSpawn          = supervisor.ErrSpawn
)

// Resolve computes the backend launch spec for mode under baseDir using the
// default layout.
func Resolve(mode Mode, baseDir string) Spec { return launch.Resolve(mode, baseDir) }

// ModeFor maps the host's "is packaged" flag to a Mode.
func ModeFor(packaged bool) Mode { return launch.ModeFor(packaged) }

// LoadConfig reads a TOML file (optional) plus BACKENDVISOR_* overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Supervisor is a thin facade over internal/supervisor.Supervisor.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(spec Spec, opts Options) *Supervisor {
	return &Supervisor{inner: supervisor.New(spec, opts)}
}

func (s *Supervisor) Start() error                   { return s.inner.Start() }
func (s *Supervisor) Stop() error                    { return s.inner.Stop() }
func (s *Supervisor) State() State                   { return s.inner.State() }
func (s *Supervisor) Status() Status                 { return s.inner.Status() }
func (s *Supervisor) Spec() Spec                     { return s.inner.Spec() }
func (s *Supervisor) Subscribe(o Observer)           { s.inner.Subscribe(o) }
func (s *Supervisor) Done() <-chan struct{}          { return s.inner.Done() }
func (s *Supervisor) Wait(ctx context.Context) error { return s.inner.Wait(ctx) }

// RegisterMetrics registers backend collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// Host wires a configured supervisor together with its optional history
// journal and control server. It stands in for the application hooks:
// Run is "app ready", Close is "app will quit".
type Host struct {
	cfg *Config
	log *slog.Logger
	sup *Supervisor

	rec    *history.Recorder
	reader history.Reader

	srv    *http.Server
	srvErr <-chan error

	closeOnce sync.Once
	closeErr  error
}

// NewHost builds every component selected by cfg. Nothing is started yet.
// A nil log uses a logger built from cfg.Log writing to stderr.
func NewHost(cfg *Config, log *slog.Logger) (*Host, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if log == nil {
		log = cfg.Logger().New(os.Stderr)
	}
	spec, err := cfg.LaunchSpec()
	if err != nil {
		return nil, fmt.Errorf("resolve launch spec: %w", err)
	}
	environ, err := cfg.BackendEnv()
	if err != nil {
		return nil, err
	}

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		gatherer = prometheus.DefaultGatherer
	}

	h := &Host{cfg: cfg, log: log}
	opts := Options{
		Name:       cfg.Name,
		Env:        environ,
		Logger:     log,
		Capture:    cfg.Logger().File,
		DrainGrace: cfg.DrainGrace,
	}
	if cfg.History.Enabled {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("open history sink: %w", err)
		}
		h.rec = history.NewRecorder(sink, cfg.History.Buffer, log)
		if rd, ok := sink.(history.Reader); ok {
			h.reader = rd
		}
		opts.Observers = append(opts.Observers, h.rec.Observe)
	}
	h.sup = New(spec, opts)

	if cfg.Server.Enabled {
		r := server.NewRouter(h.sup.inner, cfg.Server.BasePath, gatherer)
		if h.reader != nil {
			r = r.WithHistory(h.reader)
		}
		h.srv, h.srvErr = server.NewServer(cfg.Server.Listen, r)
		log.Info("control server listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
	}
	log.Info("backend resolved", "backend", cfg.Name, "mode", cfg.Mode(), "command", spec.String())
	return h, nil
}

// Supervisor returns the supervised backend.
func (h *Host) Supervisor() *Supervisor { return h.sup }

// History returns the journal reader, or nil when history is disabled or
// the sink cannot be queried.
func (h *Host) History() history.Reader { return h.reader }

// Run starts the backend when auto_start is set, then blocks until ctx is
// done or the control server fails, and finally closes the host. A failed
// backend start is logged and does not end Run.
func (h *Host) Run(ctx context.Context) error {
	defer func() { _ = h.Close() }()
	if h.cfg.AutoStart {
		if err := h.sup.Start(); err != nil {
			h.log.Error("backend unavailable, continuing without it", "backend", h.cfg.Name, "error", err)
		}
	}
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-h.srvErr:
		if ok && err != nil {
			return fmt.Errorf("control server: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}

// Close stops the backend, waits briefly for it to exit, shuts the control
// server down and flushes history. It is safe to call more than once.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		var errs []error
		if err := h.sup.Stop(); err != nil {
			errs = append(errs, err)
		}
		grace := h.cfg.DrainGrace
		if grace <= 0 {
			grace = supervisor.DefaultDrainGrace
		}
		ctx, cancel := context.WithTimeout(context.Background(), grace+3*time.Second)
		if err := h.sup.Wait(ctx); err != nil {
			h.log.Warn("backend did not exit in time", "backend", h.cfg.Name, "error", err)
		}
		if h.srv != nil {
			if err := h.srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		cancel()
		if h.rec != nil {
			if err := h.rec.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}
