// Package thermalscanner exposes the daemon for embedding: configuration
// loading, dependency overrides and the blocking Run loop.
package thermalscanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/bridge"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/driverlink"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/launcher"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/observability"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/opcuaconv"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/sink"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/tcpserve"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/app/config"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/app/daemon"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/ports"
)

// Re-exported so embedders only import this package.
type (
	Config             = config.Config
	Conversation       = ports.Conversation
	ConversationDialer = ports.ConversationDialer
	DialerFunc         = ports.DialerFunc
	Launcher           = ports.Launcher
	Sink               = ports.Sink
	Observability      = ports.Observability
	LinkError          = driverlink.LinkError
	State              = daemon.State
)

// LoadConfig reads, defaults and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Option overrides a dependency the runtime would otherwise build from the
// configuration.
type Option func(*overrides)

type overrides struct {
	dialer   ports.ConversationDialer
	launcher ports.Launcher
	sinks    []ports.Sink
	obs      ports.Observability
	reg      prometheus.Registerer
}

// WithDialer injects a custom conversation transport (simulators, test
// fakes, site-specific gateways).
func WithDialer(d ports.ConversationDialer) Option {
	return func(o *overrides) { o.dialer = d }
}

// WithLauncher replaces the exec-based driver launcher.
func WithLauncher(l ports.Launcher) Option {
	return func(o *overrides) { o.launcher = l }
}

// WithSink appends an extra telemetry sink.
func WithSink(s ports.Sink) Option {
	return func(o *overrides) { o.sinks = append(o.sinks, s) }
}

// WithObservability plugs in a custom logging/metrics backend.
func WithObservability(obs ports.Observability) Option {
	return func(o *overrides) { o.obs = obs }
}

// WithRegisterer selects the Prometheus registerer used by the default
// observability backend. Mostly for tests.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *overrides) { o.reg = reg }
}

// Runtime is the assembled daemon plus its supporting servers. Build one
// with New, then call Run.
type Runtime struct {
	cfg        *Config
	daemon     *daemon.Daemon
	server     *tcpserve.Server
	sinks      []ports.Sink
	obs        ports.Observability
	metricsSrv *http.Server
}

// New wires the default adapters from the configuration: the configured
// conversation transport, the exec launcher (when an executable is
// configured), the file and TimescaleDB sinks (when configured) and the
// TCP telemetry server. Options override any of them.
func New(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	obs := o.obs
	if obs == nil {
		reg := o.reg
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		obs = observability.New("thermalscannerd", reg)
	}

	dialer := o.dialer
	if dialer == nil {
		var err error
		dialer, err = newDialer(cfg)
		if err != nil {
			return nil, err
		}
	}

	launch := o.launcher
	if launch == nil && cfg.Driver.Exe != "" {
		launch = launcher.New(cfg.Driver.Exe, nil, obs)
	}

	link, err := driverlink.New(cfg.Driver.Config, dialer, obs)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{cfg: cfg, obs: obs}

	if cfg.SaveFile != "" {
		fs, err := sink.NewFileSink(cfg.SaveFile)
		if err != nil {
			return nil, err
		}
		rt.sinks = append(rt.sinks, fs)
	}
	if cfg.Timescale.ConnString != "" {
		db, err := sql.Open("postgres", cfg.Timescale.ConnString)
		if err != nil {
			rt.closeSinks()
			return nil, fmt.Errorf("open timescale: %w", err)
		}
		// The sink owns the handle; closing the sink closes the pool.
		rt.sinks = append(rt.sinks, sink.NewTimescaleSink(db, cfg.Timescale.Table))
	}
	rt.sinks = append(rt.sinks, o.sinks...)

	srv, err := tcpserve.Listen(cfg.Server, obs)
	if err != nil {
		rt.closeSinks()
		return nil, err
	}
	rt.server = srv

	d, err := daemon.New(daemon.Options{
		Link:        link,
		Launcher:    launch,
		Server:      srv,
		Sinks:       rt.sinks,
		Obs:         obs,
		LaunchGrace: cfg.Driver.LaunchGrace,
	})
	if err != nil {
		rt.closeSinks()
		srv.Close()
		return nil, err
	}
	rt.daemon = d

	return rt, nil
}

// Addr is the bound telemetry address, useful when port 0 was requested.
func (r *Runtime) Addr() net.Addr { return r.server.Addr() }

// State reports the daemon's lifecycle position.
func (r *Runtime) State() State { return r.daemon.State() }

// Run starts the optional metrics endpoint and blocks in the daemon loop
// until ctx is cancelled or a fatal fault occurs, then tears everything
// down.
func (r *Runtime) Run(ctx context.Context) error {
	if r.cfg.Metrics.Addr != "" {
		r.startMetrics()
	}

	err := r.daemon.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := r.shutdown(shutdownCtx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{Addr: r.cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics server failed", err)
		}
	}()
}

func (r *Runtime) shutdown(ctx context.Context) error {
	var errs []error

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if err := r.server.Close(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, r.closeSinksErr()...)
	return errors.Join(errs...)
}

func (r *Runtime) closeSinks() {
	for _, s := range r.sinks {
		_ = s.Close()
	}
}

func (r *Runtime) closeSinksErr() []error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errs
}

func newDialer(cfg *Config) (ports.ConversationDialer, error) {
	switch cfg.Driver.Transport {
	case config.TransportBridge:
		return bridge.NewDialer(cfg.Bridge)
	case config.TransportOPCUA:
		return opcuaconv.NewDialer(cfg.OPCUA)
	default:
		return nil, fmt.Errorf("unknown driver transport %q", cfg.Driver.Transport)
	}
}
