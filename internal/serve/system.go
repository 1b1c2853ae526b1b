package serve

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/devserve/config"
	"github.com/angeloszaimis/devserve/internal/broadcast"
	"github.com/angeloszaimis/devserve/internal/browser"
	"github.com/angeloszaimis/devserve/internal/healthcheck"
	"github.com/angeloszaimis/devserve/internal/httpserver"
	"github.com/angeloszaimis/devserve/internal/metrics"
	"github.com/angeloszaimis/devserve/internal/shutdown"
	"github.com/angeloszaimis/devserve/internal/watch"
)

const (
	buildDoneCapacity = 8
	metricsBufferSize = 256
)

// Watcher rebuilds the dist directory.
type Watcher interface {
	// Build runs one build.
	Build(ctx context.Context) error
	// Run watches for changes until shutdown.
	Run(ctx context.Context) error
}

// WatcherFactory builds the watcher. buildDone is nil when autoreload is
// disabled; otherwise the watcher owns it and must close it when Run ends.
type WatcherFactory func(sig *shutdown.Signal, buildDone *broadcast.Sender[struct{}]) (Watcher, error)

// System runs the watch loop and the network server.
type System struct {
	cfg       *config.Config
	watch     Watcher
	httpAddr  string
	shutdown  *shutdown.Signal
	buildDone *broadcast.Sender[struct{}]
	logger    *slog.Logger

	newWatcher     WatcherFactory
	listener       net.Listener
	openBrowser    func(string) error
	interfaceAddrs httpserver.InterfaceAddrsFunc
}

// New creates the serve system. It keeps its own handle on sig.
func New(cfg *config.Config, sig *shutdown.Signal, logger *slog.Logger, opts ...Option) (*System, error) {
	s := &System{
		cfg: cfg,
		httpAddr: fmt.Sprintf("%s://%s%s", cfg.Scheme(),
			net.JoinHostPort(cfg.Serve.Address, strconv.Itoa(cfg.Serve.Port)), cfg.Build.PublicURL),
		shutdown:       sig.Clone(),
		buildDone:      broadcast.New[struct{}](buildDoneCapacity),
		logger:         logger,
		openBrowser:    browser.Open,
		interfaceAddrs: net.InterfaceAddrs,
	}

	s.newWatcher = func(sig *shutdown.Signal, buildDone *broadcast.Sender[struct{}]) (Watcher, error) {
		return watch.New(cfg.Watch, cfg.Build, sig, buildDone, logger)
	}

	for _, opt := range opts {
		opt(s)
	}

	var watchDone *broadcast.Sender[struct{}]
	if !cfg.Serve.NoAutoreload {
		watchDone = s.buildDone.Clone()
	}

	w, err := s.newWatcher(s.shutdown, watchDone)
	if err != nil {
		if watchDone != nil {
			watchDone.Close()
		}
		s.buildDone.Close()
		s.shutdown.Close()
		return nil, fmt.Errorf("create watch system: %w", err)
	}
	s.watch = w

	return s, nil
}

// HTTPAddr is the address opened in the browser.
func (s *System) HTTPAddr() string {
	return s.httpAddr
}

// Run builds once, then serves and watches until shutdown. Only setup
// errors are returned; failures of the running tasks are logged.
func (s *System) Run(ctx context.Context) error {
	defer s.buildDone.Close()

	// TODO: gate serving on the initial build once existing setups no longer
	// rely on starting with a broken build.
	if err := s.watch.Build(ctx); err != nil {
		s.logger.Warn("Initial build failed", slog.String("err", err.Error()))
	}

	srv, err := s.prepareServer()
	if err != nil {
		if c, ok := s.watch.(interface{ Close() }); ok {
			c.Close()
		}
		s.shutdown.Close()
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		return s.runTask("watch", func() error { return s.watch.Run(ctx) })
	})
	g.Go(func() error {
		return s.runTask("server", func() error { return srv.run(ctx) })
	})

	if s.cfg.Serve.Open {
		if err := s.openBrowser(s.httpAddr); err != nil {
			s.logger.Error("Error opening browser", slog.String("err", err.Error()))
		}
	}

	s.shutdown.Close()

	_ = g.Wait()
	return nil
}

// runTask logs the task's error or panic and hands it to the group.
func (s *System) runTask(name string, fn func() error) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = fn() })

	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}

	if err != nil {
		s.logger.Error("Task failed", slog.String("task", name), slog.String("err", err.Error()))
	}

	return err
}

type runningServer struct {
	http      *httpserver.Server
	listener  *shutdown.Listener
	collector *metrics.Collector
	probes    []probe
	interval  time.Duration
	logger    *slog.Logger
}

type probe struct {
	target *healthcheck.Target
	client *http.Client
}

// prepareServer does everything that can fail before serving: TLS, router,
// and binding.
func (s *System) prepareServer() (*runningServer, error) {
	distDir, err := filepath.Abs(s.cfg.Build.Dist)
	if err != nil {
		return nil, fmt.Errorf("resolve dist dir: %w", err)
	}

	collector := metrics.NewCollector(metricsBufferSize, s.logger)
	state := NewState(distDir, s.cfg.Build.PublicURL, s.buildDone, s.cfg.Serve.NoAutoreload, s.logger, collector)

	router, routes, err := buildRouter(state, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	var tlsConfig *tls.Config
	if s.cfg.Serve.TLS.Enabled() {
		tlsConfig, err = httpserver.LoadTLSConfig(s.cfg.Serve.TLS.CertPath, s.cfg.Serve.TLS.KeyPath)
		if err != nil {
			return nil, err
		}
	}

	addr := net.JoinHostPort(s.cfg.Serve.Address, strconv.Itoa(s.cfg.Serve.Port))
	httpSrv, err := httpserver.New(addr, router, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}

	if s.listener != nil {
		httpSrv.UseListener(s.listener)
	}
	if err := httpSrv.Listen(); err != nil {
		return nil, err
	}

	port := s.cfg.Serve.Port
	if tcp, ok := httpSrv.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	httpserver.LogListening(s.logger,
		httpserver.ListenURLs(s.cfg.Scheme(), s.cfg.Serve.Address, port, s.interfaceAddrs))

	return &runningServer{
		http:      httpSrv,
		listener:  s.shutdown.Subscribe(),
		collector: collector,
		probes:    probesFor(state, routes),
		interval:  s.cfg.Serve.HealthEvery(),
		logger:    s.logger,
	}, nil
}

func probesFor(state *State, routes []route) []probe {
	probes := make([]probe, 0, len(routes))

	for _, rt := range routes {
		u := *rt.backend
		switch u.Scheme {
		case "ws":
			u.Scheme = "http"
		case "wss":
			u.Scheme = "https"
		}

		client := state.Client
		if rt.cfg.Insecure {
			client = state.InsecureClient
		}

		probes = append(probes, probe{
			target: healthcheck.NewTarget(rt.handler.Path(), &u),
			client: client,
		})
	}

	return probes
}

// run serves until the shutdown signal fires. Background probes and the
// metrics collector stop with it.
func (rs *runningServer) run(ctx context.Context) error {
	defer rs.listener.Close()

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rs.collector.Start(bgCtx)
	for _, p := range rs.probes {
		go healthcheck.HealthCheck(bgCtx, p.target, rs.interval, p.client, rs.logger, rs.collector)
	}

	err := rs.http.ServeUntil(rs.listener.Done())
	rs.logger.Debug("Server stopped")

	return err
}
