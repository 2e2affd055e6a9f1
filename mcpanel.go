// Package mcpanel embeds the Minecraft server supervisor: a store of launch
// configs, the process manager, the cron scheduler and the HTTP API.
package mcpanel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/mcpanel/internal/alert"
	"github.com/loykin/mcpanel/internal/config"
	"github.com/loykin/mcpanel/internal/history"
	hfactory "github.com/loykin/mcpanel/internal/history/factory"
	"github.com/loykin/mcpanel/internal/logger"
	"github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/sampler"
	"github.com/loykin/mcpanel/internal/scheduler"
	"github.com/loykin/mcpanel/internal/server"
	"github.com/loykin/mcpanel/internal/store"
	sfactory "github.com/loykin/mcpanel/internal/store/factory"
	mtls "github.com/loykin/mcpanel/internal/tls"
)

// Re-exported so embedders can build configs without internal imports.
type (
	Config       = config.Config
	LaunchConfig = manager.LaunchConfig
	Schedule     = store.Schedule
	State        = manager.State
)

// LoadConfig reads a TOML config file; an empty path yields the defaults
// with MCPANEL_* environment overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Panel is a fully wired daemon: store, manager, scheduler and HTTP server.
type Panel struct {
	cfg     config.Config
	log     *slog.Logger
	closers []io.Closer

	store   store.Store
	mgr     *manager.Manager
	sched   *scheduler.Scheduler
	usage   *metrics.UsageCollector
	archive *logger.ConsoleArchive
	notify  alert.Notifier
	http    *http.Server

	mu sync.Mutex
	ln net.Listener
}

// New builds every component from cfg without starting servers. Logs go to
// logOut unless cfg.Log names a file.
func New(ctx context.Context, cfg Config, logOut io.Writer) (*Panel, error) {
	log, logCloser := logger.New(cfg.Log, logOut)
	a := &Panel{cfg: cfg, log: log, closers: []io.Closer{logCloser}}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	st, err := sfactory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st)
	if err := st.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("store schema: %w", err)
	}
	for _, s := range cfg.Servers {
		if _, err := st.UpsertServer(ctx, s); err != nil {
			return nil, fmt.Errorf("register server %d: %w", s.ID, err)
		}
	}
	for _, sc := range cfg.Schedules {
		if _, err := st.UpsertSchedule(ctx, sc); err != nil {
			return nil, fmt.Errorf("register schedule %q: %w", sc.Name, err)
		}
	}

	var sinks []history.Sink
	if cfg.History.InStore {
		sinks = append(sinks, st)
	}
	for _, dsn := range cfg.History.Sinks {
		sink, err := hfactory.NewSinkFromDSN(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		if c, ok := sink.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
		sinks = append(sinks, sink)
	}

	env, err := cfg.ChildEnv()
	if err != nil {
		return nil, fmt.Errorf("server environment: %w", err)
	}

	a.notify = alert.NewDiscord(cfg.Alerts, log)
	opts := []manager.Option{
		manager.WithLogger(log),
		manager.WithStopTimeout(cfg.Supervisor.StopTimeout),
		manager.WithRestartDelay(cfg.Supervisor.RestartDelay),
		manager.WithRestartSettle(cfg.Supervisor.RestartSettle),
		manager.WithStartupGrace(cfg.Supervisor.StartupGrace),
		manager.WithStartTimeout(cfg.Supervisor.StartTimeout),
		manager.WithKillGrace(cfg.Supervisor.KillGrace),
		manager.WithSampler(sampler.New(sampler.WithLogger(log))),
		manager.WithNotifier(a.notify),
		manager.WithHistory(sinks...),
		manager.WithEnv(env),
	}
	if len(cfg.Supervisor.ReadyMarkers) > 0 {
		opts = append(opts, manager.WithReadyFunc(manager.MarkersReady(cfg.Supervisor.ReadyMarkers...)))
	}
	if cfg.Log.ConsoleDir != "" {
		if err := os.MkdirAll(cfg.Log.ConsoleDir, 0o750); err != nil {
			return nil, fmt.Errorf("console dir: %w", err)
		}
		a.archive = logger.NewConsoleArchive(cfg.Log.ConsoleDir, cfg.Log.File)
		a.closers = append(a.closers, a.archive)
		opts = append(opts, manager.WithConsoleArchive(a.archive))
	}
	a.mgr = manager.New(st, opts...)

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		a.usage = metrics.NewUsageCollector(cfg.Metrics.SampleInterval, a.mgr.UsageSamples, log)
	}

	a.sched = scheduler.New(a.mgr, scheduler.WithLogger(log), scheduler.WithRecorder(st))
	list, err := st.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	a.sched.Load(list)

	tlsCfg, err := mtls.SetupTLS(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil && cfg.Server.TLS != nil {
		if fp, err := mtls.Fingerprint(mtls.CertPath(*cfg.Server.TLS)); err == nil {
			log.Info("tls enabled", "sha256", fp)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(a.mgr, cfg.Server.BasePath,
		server.WithToken(cfg.Server.Token),
		server.WithEvents(st),
		server.WithScheduleStore(st, a.sched),
		server.WithServerDeleter(st),
		server.WithMetrics(cfg.Metrics.Enabled),
		server.WithLogger(log),
	)
	a.http = server.NewServer(cfg.Server.Listen, router.Handler(), tlsCfg)

	ok = true
	return a, nil
}

// Manager exposes the supervisor for direct control.
func (a *Panel) Manager() *manager.Manager { return a.mgr }

// Addr is the bound listen address once Run is serving.
func (a *Panel) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Run serves until ctx is cancelled, then stops every server and releases
// the store. A Panel cannot be run twice.
func (a *Panel) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Listen, err)
	}
	a.mu.Lock()
	a.ln = ln
	a.mu.Unlock()
	proto := "http"
	if a.http.TLSConfig != nil {
		proto = "https"
	}
	a.log.Info("mcpanel listening", "addr", ln.Addr().String(), "proto", proto, "base_path", a.cfg.Server.BasePath)

	if a.usage != nil {
		a.usage.Start(ctx)
	}
	a.sched.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if a.http.TLSConfig != nil {
			err = a.http.ServeTLS(ln, "", "")
		} else {
			err = a.http.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		// let the panel come up before flagged servers start
		select {
		case <-gctx.Done():
			return nil
		case <-time.After(a.cfg.Supervisor.AutoStartDelay):
		}
		if err := a.mgr.AutoStartFromSource(gctx); err != nil {
			a.log.Error("auto-start failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})
	err = g.Wait()
	a.close()
	return err
}

// shutdown stops accepting requests, then stops every server.
func (a *Panel) shutdown() {
	a.log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Supervisor.StopTimeout+a.cfg.Supervisor.KillGrace+5*time.Second)
	defer cancel()
	if a.usage != nil {
		a.usage.Stop()
	}
	if err := a.sched.Stop(ctx); err != nil {
		a.log.Warn("scheduler stop", "error", err)
	}
	if err := a.http.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown", "error", err)
		_ = a.http.Close()
	}
	if err := a.mgr.ShutdownAll(ctx); err != nil {
		a.log.Error("shutdown servers", "error", err)
	}
	if d, ok := a.notify.(*alert.Discord); ok {
		d.Wait()
	}
}

func (a *Panel) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}
