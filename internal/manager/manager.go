package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/sampler"
)

// Manager is the registry of supervised servers, keyed by server id. Records
// are created on first use and live as long as the Manager.
type Manager struct {
	src  ConfigSource
	opts options
	log  *slog.Logger

	mu      sync.RWMutex
	servers map[int64]*ManagedServer

	closing atomic.Bool
}

func New(src ConfigSource, opts ...Option) *Manager {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.sampler == nil {
		o.sampler = sampler.New(sampler.WithLogger(o.log))
	}
	return &Manager{
		src:     src,
		opts:    o,
		log:     o.log,
		servers: make(map[int64]*ManagedServer),
	}
}

func (m *Manager) lookup(id int64) (*ManagedServer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	return s, ok
}

// server returns the record for id, creating it when absent.
func (m *Manager) server(id int64) *ManagedServer {
	if s, ok := m.lookup(id); ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.servers[id]; ok {
		return s
	}
	s := newManagedServer(id, m)
	m.servers[id] = s
	for _, st := range allStatuses {
		metrics.SetCurrentState(label(id), st.String(), st == StatusStopped)
	}
	return s
}

func (m *Manager) snapshot() []*ManagedServer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ManagedServer, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	return out
}

// Start launches server id. It returns once the startup grace window has
// passed without the process exiting.
func (m *Manager) Start(ctx context.Context, id int64) (State, error) {
	return m.server(id).Start(ctx)
}

// Stop stops server id; force kills immediately without waiting.
func (m *Manager) Stop(ctx context.Context, id int64, force bool) error {
	return m.server(id).Stop(ctx, force)
}

// Restart stops server id if live, then starts it. reason is reported to
// alerts and history.
func (m *Manager) Restart(ctx context.Context, id int64, reason string) (State, error) {
	return m.server(id).Restart(ctx, reason)
}

func (m *Manager) SendCommand(id int64, text string) error {
	return m.server(id).SendCommand(text)
}

// Config resolves the launch configuration of id from the config source.
func (m *Manager) Config(ctx context.Context, id int64) (LaunchConfig, error) {
	return m.src.LaunchConfig(ctx, id)
}

// State never fails: an unknown id reports a stopped, empty record.
func (m *Manager) State(id int64) State {
	if s, ok := m.lookup(id); ok {
		return s.State()
	}
	return State{ID: id, Status: StatusStopped}
}

// States maps every known id to its status. Ids listed by the config
// source are included as stopped when they have no record yet.
func (m *Manager) States(ctx context.Context) map[int64]Status {
	out := make(map[int64]Status)
	if l, ok := m.src.(Lister); ok {
		ids, err := l.ServerIDs(ctx)
		if err != nil {
			m.log.Warn("list servers failed", "error", err)
		}
		for _, id := range ids {
			out[id] = StatusStopped
		}
	}
	for _, s := range m.snapshot() {
		out[s.id] = s.Status()
	}
	return out
}

// ResourceUsage samples the live process of id; zero usage when not live.
func (m *Manager) ResourceUsage(id int64) sampler.Usage {
	pid, startedAt, ok := m.server(id).liveProcess()
	if !ok {
		return sampler.Usage{}
	}
	return m.opts.sampler.Sample(pid, startedAt)
}

// UsageSamples reads every live server, keyed by metrics label.
func (m *Manager) UsageSamples() map[string]metrics.UsageSample {
	out := make(map[string]metrics.UsageSample)
	for _, s := range m.snapshot() {
		pid, startedAt, ok := s.liveProcess()
		if !ok {
			continue
		}
		u := m.opts.sampler.Sample(pid, startedAt)
		out[label(s.id)] = metrics.UsageSample{CPUPercent: u.CPUPercent, MemoryMB: u.MemoryMB}
	}
	return out
}

// Console returns a copy of the buffered console lines of id.
func (m *Manager) Console(id int64) []string {
	if s, ok := m.lookup(id); ok {
		return s.console.Snapshot()
	}
	return []string{}
}

// Subscribe returns the current console history and registers fn for every
// later line. No line is both in the snapshot and delivered to fn.
func (m *Manager) Subscribe(id int64, fn func(line string)) ([]string, func()) {
	s := m.server(id)
	snap, unsub := s.console.SnapshotAndSubscribe(fn)
	l := label(id)
	metrics.SetConsoleSubscribers(l, s.console.Subscribers())
	var once sync.Once
	return snap, func() {
		once.Do(func() {
			unsub()
			metrics.SetConsoleSubscribers(l, s.console.Subscribers())
		})
	}
}

// AutoStart starts each config flagged AutoStart, one after another.
// Failures are logged and do not stop the remaining starts.
func (m *Manager) AutoStart(ctx context.Context, cfgs []LaunchConfig) {
	for _, c := range cfgs {
		if !c.AutoStart {
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}
		m.log.Info("auto-starting server", "server", c.ID, "name", c.DisplayName())
		if _, err := m.Start(ctx, c.ID); err != nil {
			m.log.Error("auto-start failed", "server", c.ID, "error", err)
		}
	}
}

// AutoStartFromSource runs AutoStart over the source's flagged configs.
func (m *Manager) AutoStartFromSource(ctx context.Context) error {
	as, ok := m.src.(AutoStarter)
	if !ok {
		return nil
	}
	cfgs, err := as.AutoStartConfigs(ctx)
	if err != nil {
		return err
	}
	m.AutoStart(ctx, cfgs)
	return nil
}

// ShutdownAll cancels pending auto-restarts and gracefully stops every live
// server in parallel. Individual failures are logged.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.closing.Store(true)
	servers := m.snapshot()
	for _, s := range servers {
		s.cancelRestart()
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		if !s.Status().Live() {
			continue
		}
		g.Go(func() error {
			if err := s.Stop(gctx, false); err != nil && !errors.Is(err, ErrNotRunning) {
				m.log.Error("shutdown stop failed", "server", s.id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
