package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/mcpanel/internal/console"
	"github.com/loykin/mcpanel/internal/history"
	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/process"
)

// Console lines written by the supervisor itself.
const consolePrefix = "[mcpanel] "

// run is one spawn of the server process. Events from a run that is no
// longer the record's current run are ignored.
type run struct {
	handle    *process.Handle
	launch    LaunchConfig
	watchdog  *time.Timer
	startTick *time.Timer

	done       chan struct{} // exit handled, status settled
	reported   chan struct{} // output drained and exit notes on the console
	pumped     chan struct{}
	delivering atomic.Bool // the pump is inside console fan-out
	doneOnce   sync.Once
	reportOnce sync.Once
}

func newRun(h *process.Handle, cfg LaunchConfig) *run {
	return &run{
		handle:   h,
		launch:   cfg,
		done:     make(chan struct{}),
		reported: make(chan struct{}),
		pumped:   make(chan struct{}),
	}
}

func (r *run) finish() { r.doneOnce.Do(func() { close(r.done) }) }

func (r *run) report() { r.reportOnce.Do(func() { close(r.reported) }) }

func (r *run) stopTimers() {
	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	if r.startTick != nil {
		r.startTick.Stop()
	}
}

// ManagedServer is the per-id supervision record.
//
// Lock order: op before mu. mu is never held while calling into the console
// buffer, the process handle's blocking paths, sinks or notifiers.
type ManagedServer struct {
	id      int64
	m       *Manager
	console *console.Buffer

	// op serializes Start, Stop and Restart.
	op sync.Mutex

	mu           sync.Mutex
	status       Status
	cur          *run
	launch       LaunchConfig
	startedAt    time.Time
	restartTimer *time.Timer
	restartSeq   uint64
	restarts     int
	lastExitCode int
	lastError    string
}

func newManagedServer(id int64, m *Manager) *ManagedServer {
	buf := console.NewDefault()
	buf.SetLogger(m.log)
	return &ManagedServer{id: id, m: m, console: buf, status: StatusStopped}
}

func (s *ManagedServer) ID() int64 { return s.id }

func (s *ManagedServer) name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.launch.Name != "" {
		return s.launch.Name
	}
	return fmt.Sprintf("server-%d", s.id)
}

// emit appends a line to the console and the archive.
func (s *ManagedServer) emit(line string) {
	s.console.Append(line)
	if a := s.m.opts.archive; a != nil {
		a.Append(s.id, line)
	}
}

// setStatusLocked changes status and returns the previous one. Callers must
// call transitioned after releasing mu.
func (s *ManagedServer) setStatusLocked(next Status) Status {
	prev := s.status
	s.status = next
	return prev
}

func (s *ManagedServer) transitioned(prev, next Status) {
	if prev == next {
		return
	}
	l := label(s.id)
	metrics.RecordStateTransition(l, prev.String(), next.String())
	metrics.SetCurrentState(l, prev.String(), false)
	metrics.SetCurrentState(l, next.String(), true)
	s.m.log.Info("server state changed", "server", s.id, "from", prev, "to", next)
}

func (s *ManagedServer) record(t history.EventType, pid, code int, reason string) {
	sink := s.m.opts.history
	if sink == nil {
		return
	}
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		ServerID:   s.id,
		Name:       s.name(),
		PID:        pid,
		ExitCode:   code,
		Reason:     reason,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Send(ctx, e); err != nil {
		s.m.log.Warn("history sink failed", "server", s.id, "event", t, "error", err)
	}
}

// State returns a consistent snapshot of the record.
func (s *ManagedServer) State() State {
	lines := s.console.Len()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		ID:           s.id,
		Status:       s.status,
		Restarts:     s.restarts,
		LastExitCode: s.lastExitCode,
		LastError:    s.lastError,
		ConsoleLines: lines,
	}
	if s.cur != nil {
		st.PID = s.cur.handle.PID()
		st.StartedAt = s.startedAt
		st.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	return st
}

// Status returns the lifecycle state.
func (s *ManagedServer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start spawns the server unless it is already live.
func (s *ManagedServer) Start(ctx context.Context) (State, error) {
	s.op.Lock()
	defer s.op.Unlock()
	return s.startLocked(ctx)
}

func (s *ManagedServer) startLocked(ctx context.Context) (State, error) {
	s.mu.Lock()
	switch s.status {
	case StatusStarting, StatusRunning:
		s.mu.Unlock()
		return State{}, ErrAlreadyRunning
	case StatusStopping:
		s.mu.Unlock()
		return State{}, ErrStopping
	}
	s.mu.Unlock()

	cfg, err := s.m.src.LaunchConfig(ctx, s.id)
	if err != nil {
		if errors.Is(err, ErrServerNotFound) {
			return State{}, fmt.Errorf("server %d: %w", s.id, err)
		}
		return State{}, fmt.Errorf("load launch config for server %d: %w", s.id, err)
	}
	cfg.ID = s.id
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return State{}, fmt.Errorf("server %d: %w", s.id, err)
	}
	if _, err := os.Stat(cfg.JarPath()); err != nil {
		return State{}, fmt.Errorf("%w: %s", ErrJarNotFound, cfg.JarPath())
	}

	s.mu.Lock()
	s.cancelRestartLocked()
	s.launch = cfg
	s.mu.Unlock()

	s.m.log.Info("starting server", "server", s.id, "name", cfg.DisplayName(), "java", cfg.JavaPath, "dir", cfg.ServerDir)
	h, err := process.Spawn(process.Options{
		Path: cfg.JavaPath,
		Args: cfg.Args(),
		Dir:  cfg.ServerDir,
		Env:  s.m.opts.env,
	})
	if err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		prev := s.setStatusLocked(StatusCrashed)
		s.mu.Unlock()
		s.transitioned(prev, StatusCrashed)
		s.emit(consolePrefix + "Failed to start: " + err.Error())
		s.m.log.Error("failed to spawn server", "server", s.id, "error", err)
		return State{}, err
	}

	r := newRun(h, cfg)
	s.mu.Lock()
	s.cur = r
	s.startedAt = h.StartedAt()
	s.lastError = ""
	prev := s.setStatusLocked(StatusStarting)
	if d := s.m.opts.startTimeout; d > 0 {
		r.startTick = time.AfterFunc(d, func() { s.onStartTimeout(r, d) })
	}
	s.mu.Unlock()
	s.transitioned(prev, StatusStarting)

	metrics.IncStart(label(s.id))
	s.record(history.EventStart, h.PID(), 0, "")

	go s.pump(r)
	go s.watch(r)

	if grace := s.m.opts.startupGrace; grace > 0 {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-h.Done():
			<-r.reported
			return s.State(), fmt.Errorf("%w: exit code %d", ErrExitedDuringStartup, h.ExitCode())
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return s.State(), nil
}

// pump feeds output into the console and detects readiness. Subscribers
// run on this goroutine, so the exit is handled by watch instead: a
// subscriber may stop or restart the server from its callback.
func (s *ManagedServer) pump(r *run) {
	defer close(r.pumped)
	ready := false
	for l := range r.handle.Lines() {
		r.delivering.Store(true)
		s.emit(l.Text)
		r.delivering.Store(false)
		if !ready && l.Stream == process.Stdout && s.m.opts.ready(l.Text) {
			ready = true
			s.onReady(r)
		}
	}
}

// watch settles the record as soon as the process is reaped, then writes
// the exit notes after the last output line.
func (s *ManagedServer) watch(r *run) {
	defer r.report()
	<-r.handle.Done()
	notes := s.onExit(r)
	<-r.pumped
	for _, n := range notes {
		s.emit(n)
	}
}

func (s *ManagedServer) onReady(r *run) {
	s.mu.Lock()
	if s.cur != r || s.status != StatusStarting {
		s.mu.Unlock()
		return
	}
	if r.startTick != nil {
		r.startTick.Stop()
	}
	prev := s.setStatusLocked(StatusRunning)
	s.mu.Unlock()
	s.transitioned(prev, StatusRunning)
	s.record(history.EventReady, r.handle.PID(), 0, "")
}

func (s *ManagedServer) onStartTimeout(r *run, d time.Duration) {
	s.mu.Lock()
	if s.cur != r || s.status != StatusStarting {
		s.mu.Unlock()
		return
	}
	s.lastError = fmt.Sprintf("not ready within %s", d)
	s.mu.Unlock()
	s.emit(fmt.Sprintf("%sServer did not become ready within %s, killing", consolePrefix, d))
	s.m.log.Warn("server start timed out", "server", s.id, "timeout", d)
	if err := r.handle.Kill(process.Forceful); err != nil {
		s.m.log.Error("kill after start timeout failed", "server", s.id, "error", err)
	}
}

// onExit updates state, metrics, history and alerts for an exited run and
// returns the console notes to append once output is drained.
func (s *ManagedServer) onExit(r *run) []string {
	h := r.handle
	code := h.ExitCode()
	if sp := s.m.opts.sampler; sp != nil {
		sp.Forget(h.PID())
	}

	s.mu.Lock()
	if s.cur != r {
		// detached by a forced stop; a newer run owns the exit code
		idle := s.cur == nil
		if idle {
			s.lastExitCode = code
		}
		s.mu.Unlock()
		if idle {
			metrics.ClearUsage(label(s.id))
		}
		r.finish()
		return nil
	}
	metrics.ClearUsage(label(s.id))
	r.stopTimers()
	s.cur = nil
	s.startedAt = time.Time{}
	s.lastExitCode = code
	next := StatusStopped
	if s.status != StatusStopping && code != 0 {
		next = StatusCrashed
	}
	prev := s.setStatusLocked(next)
	autoRestart := next == StatusCrashed && r.launch.AutoRestart && !s.m.closing.Load()
	if autoRestart {
		s.scheduleRestartLocked()
	}
	if next == StatusCrashed && s.lastError == "" {
		s.lastError = fmt.Sprintf("exit code %d", code)
	}
	s.mu.Unlock()

	s.transitioned(prev, next)
	var notes []string
	if next == StatusCrashed {
		notes = append(notes, fmt.Sprintf("%sServer crashed with exit code %d", consolePrefix, code))
		if autoRestart {
			notes = append(notes, fmt.Sprintf("%sAuto-restarting in %s...", consolePrefix, humanDelay(s.m.opts.restartDelay)))
		}
		s.m.log.Warn("server crashed", "server", s.id, "exit_code", code, "auto_restart", autoRestart)
		metrics.IncCrash(label(s.id))
		s.record(history.EventCrash, h.PID(), code, "")
		reason := fmt.Sprintf("Exit code %d.", code)
		if autoRestart {
			reason += fmt.Sprintf(" Auto-restart in %s.", humanDelay(s.m.opts.restartDelay))
		}
		s.m.opts.notifier.NotifyCrash(r.launch.DisplayName(), s.id, reason)
	} else {
		s.m.log.Info("server exited", "server", s.id, "exit_code", code, "requested", prev == StatusStopping)
		metrics.IncStop(label(s.id))
		s.record(history.EventStop, h.PID(), code, "")
	}
	r.finish()
	return notes
}

// Stop ends the live process. A graceful stop writes the stop command and
// waits for the exit, force-killing after the stop timeout. ctx only bounds
// the caller's wait.
func (s *ManagedServer) Stop(ctx context.Context, force bool) error {
	s.op.Lock()
	defer s.op.Unlock()
	return s.stopLocked(ctx, force)
}

func (s *ManagedServer) stopLocked(ctx context.Context, force bool) error {
	s.mu.Lock()
	s.cancelRestartLocked()
	r := s.cur
	if r == nil || !s.status.Live() {
		s.mu.Unlock()
		return ErrNotRunning
	}

	if force {
		r.stopTimers()
		s.cur = nil
		s.startedAt = time.Time{}
		prev := s.setStatusLocked(StatusStopped)
		s.mu.Unlock()
		s.transitioned(prev, StatusStopped)
		if err := r.handle.Kill(process.Forceful); err != nil {
			s.m.log.Error("force kill failed", "server", s.id, "error", err)
		}
		s.emit(consolePrefix + "Server killed")
		metrics.IncStop(label(s.id))
		s.record(history.EventStop, r.handle.PID(), 0, "forced")
		return nil
	}

	if s.status == StatusStopping {
		// join the stop already in progress
		s.mu.Unlock()
		return s.waitRun(ctx, r)
	}
	prev := s.setStatusLocked(StatusStopping)
	if r.startTick != nil {
		r.startTick.Stop()
	}
	timeout := s.m.opts.stopTimeout
	r.watchdog = time.AfterFunc(timeout, func() { s.onWatchdog(r, timeout) })
	s.mu.Unlock()
	s.transitioned(prev, StatusStopping)

	if err := r.handle.Kill(process.Graceful); err != nil {
		s.m.log.Warn("graceful stop write failed, waiting for watchdog", "server", s.id, "error", err)
	}
	return s.waitRun(ctx, r)
}

// waitRun returns once r has exited and its output reached the console.
// Called from a subscriber callback it returns without the output, which
// the blocked pump could never deliver.
func (s *ManagedServer) waitRun(ctx context.Context, r *run) error {
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.delivering.Load() {
		return nil
	}
	select {
	case <-r.reported:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ManagedServer) onWatchdog(r *run, timeout time.Duration) {
	s.mu.Lock()
	if s.cur != r || s.status != StatusStopping {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.m.log.Warn("server did not stop in time, killing", "server", s.id, "timeout", timeout)
	s.emit(fmt.Sprintf("%sServer did not stop within %s, killing", consolePrefix, humanDelay(timeout)))
	if err := r.handle.Kill(process.Forceful); err != nil {
		s.m.log.Error("watchdog kill failed", "server", s.id, "error", err)
	}

	grace := s.m.opts.killGrace
	select {
	case <-r.done:
		return
	case <-time.After(grace):
	}

	s.mu.Lock()
	if s.cur != r {
		s.mu.Unlock()
		return
	}
	s.cur = nil
	s.startedAt = time.Time{}
	prev := s.setStatusLocked(StatusStopped)
	s.lastError = "process not reaped after kill"
	s.mu.Unlock()
	s.transitioned(prev, StatusStopped)
	s.m.log.Error("server not reaped after kill, marking stopped", "server", s.id, "pid", r.handle.PID())
	r.finish()
	r.report()
}

// Restart stops a live process, waits for the settle delay and starts again.
func (s *ManagedServer) Restart(ctx context.Context, reason string) (State, error) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	live := s.cur != nil
	s.mu.Unlock()
	if live {
		if err := s.stopLocked(ctx, false); err != nil && !errors.Is(err, ErrNotRunning) {
			return State{}, err
		}
		if d := s.m.opts.restartSettle; d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return State{}, ctx.Err()
			}
		}
	}
	st, err := s.startLocked(ctx)
	if err != nil {
		return st, err
	}
	s.restarted(reason)
	return s.State(), nil
}

func (s *ManagedServer) restarted(reason string) {
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	if reason == "" {
		reason = "manual"
	}
	metrics.IncRestart(label(s.id), reason)
	s.record(history.EventRestart, 0, 0, reason)
	s.m.opts.notifier.NotifyRestart(s.name(), s.id, reason)
}

func (s *ManagedServer) scheduleRestartLocked() {
	s.cancelRestartLocked()
	seq := s.restartSeq
	s.restartTimer = time.AfterFunc(s.m.opts.restartDelay, func() { s.autoRestart(seq) })
}

func (s *ManagedServer) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.restartSeq++
}

func (s *ManagedServer) autoRestart(seq uint64) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if seq != s.restartSeq || s.restartTimer == nil || s.status != StatusCrashed || s.m.closing.Load() {
		s.mu.Unlock()
		return
	}
	s.restartTimer = nil
	s.mu.Unlock()

	s.m.log.Info("auto-restarting crashed server", "server", s.id)
	if _, err := s.startLocked(context.Background()); err != nil {
		s.m.log.Error("auto-restart failed", "server", s.id, "error", err)
		return
	}
	s.restarted("auto-restart after crash")
}

// SendCommand writes text to the server's stdin and echoes it to the console.
func (s *ManagedServer) SendCommand(text string) error {
	s.mu.Lock()
	r := s.cur
	live := s.status.Live()
	s.mu.Unlock()
	if r == nil || !live {
		return ErrNotRunning
	}
	if err := r.handle.WriteLine(text); err != nil {
		if errors.Is(err, process.ErrProcessExited) {
			s.m.log.Debug("command dropped, process exited", "server", s.id)
			return nil
		}
		return fmt.Errorf("send command: %w", err)
	}
	s.emit("> " + text)
	return nil
}

func (s *ManagedServer) liveProcess() (pid int, startedAt time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return 0, time.Time{}, false
	}
	return s.cur.handle.PID(), s.startedAt, true
}

func (s *ManagedServer) cancelRestart() {
	s.mu.Lock()
	s.cancelRestartLocked()
	s.mu.Unlock()
}

func humanDelay(d time.Duration) string {
	if d >= time.Second && d%time.Second == 0 {
		n := int(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	}
	return d.String()
}
