// Package scheduler runs cron-driven tasks against managed servers:
// scheduled restarts, console commands and broadcast messages.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/store"
)

// Task types.
const (
	TypeRestart = "restart"
	TypeCommand = "command"
	TypeMessage = "message"
	// TypeBackup is recognised so it can be rejected with a clear error.
	TypeBackup = "backup"
)

const (
	defaultCommand = "say Scheduled command"
	defaultMessage = "Scheduled message"

	// RestartReason is passed to the manager for scheduled restarts.
	RestartReason = "scheduled"
)

var (
	ErrUnsupportedType = errors.New("unsupported schedule type")
	ErrInvalidCron     = errors.New("invalid cron expression")
	ErrNotActive       = errors.New("schedule is not active")
)

// standard five-field expressions plus descriptors such as @daily
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Runner is the part of the manager a schedule acts on.
type Runner interface {
	Restart(ctx context.Context, id int64, reason string) (manager.State, error)
	SendCommand(id int64, text string) error
}

// RunRecorder persists the time of the last successful run.
type RunRecorder interface {
	MarkScheduleRun(ctx context.Context, id int64, at time.Time) error
}

// Validate checks a schedule before it is stored or scheduled.
func Validate(s store.Schedule) error {
	if s.ServerID <= 0 {
		return errors.New("schedule requires a server_id")
	}
	switch s.Type {
	case TypeRestart, TypeCommand, TypeMessage:
	case TypeBackup:
		return fmt.Errorf("%w: backups are not supported", ErrUnsupportedType)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, s.Type)
	}
	if _, err := parser.Parse(s.Cron); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCron, s.Cron, err)
	}
	return nil
}

// Entry is a scheduled task and its next fire time.
type Entry struct {
	Schedule store.Schedule `json:"schedule"`
	Next     time.Time      `json:"next"`
}

type options struct {
	log        *slog.Logger
	recorder   RunRecorder
	loc        *time.Location
	runTimeout time.Duration
	now        func() time.Time
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRecorder stores last_run after every successful run.
func WithRecorder(r RunRecorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithLocation evaluates expressions in loc instead of local time.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithRunTimeout bounds a single run, mostly a scheduled restart.
func WithRunTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.runTimeout = d
		}
	}
}

type Scheduler struct {
	runner Runner
	opts   options
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[int64]scheduled
	started bool
}

type scheduled struct {
	id    cron.EntryID
	sched store.Schedule
}

func New(r Runner, opts ...Option) *Scheduler {
	o := options{
		log:        slog.Default(),
		loc:        time.Local,
		runTimeout: 2 * time.Minute,
		now:        time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	cl := cronLogger{log: o.log}
	return &Scheduler{
		runner: r,
		opts:   o,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(o.loc),
			cron.WithLogger(cl),
			// a restart still in progress swallows the next tick
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		entries: make(map[int64]scheduled),
	}
}

// Add schedules s, replacing any schedule with the same id. A disabled
// schedule only removes the previous registration.
func (s *Scheduler) Add(sc store.Schedule) error {
	if sc.ID <= 0 {
		return errors.New("schedule requires an id")
	}
	if err := Validate(sc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sc.ID)
	if !sc.Enabled {
		return nil
	}
	id, err := s.cron.AddFunc(sc.Cron, func() { _ = s.run(sc) })
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidCron, sc.Cron, err)
	}
	s.entries[sc.ID] = scheduled{id: id, sched: sc}
	if s.started {
		s.publishNextLocked(sc.ID)
	}
	return nil
}

// Load adds every schedule, logging and skipping the invalid ones. It
// returns how many were scheduled.
func (s *Scheduler) Load(list []store.Schedule) int {
	n := 0
	for _, sc := range list {
		if err := s.Add(sc); err != nil {
			s.opts.log.Warn("schedule skipped", "schedule", sc.ID, "name", sc.Name, "error", err)
			continue
		}
		if sc.Enabled {
			n++
		}
	}
	s.opts.log.Info("schedules loaded", "count", n)
	return n
}

func (s *Scheduler) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id int64) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	s.cron.Remove(e.id)
	delete(s.entries, id)
	metrics.ClearSchedule(scheduleLabel(id))
}

// Entries lists the active schedules ordered by next run.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	byEntry := make(map[cron.EntryID]store.Schedule, len(s.entries))
	for _, e := range s.entries {
		byEntry[e.id] = e.sched
	}
	s.mu.Unlock()

	var out []Entry
	// cron.Entries is already sorted by next activation
	for _, ce := range s.cron.Entries() {
		if sc, ok := byEntry[ce.ID]; ok {
			next := ce.Next
			if next.IsZero() {
				next = ce.Schedule.Next(s.opts.now().In(s.opts.loc))
			}
			out = append(out, Entry{Schedule: sc, Next: next})
		}
	}
	return out
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	for id := range s.entries {
		s.publishNextLocked(id)
	}
}

// Stop halts scheduling and waits for running tasks until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes the schedule with the given id immediately.
func (s *Scheduler) RunNow(id int64) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %d: %w", id, ErrNotActive)
	}
	return s.run(e.sched)
}

func (s *Scheduler) run(sc store.Schedule) error {
	log := s.opts.log.With("schedule", sc.ID, "name", sc.Name, "type", sc.Type, "server", sc.ServerID)
	log.Info("executing scheduled task")

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.runTimeout)
	defer cancel()

	err := s.execute(ctx, sc)
	label := scheduleLabel(sc.ID)
	s.mu.Lock()
	s.publishNextLocked(sc.ID)
	s.mu.Unlock()
	if err != nil {
		metrics.IncScheduleRun(label, sc.Type, "error")
		log.Error("scheduled task failed", "error", err)
		return err
	}
	metrics.IncScheduleRun(label, sc.Type, "ok")
	if s.opts.recorder != nil {
		if rerr := s.opts.recorder.MarkScheduleRun(ctx, sc.ID, s.opts.now().UTC()); rerr != nil {
			log.Warn("failed to record last run", "error", rerr)
		}
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, sc store.Schedule) error {
	switch sc.Type {
	case TypeRestart:
		_, err := s.runner.Restart(ctx, sc.ServerID, RestartReason)
		return err
	case TypeCommand:
		cmd := strings.TrimSpace(sc.Command)
		if cmd == "" {
			cmd = defaultCommand
		}
		return s.runner.SendCommand(sc.ServerID, cmd)
	case TypeMessage:
		msg := strings.TrimSpace(sc.Message)
		if msg == "" {
			msg = defaultMessage
		}
		return s.runner.SendCommand(sc.ServerID, "say "+msg)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, sc.Type)
	}
}

func (s *Scheduler) publishNextLocked(id int64) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	next := s.cron.Entry(e.id).Next
	if next.IsZero() {
		return
	}
	metrics.SetScheduleNextRun(scheduleLabel(id), float64(next.Unix()))
}

func scheduleLabel(id int64) string { return strconv.FormatInt(id, 10) }

// cronLogger routes robfig/cron's logging into slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
