package manager

import (
	"log/slog"
	"time"

	"github.com/loykin/mcpanel/internal/alert"
	"github.com/loykin/mcpanel/internal/history"
	"github.com/loykin/mcpanel/internal/sampler"
)

// Supervision defaults.
const (
	DefaultStopTimeout   = 30 * time.Second
	DefaultRestartDelay  = 10 * time.Second
	DefaultRestartSettle = 2 * time.Second
	DefaultStartupGrace  = 1 * time.Second
	DefaultKillGrace     = 5 * time.Second
)

// ConsoleArchive receives every console line of every server.
type ConsoleArchive interface {
	Append(serverID int64, line string)
}

type options struct {
	log           *slog.Logger
	ready         ReadyFunc
	stopTimeout   time.Duration
	restartDelay  time.Duration
	restartSettle time.Duration
	startupGrace  time.Duration
	startTimeout  time.Duration
	killGrace     time.Duration
	sampler       *sampler.Sampler
	notifier      alert.Notifier
	history       history.Sink
	archive       ConsoleArchive
	env           []string
}

func defaultOptions() options {
	return options{
		log:           slog.Default(),
		ready:         MinecraftReady,
		stopTimeout:   DefaultStopTimeout,
		restartDelay:  DefaultRestartDelay,
		restartSettle: DefaultRestartSettle,
		startupGrace:  DefaultStartupGrace,
		killGrace:     DefaultKillGrace,
		notifier:      alert.Nop{},
	}
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithReadyFunc replaces the readiness matcher applied to stdout lines.
func WithReadyFunc(f ReadyFunc) Option {
	return func(o *options) {
		if f != nil {
			o.ready = f
		}
	}
}

// WithStopTimeout sets how long a graceful stop waits before force-killing.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithRestartDelay sets the delay before an auto-restart after a crash.
func WithRestartDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.restartDelay = d
		}
	}
}

// WithRestartSettle sets the pause between stop and start on Restart.
func WithRestartSettle(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.restartSettle = d
		}
	}
}

// WithStartupGrace sets how long Start watches for an immediate exit.
func WithStartupGrace(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.startupGrace = d
		}
	}
}

// WithStartTimeout bounds the starting state; a server that never prints
// its readiness marker is killed and marked crashed. Zero disables it.
func WithStartTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.startTimeout = d
		}
	}
}

// WithKillGrace sets how long after a watchdog kill the record waits for
// the reap before forcing the stopped state.
func WithKillGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.killGrace = d
		}
	}
}

func WithSampler(s *sampler.Sampler) Option {
	return func(o *options) { o.sampler = s }
}

func WithNotifier(n alert.Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

func WithHistory(sinks ...history.Sink) Option {
	return func(o *options) {
		switch len(sinks) {
		case 0:
			o.history = nil
		case 1:
			o.history = sinks[0]
		default:
			o.history = history.Multi(sinks)
		}
	}
}

func WithConsoleArchive(a ConsoleArchive) Option {
	return func(o *options) { o.archive = a }
}

// WithEnv sets the environment of spawned servers; nil inherits ours.
func WithEnv(env []string) Option {
	return func(o *options) { o.env = env }
}
