package store

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/mcpanel/internal/history"
	"github.com/loykin/mcpanel/internal/manager"
)

var ErrScheduleNotFound = errors.New("schedule not found")

// Server is a persisted launch configuration.
type Server struct {
	manager.LaunchConfig
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedule is a persisted cron task bound to one server.
// Type is one of "restart", "command" or "message".
type Schedule struct {
	ID       int64      `json:"id" mapstructure:"id"`
	ServerID int64      `json:"server_id" mapstructure:"server_id"`
	Name     string     `json:"name" mapstructure:"name"`
	Type     string     `json:"type" mapstructure:"type"`
	Cron     string     `json:"cron" mapstructure:"cron"`
	Command  string     `json:"command,omitempty" mapstructure:"command"`
	Message  string     `json:"message,omitempty" mapstructure:"message"`
	Enabled  bool       `json:"enabled" mapstructure:"enabled"`
	LastRun  *time.Time `json:"last_run,omitempty" mapstructure:"-"`
}

// Store persists launch configs, lifecycle events and schedules. It is the
// manager's ConfigSource and a history Sink.
type Store interface {
	manager.ConfigSource
	manager.Lister
	manager.AutoStarter
	history.Sink

	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// UpsertServer inserts c when c.ID is zero, otherwise creates or replaces
	// the row with that id. It returns the row id.
	UpsertServer(ctx context.Context, c manager.LaunchConfig) (int64, error)
	GetServer(ctx context.Context, id int64) (Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	DeleteServer(ctx context.Context, id int64) error

	// Events returns the newest events of a server first.
	Events(ctx context.Context, serverID int64, limit int) ([]history.Event, error)

	UpsertSchedule(ctx context.Context, s Schedule) (int64, error)
	GetSchedule(ctx context.Context, id int64) (Schedule, error)
	ListSchedules(ctx context.Context) ([]Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) error
	MarkScheduleRun(ctx context.Context, id int64, at time.Time) error
}
