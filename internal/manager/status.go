package manager

import (
	"strconv"
	"time"
)

// Status is the lifecycle state of a managed server.
//
//	stopped -> starting -> running -> stopping -> stopped
//	starting|running -> crashed (non-zero exit not caused by stop)
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusCrashed  Status = "crashed"
)

func (s Status) String() string { return string(s) }

// Live reports whether a process handle exists in this state.
func (s Status) Live() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusStopping
}

var allStatuses = []Status{StatusStopped, StatusStarting, StatusRunning, StatusStopping, StatusCrashed}

// State is a read-only view of a managed server.
type State struct {
	ID            int64     `json:"id"`
	Status        Status    `json:"status"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Restarts      int       `json:"restarts"`
	LastExitCode  int       `json:"last_exit_code"`
	LastError     string    `json:"last_error,omitempty"`
	ConsoleLines  int       `json:"console_lines"`
}

func label(id int64) string { return strconv.FormatInt(id, 10) }
