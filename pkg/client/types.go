package client

import (
	"fmt"
	"net/http"
	"time"
)

// ServerState is the state of one managed server.
type ServerState struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Restarts      int       `json:"restarts"`
	LastExitCode  int       `json:"last_exit_code"`
	LastError     string    `json:"last_error,omitempty"`
	ConsoleLines  int       `json:"console_lines"`
}

// Resources is a point-in-time usage sample.
type Resources struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Uptime int64   `json:"uptime"`
}

// Event is one lifecycle history entry.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	ServerID   int64     `json:"server_id"`
	Name       string    `json:"name,omitempty"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// ScheduleSpec is a stored cron task bound to one server. Type is one of
// "restart", "command" or "message".
type ScheduleSpec struct {
	ID       int64      `json:"id,omitempty"`
	ServerID int64      `json:"server_id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Cron     string     `json:"cron"`
	Command  string     `json:"command,omitempty"`
	Message  string     `json:"message,omitempty"`
	Enabled  bool       `json:"enabled"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}

// Schedule is a scheduled task and its next fire time, zero when the task
// is disabled.
type Schedule struct {
	Schedule ScheduleSpec `json:"schedule"`
	Next     time.Time    `json:"next"`
}

// ConsoleMessage is a frame of the live console stream: "buffer" carries
// Lines, "console" a single Line, "status" the Status, "error" an Error.
type ConsoleMessage struct {
	Type    string   `json:"type"`
	Lines   []string `json:"lines,omitempty"`
	Line    string   `json:"line,omitempty"`
	Status  string   `json:"status,omitempty"`
	Command string   `json:"command,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx reply from the panel.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// NotFound reports an unknown server.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// Conflict reports a request the server's current state does not allow,
// such as starting a running server.
func (e *APIError) Conflict() bool { return e.StatusCode == http.StatusConflict }
