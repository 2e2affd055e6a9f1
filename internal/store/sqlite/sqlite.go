package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/mcpanel/internal/store"
)

// Dialect is the SQLite flavour of the store schema.
var Dialect = store.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS servers(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			java_path TEXT NOT NULL DEFAULT '',
			server_dir TEXT NOT NULL,
			memory_min TEXT NOT NULL DEFAULT '',
			memory_max TEXT NOT NULL DEFAULT '',
			jvm_args TEXT NOT NULL DEFAULT '[]',
			jar_file TEXT NOT NULL DEFAULT '',
			auto_start BOOLEAN NOT NULL DEFAULT 0,
			auto_restart BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS server_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			pid INTEGER NOT NULL DEFAULT 0,
			exit_code INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_server_events_server ON server_events(server_id, occurred_at);`,
		`CREATE TABLE IF NOT EXISTS schedules(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server_id INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			cron TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT 1,
			last_run TIMESTAMP NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_server ON schedules(server_id);`,
	},
}

// New opens a SQLite database at path (modernc.org/sqlite driver, CGO-free).
// Use ":memory:" for an in-memory database.
func New(path string) (*store.DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection: an in-memory database is per connection, and sqlite
	// serializes writers anyway
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return store.NewDB(d, Dialect), nil
}
