package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/mcpanel/internal/store"
)

var Dialect = store.Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS servers(
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			java_path TEXT NOT NULL DEFAULT '',
			server_dir TEXT NOT NULL,
			memory_min TEXT NOT NULL DEFAULT '',
			memory_max TEXT NOT NULL DEFAULT '',
			jvm_args TEXT NOT NULL DEFAULT '[]',
			jar_file TEXT NOT NULL DEFAULT '',
			auto_start BOOLEAN NOT NULL DEFAULT false,
			auto_restart BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS server_events(
			id BIGSERIAL PRIMARY KEY,
			server_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			pid INTEGER NOT NULL DEFAULT 0,
			exit_code INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_server_events_server ON server_events(server_id, occurred_at);`,
		`CREATE TABLE IF NOT EXISTS schedules(
			id BIGSERIAL PRIMARY KEY,
			server_id BIGINT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			cron TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT true,
			last_run TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_server ON schedules(server_id);`,
	},
	// keep BIGSERIAL ahead of ids inserted explicitly from the config file
	SyncSequence: `SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), (SELECT MAX(id) FROM %[1]s));`,
}

func New(dsn string) (*store.DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return store.NewDB(d, Dialect), nil
}
