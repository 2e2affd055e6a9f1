package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/mcpanel/internal/history"
	"github.com/loykin/mcpanel/internal/manager"
)

// Dialect carries what differs between SQL engines. Queries are written
// with "?" placeholders and rebound for engines using "$n".
type Dialect struct {
	Name         string
	Numbered     bool
	Schema       []string
	SyncSequence string // format with the table name; run after inserting an explicit id
}

// DB implements Store over database/sql.
type DB struct {
	db *sql.DB
	d  Dialect
}

var _ Store = (*DB)(nil)

// NewDB wraps an opened database handle.
func NewDB(db *sql.DB, d Dialect) *DB {
	return &DB{db: db, d: d}
}

func (s *DB) Dialect() string { return s.d.Name }

func (s *DB) rebind(q string) string {
	if !s.d.Numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *DB) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	for _, q := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.Name, err)
		}
	}
	return nil
}

func (s *DB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *DB) Close() error { return s.db.Close() }

const serverColumns = `id, name, java_path, server_dir, memory_min, memory_max, jvm_args, jar_file, auto_start, auto_restart, created_at, updated_at`

func (s *DB) UpsertServer(ctx context.Context, c manager.LaunchConfig) (int64, error) {
	if strings.TrimSpace(c.ServerDir) == "" {
		return 0, errors.New("server_dir is required")
	}
	args := c.JVMArgs
	if args == nil {
		args = []string{}
	}
	jvm, err := json.Marshal(args)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if c.ID == 0 {
		var id int64
		err := s.queryRow(ctx, `
			INSERT INTO servers(name, java_path, server_dir, memory_min, memory_max, jvm_args, jar_file, auto_start, auto_restart, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id;`,
			c.Name, c.JavaPath, c.ServerDir, c.MemoryMin, c.MemoryMax, string(jvm), c.JarFile, c.AutoStart, c.AutoRestart, now, now,
		).Scan(&id)
		return id, err
	}
	_, err = s.exec(ctx, `
		INSERT INTO servers(id, name, java_path, server_dir, memory_min, memory_max, jvm_args, jar_file, auto_start, auto_restart, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			java_path=excluded.java_path,
			server_dir=excluded.server_dir,
			memory_min=excluded.memory_min,
			memory_max=excluded.memory_max,
			jvm_args=excluded.jvm_args,
			jar_file=excluded.jar_file,
			auto_start=excluded.auto_start,
			auto_restart=excluded.auto_restart,
			updated_at=excluded.updated_at;`,
		c.ID, c.Name, c.JavaPath, c.ServerDir, c.MemoryMin, c.MemoryMax, string(jvm), c.JarFile, c.AutoStart, c.AutoRestart, now, now)
	if err != nil {
		return 0, err
	}
	if err := s.syncSequence(ctx, "servers"); err != nil {
		return 0, err
	}
	return c.ID, nil
}

func (s *DB) syncSequence(ctx context.Context, table string) error {
	if s.d.SyncSequence == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.d.SyncSequence, table)); err != nil {
		return fmt.Errorf("sync %s id sequence: %w", table, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(r rowScanner) (Server, error) {
	var (
		sv  Server
		jvm string
	)
	err := r.Scan(&sv.ID, &sv.Name, &sv.JavaPath, &sv.ServerDir, &sv.MemoryMin, &sv.MemoryMax,
		&jvm, &sv.JarFile, &sv.AutoStart, &sv.AutoRestart, &sv.CreatedAt, &sv.UpdatedAt)
	if err != nil {
		return Server{}, err
	}
	if jvm != "" {
		if err := json.Unmarshal([]byte(jvm), &sv.JVMArgs); err != nil {
			return Server{}, fmt.Errorf("server %d jvm_args: %w", sv.ID, err)
		}
	}
	return sv, nil
}

func (s *DB) GetServer(ctx context.Context, id int64) (Server, error) {
	row := s.queryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id=?;`, id)
	sv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, fmt.Errorf("server %d: %w", id, manager.ErrServerNotFound)
	}
	return sv, err
}

func (s *DB) ListServers(ctx context.Context) ([]Server, error) {
	return s.listServers(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id;`)
}

func (s *DB) listServers(ctx context.Context, q string, args ...any) ([]Server, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Server, 0)
	for rows.Next() {
		sv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

// DeleteServer removes the server and its schedules. Its events are kept.
func (s *DB) DeleteServer(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM schedules WHERE server_id=?;`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM servers WHERE id=?;`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("server %d: %w", id, manager.ErrServerNotFound)
	}
	return tx.Commit()
}

// LaunchConfig satisfies manager.ConfigSource.
func (s *DB) LaunchConfig(ctx context.Context, id int64) (manager.LaunchConfig, error) {
	sv, err := s.GetServer(ctx, id)
	if err != nil {
		return manager.LaunchConfig{}, err
	}
	return sv.LaunchConfig, nil
}

func (s *DB) ServerIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.query(ctx, `SELECT id FROM servers ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *DB) AutoStartConfigs(ctx context.Context) ([]manager.LaunchConfig, error) {
	servers, err := s.listServers(ctx, `SELECT `+serverColumns+` FROM servers WHERE auto_start=? ORDER BY id;`, true)
	if err != nil {
		return nil, err
	}
	out := make([]manager.LaunchConfig, 0, len(servers))
	for _, sv := range servers {
		out = append(out, sv.LaunchConfig)
	}
	return out, nil
}

// Send records a lifecycle event in server_events.
func (s *DB) Send(ctx context.Context, e history.Event) error {
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO server_events(server_id, type, occurred_at, name, pid, exit_code, reason)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		e.ServerID, string(e.Type), at.UTC(), e.Name, e.PID, e.ExitCode, e.Reason)
	return err
}

func (s *DB) Events(ctx context.Context, serverID int64, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `
		SELECT server_id, type, occurred_at, name, pid, exit_code, reason
		FROM server_events
		WHERE server_id=?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?;`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]history.Event, 0)
	for rows.Next() {
		var (
			e   history.Event
			typ string
		)
		if err := rows.Scan(&e.ServerID, &typ, &e.OccurredAt, &e.Name, &e.PID, &e.ExitCode, &e.Reason); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) UpsertSchedule(ctx context.Context, sc Schedule) (int64, error) {
	if sc.ServerID == 0 || strings.TrimSpace(sc.Cron) == "" || strings.TrimSpace(sc.Type) == "" {
		return 0, errors.New("schedule needs server_id, type and cron")
	}
	if sc.ID == 0 {
		var id int64
		err := s.queryRow(ctx, `
			INSERT INTO schedules(server_id, name, type, cron, command, message, enabled)
			VALUES(?, ?, ?, ?, ?, ?, ?)
			RETURNING id;`,
			sc.ServerID, sc.Name, sc.Type, sc.Cron, sc.Command, sc.Message, sc.Enabled,
		).Scan(&id)
		return id, err
	}
	_, err := s.exec(ctx, `
		INSERT INTO schedules(id, server_id, name, type, cron, command, message, enabled)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			server_id=excluded.server_id,
			name=excluded.name,
			type=excluded.type,
			cron=excluded.cron,
			command=excluded.command,
			message=excluded.message,
			enabled=excluded.enabled;`,
		sc.ID, sc.ServerID, sc.Name, sc.Type, sc.Cron, sc.Command, sc.Message, sc.Enabled)
	if err != nil {
		return 0, err
	}
	if err := s.syncSequence(ctx, "schedules"); err != nil {
		return 0, err
	}
	return sc.ID, nil
}

const scheduleColumns = `id, server_id, name, type, cron, command, message, enabled, last_run`

func scanSchedule(r rowScanner) (Schedule, error) {
	var (
		sc      Schedule
		lastRun sql.NullTime
	)
	if err := r.Scan(&sc.ID, &sc.ServerID, &sc.Name, &sc.Type, &sc.Cron, &sc.Command, &sc.Message, &sc.Enabled, &lastRun); err != nil {
		return Schedule{}, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		sc.LastRun = &t
	}
	return sc, nil
}

func (s *DB) GetSchedule(ctx context.Context, id int64) (Schedule, error) {
	sc, err := scanSchedule(s.queryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, fmt.Errorf("schedule %d: %w", id, ErrScheduleNotFound)
	}
	return sc, err
}

func (s *DB) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.query(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Schedule, 0)
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *DB) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM schedules WHERE id=?;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrScheduleNotFound)
	}
	return nil
}

func (s *DB) MarkScheduleRun(ctx context.Context, id int64, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE schedules SET last_run=? WHERE id=?;`, at.UTC(), id)
	return err
}
