package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcpanel/internal/history"
	mng "github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/metrics"
	"github.com/loykin/mcpanel/internal/sampler"
	"github.com/loykin/mcpanel/internal/scheduler"
)

// Supervisor is the manager surface the HTTP API drives.
type Supervisor interface {
	Config(ctx context.Context, id int64) (mng.LaunchConfig, error)
	Start(ctx context.Context, id int64) (mng.State, error)
	Stop(ctx context.Context, id int64, force bool) error
	Restart(ctx context.Context, id int64, reason string) (mng.State, error)
	SendCommand(id int64, text string) error
	State(id int64) mng.State
	States(ctx context.Context) map[int64]mng.Status
	ResourceUsage(id int64) sampler.Usage
	Console(id int64) []string
	Subscribe(id int64, fn func(line string)) ([]string, func())
}

// EventReader serves the lifecycle history of a server, newest first.
type EventReader interface {
	Events(ctx context.Context, serverID int64, limit int) ([]history.Event, error)
}

// ScheduleLister lists active schedules.
type ScheduleLister interface {
	Entries() []scheduler.Entry
}

// Router provides embeddable HTTP handlers for managing servers.
// Endpoints, relative to basePath:
//
//	GET    /servers                 id -> status
//	GET    /servers/:id             state
//	DELETE /servers/:id             stop and remove a stored server
//	POST   /servers/:id/start
//	POST   /servers/:id/stop        body: {"force": bool} (optional)
//	POST   /servers/:id/restart
//	POST   /servers/:id/command     body: {"command": "..."}
//	GET    /servers/:id/resources   cpu, memory, uptime
//	GET    /servers/:id/console     buffered console lines
//	GET    /servers/:id/events      lifecycle history (?limit=)
//	GET    /servers/:id/ws          live console websocket
//	GET    /servers/:id/schedules   stored schedules with next run
//	POST   /servers/:id/schedules   body: name, type, cron, command, message, enabled
//	PUT    /servers/:id/schedules/:schedId
//	DELETE /servers/:id/schedules/:schedId
//	POST   /servers/:id/schedules/:schedId/run
//	GET    /schedules               active schedules
//
// /healthz and, when enabled, /metrics are served outside basePath and
// without the token.
type Router struct {
	sup      Supervisor
	basePath string
	opts     options
}

type options struct {
	token          string
	events         EventReader
	schedules      ScheduleLister
	scheduleStore  ScheduleStore
	control        ScheduleControl
	deleter        ServerDeleter
	metrics        bool
	log            *slog.Logger
	statusInterval time.Duration
}

type Option func(*options)

// WithToken requires a static bearer token on every API route.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

func WithEvents(r EventReader) Option {
	return func(o *options) { o.events = r }
}

func WithSchedules(l ScheduleLister) Option {
	return func(o *options) { o.schedules = l }
}

// WithScheduleStore enables schedule management: changes are written to st
// and mirrored into sc, which also serves GET /schedules.
func WithScheduleStore(st ScheduleStore, sc ScheduleControl) Option {
	return func(o *options) {
		o.scheduleStore = st
		o.control = sc
		o.schedules = sc
	}
}

// WithServerDeleter enables DELETE /servers/:id.
func WithServerDeleter(d ServerDeleter) Option {
	return func(o *options) { o.deleter = d }
}

// WithMetrics mounts the prometheus handler at /metrics.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metrics = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithStatusInterval sets how often websocket clients receive the status.
func WithStatusInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.statusInterval = d
		}
	}
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/servers, /api/servers/:id/...
func NewRouter(sup Supervisor, basePath string, opts ...Option) *Router {
	o := options{log: slog.Default(), statusInterval: 5 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	return &Router{sup: sup, basePath: sanitizeBase(basePath), opts: o}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	if r.opts.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := g.Group(r.basePath, r.auth)
	api.GET("/servers", r.handleList)
	api.GET("/schedules", r.handleSchedules)

	one := api.Group("/servers/:id", r.resolve)
	one.GET("", r.handleState)
	one.POST("/start", r.handleStart)
	one.POST("/stop", r.handleStop)
	one.POST("/restart", r.handleRestart)
	one.POST("/command", r.handleCommand)
	one.GET("/resources", r.handleResources)
	one.GET("/console", r.handleConsole)
	one.GET("/events", r.handleEvents)
	one.GET("/ws", r.handleWS)
	one.DELETE("", r.handleDeleteServer)

	one.GET("/schedules", r.handleServerSchedules)
	one.POST("/schedules", r.handleCreateSchedule)
	sched := one.Group("/schedules/:schedId", r.resolveSchedule)
	sched.PUT("", r.handleUpdateSchedule)
	sched.DELETE("", r.handleDeleteSchedule)
	sched.POST("/run", r.handleRunSchedule)
	return g
}

// NewServer builds an HTTP server for h; tlsCfg may be nil.
func NewServer(addr string, h http.Handler, tlsCfg *tls.Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// a graceful stop may legitimately take the full stop timeout
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Middleware ---

func (r *Router) auth(c *gin.Context) {
	if r.opts.token == "" {
		c.Next()
		return
	}
	if !tokenMatches(bearerToken(c.Request), r.opts.token) {
		c.Header("WWW-Authenticate", "Bearer")
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "unauthorized"})
		c.Abort()
		return
	}
	c.Next()
}

const (
	ctxServerID = "server_id"
	ctxLaunch   = "launch"
)

// resolve validates :id and 404s servers the config source does not know.
func (r *Router) resolve(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server id"})
		c.Abort()
		return
	}
	lc, err := r.sup.Config(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		c.Abort()
		return
	}
	c.Set(ctxServerID, id)
	c.Set(ctxLaunch, lc)
	c.Next()
}

func serverID(c *gin.Context) int64 { return c.GetInt64(ctxServerID) }
