package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcpanel/internal/history"
	mng "github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/scheduler"
)

type serverView struct {
	mng.State
	Name string `json:"name"`
}

type stopReq struct {
	Force bool `json:"force"`
}

type commandReq struct {
	Command string `json:"command"`
}

type consoleResp struct {
	Lines []string `json:"lines"`
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

func (r *Router) handleList(c *gin.Context) {
	sts := r.sup.States(c.Request.Context())
	out := make(map[string]mng.Status, len(sts))
	for id, st := range sts {
		out[strconv.FormatInt(id, 10)] = st
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) view(c *gin.Context, st mng.State) serverView {
	v := serverView{State: st}
	if lc, ok := c.Get(ctxLaunch); ok {
		v.Name = lc.(mng.LaunchConfig).DisplayName()
	}
	return v
}

func (r *Router) handleState(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.view(c, r.sup.State(serverID(c))))
}

func (r *Router) handleStart(c *gin.Context) {
	st, err := r.sup.Start(c.Request.Context(), serverID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r.view(c, st))
}

func (r *Router) handleStop(c *gin.Context) {
	var req stopReq
	// empty body means a graceful stop
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.sup.Stop(c.Request.Context(), serverID(c), req.Force); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	st, err := r.sup.Restart(c.Request.Context(), serverID(c), "manual")
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r.view(c, st))
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !validCommand(req.Command) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command must be a single non-empty line"})
		return
	}
	if err := r.sup.SendCommand(serverID(c), req.Command); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResources(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.ResourceUsage(serverID(c)))
}

func (r *Router) handleConsole(c *gin.Context) {
	writeJSON(c, http.StatusOK, consoleResp{Lines: r.sup.Console(serverID(c))})
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.opts.events == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "event history is not stored"})
		return
	}
	limit := defaultEventLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive number"})
			return
		}
		limit = min(n, maxEventLimit)
	}
	evs, err := r.opts.events.Events(c.Request.Context(), serverID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}

func (r *Router) handleSchedules(c *gin.Context) {
	entries := []scheduler.Entry{}
	if r.opts.schedules != nil {
		entries = append(entries, r.opts.schedules.Entries()...)
	}
	writeJSON(c, http.StatusOK, entries)
}
