package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcpanel/internal/manager"
	"github.com/loykin/mcpanel/internal/process"
	"github.com/loykin/mcpanel/internal/scheduler"
	"github.com/loykin/mcpanel/internal/store"
)

// maxCommandLen matches the longest line the server console accepts.
const maxCommandLen = 32767

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// parseID accepts positive decimal server ids only.
func parseID(s string) (int64, bool) {
	if s == "" || len(s) > 19 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// validCommand rejects empty commands and anything that would write more
// than one console line.
func validCommand(s string) bool {
	if strings.TrimSpace(s) == "" || len(s) > maxCommandLen {
		return false
	}
	if strings.ContainsAny(s, "\r\n\x00") {
		return false
	}
	return utf8.ValidString(s)
}

// bearerToken reads the token from the Authorization header, falling back
// to the token query parameter browsers must use for websockets.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// statusFor maps manager errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, manager.ErrServerNotFound),
		errors.Is(err, store.ErrScheduleNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrInvalidCron),
		errors.Is(err, scheduler.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, manager.ErrAlreadyRunning),
		errors.Is(err, manager.ErrNotRunning),
		errors.Is(err, manager.ErrStopping):
		return http.StatusConflict
	case errors.Is(err, manager.ErrJarNotFound),
		errors.Is(err, manager.ErrExitedDuringStartup),
		process.IsSpawnError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}
