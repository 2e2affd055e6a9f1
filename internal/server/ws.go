package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	mng "github.com/loykin/mcpanel/internal/manager"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = maxCommandLen + 1024
	// lines queued for a slow client before it is disconnected
	sendQueue = 256
)

// wsMessage is the single frame shape used in both directions.
type wsMessage struct {
	Type    string     `json:"type"`
	Lines   []string   `json:"lines,omitempty"`
	Line    string     `json:"line,omitempty"`
	Status  mng.Status `json:"status,omitempty"`
	Command string     `json:"command,omitempty"`
	Error   string     `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  4096,
	// the bearer token guards the socket, not the origin
	CheckOrigin: func(*http.Request) bool { return true },
}

func (r *Router) handleWS(c *gin.Context) {
	id := serverID(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied
		r.opts.log.Debug("websocket upgrade failed", "server", id, "error", err)
		return
	}
	log := r.opts.log.With("server", id, "remote", c.Request.RemoteAddr)
	log.Debug("console client connected")

	send := make(chan wsMessage, sendQueue)
	overflow := make(chan struct{})
	var once sync.Once
	snap, unsub := r.sup.Subscribe(id, func(line string) {
		select {
		case send <- wsMessage{Type: "console", Line: line}:
		default:
			// runs on the console pump; never block it
			once.Do(func() { close(overflow) })
		}
	})
	defer unsub()

	done := make(chan struct{})
	go r.wsReader(conn, id, send, done)

	write := func(m wsMessage) error {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	defer func() { _ = conn.Close() }()

	if len(snap) > 0 {
		if write(wsMessage{Type: "buffer", Lines: snap}) != nil {
			return
		}
	}
	if write(wsMessage{Type: "status", Status: r.sup.State(id).Status}) != nil {
		return
	}

	status := time.NewTicker(r.opts.statusInterval)
	defer status.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		var err error
		select {
		case <-done:
			log.Debug("console client disconnected")
			return
		case <-overflow:
			log.Warn("console client too slow, disconnecting")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"), time.Now().Add(writeWait))
			return
		case m := <-send:
			err = write(m)
		case <-status.C:
			err = write(wsMessage{Type: "status", Status: r.sup.State(id).Status})
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			log.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// wsReader handles incoming command frames until the client goes away.
func (r *Router) wsReader(conn *websocket.Conn, id int64, send chan<- wsMessage, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var m wsMessage
		if json.Unmarshal(data, &m) != nil || m.Type != "command" {
			continue
		}
		if !validCommand(m.Command) {
			trySend(send, wsMessage{Type: "error", Error: "command must be a single non-empty line"})
			continue
		}
		if err := r.sup.SendCommand(id, m.Command); err != nil {
			trySend(send, wsMessage{Type: "error", Error: err.Error()})
		}
	}
}

func trySend(ch chan<- wsMessage, m wsMessage) {
	select {
	case ch <- m:
	default:
	}
}
