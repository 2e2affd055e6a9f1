package logger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// ConsoleArchive appends every console line of every server to
// Dir/server-<id>.console.log, rotated by lumberjack.
type ConsoleArchive struct {
	dir  string
	rot  FileConfig
	now  func() time.Time
	mu   sync.Mutex
	open map[int64]*lj.Logger
}

func NewConsoleArchive(dir string, rot FileConfig) *ConsoleArchive {
	return &ConsoleArchive{dir: dir, rot: rot, now: time.Now, open: make(map[int64]*lj.Logger)}
}

// Path is the archive file of a server.
func (a *ConsoleArchive) Path(serverID int64) string {
	return filepath.Join(a.dir, fmt.Sprintf("server-%d.console.log", serverID))
}

// Append writes one timestamped line. Write failures are dropped; the
// in-memory console is the primary record.
func (a *ConsoleArchive) Append(serverID int64, line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.open[serverID]
	if !ok {
		w = a.rot.writer(a.Path(serverID))
		a.open[serverID] = w
	}
	_, _ = w.Write([]byte(a.now().Format("2006-01-02 15:04:05") + " " + line + "\n"))
}

func (a *ConsoleArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for id, w := range a.open {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(a.open, id)
	}
	return errors.Join(errs...)
}
