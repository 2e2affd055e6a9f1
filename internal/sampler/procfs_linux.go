//go:build linux

package sampler

import (
	"fmt"
	"math"
	"time"

	"github.com/prometheus/procfs"
)

// ProcfsSource reads /proc/<pid>/stat directly.
type ProcfsSource struct{}

func NewProcfsSource() ProcfsSource { return ProcfsSource{} }

func (ProcfsSource) Name() string { return "procfs" }

func (ProcfsSource) Read(pid int) (Reading, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return Reading{}, fmt.Errorf("open procfs: %w", err)
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return Reading{}, fmt.Errorf("proc %d: %w", pid, err)
	}
	st, err := p.Stat()
	if err != nil {
		return Reading{}, fmt.Errorf("proc %d stat: %w", pid, err)
	}
	r := Reading{
		CPUSeconds: st.CPUTime(),
		RSSBytes:   uint64(st.ResidentMemory()),
	}
	if start, err := st.StartTime(); err == nil && start > 0 {
		sec, frac := math.Modf(start)
		// truncate to ms so repeated reads compare equal
		r.StartTime = time.Unix(int64(sec), int64(frac*1e3)*int64(time.Millisecond))
	}
	return r, nil
}
