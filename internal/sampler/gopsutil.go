package sampler

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// GopsutilSource reads process counters through gopsutil.
type GopsutilSource struct{}

func NewGopsutilSource() GopsutilSource { return GopsutilSource{} }

func (GopsutilSource) Name() string { return "gopsutil" }

func (GopsutilSource) Read(pid int) (Reading, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Reading{}, fmt.Errorf("open process %d: %w", pid, err)
	}
	times, err := proc.Times()
	if err != nil {
		return Reading{}, fmt.Errorf("cpu times: %w", err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Reading{}, fmt.Errorf("memory info: %w", err)
	}
	r := Reading{
		CPUSeconds: times.User + times.System,
		RSSBytes:   mem.RSS,
	}
	if ms, err := proc.CreateTime(); err == nil && ms > 0 {
		r.StartTime = time.UnixMilli(ms)
	}
	return r, nil
}
