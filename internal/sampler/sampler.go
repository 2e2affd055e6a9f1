// Package sampler computes CPU, memory and uptime figures for a running
// server process from cumulative OS counters.
package sampler

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Usage is a point-in-time resource reading for one server.
type Usage struct {
	CPUPercent    float64 `json:"cpu"`
	MemoryMB      float64 `json:"memory"`
	UptimeSeconds int64   `json:"uptime"`
}

// Reading is what a Source reports for a pid.
type Reading struct {
	CPUSeconds float64   // cumulative user+system time
	RSSBytes   uint64    // resident set size
	StartTime  time.Time // process creation time as seen by the OS, zero when unknown
}

func (r Reading) empty() bool { return r.CPUSeconds == 0 && r.RSSBytes == 0 }

// Source reads cumulative counters for a pid.
type Source interface {
	Name() string
	Read(pid int) (Reading, error)
}

type baseline struct {
	source    string
	startTime time.Time
	cpu       float64
	at        time.Time
}

// Sampler turns successive cumulative readings into a CPU percentage. The
// first sample for a process returns 0% CPU.
type Sampler struct {
	mu        sync.Mutex
	sources   []Source
	baselines map[int]baseline
	now       func() time.Time
	log       *slog.Logger
}

type Option func(*Sampler)

// WithSources replaces the default source chain. Sources are tried in order.
func WithSources(src ...Source) Option {
	return func(s *Sampler) { s.sources = src }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns a sampler using gopsutil first and procfs as a fallback.
func New(opts ...Option) *Sampler {
	s := &Sampler{
		sources:   []Source{NewGopsutilSource(), NewProcfsSource()},
		baselines: make(map[int]baseline),
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sample reports usage for pid. Uptime comes from startedAt, never from OS
// accounting. Failures yield zero cpu and memory, not an error.
func (s *Sampler) Sample(pid int, startedAt time.Time) Usage {
	now := s.now()
	var u Usage
	if !startedAt.IsZero() {
		u.UptimeSeconds = int64(math.Round(now.Sub(startedAt).Seconds()))
		if u.UptimeSeconds < 0 {
			u.UptimeSeconds = 0
		}
	}
	if pid <= 0 {
		return u
	}

	r, src, ok := s.read(pid)
	if !ok {
		return u
	}
	u.MemoryMB = math.Round(float64(r.RSSBytes) / 1024 / 1024)

	s.mu.Lock()
	prev, had := s.baselines[pid]
	s.baselines[pid] = baseline{source: src, startTime: r.StartTime, cpu: r.CPUSeconds, at: now}
	s.mu.Unlock()

	if had && prev.source == src && prev.startTime.Equal(r.StartTime) {
		wall := now.Sub(prev.at).Seconds()
		if wall > 0 {
			cpu := (r.CPUSeconds - prev.cpu) / wall * 100
			if cpu > 0 {
				u.CPUPercent = math.Round(cpu*100) / 100
			}
		}
	}
	return u
}

// Forget drops the CPU baseline kept for pid.
func (s *Sampler) Forget(pid int) {
	s.mu.Lock()
	delete(s.baselines, pid)
	s.mu.Unlock()
}

func (s *Sampler) read(pid int) (Reading, string, bool) {
	for _, src := range s.sources {
		r, err := src.Read(pid)
		if err != nil {
			s.log.Debug("resource source failed", "source", src.Name(), "pid", pid, "error", err)
			continue
		}
		if r.empty() {
			continue
		}
		return r, src.Name(), true
	}
	return Reading{}, "", false
}
