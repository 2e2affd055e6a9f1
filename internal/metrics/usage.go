package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// UsageSample is one resource reading for a server.
type UsageSample struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}

// UsageFunc returns a reading for every live server, keyed by server label.
type UsageFunc func() map[string]UsageSample

// UsageCollector periodically samples live servers into the cpu/memory gauges.
type UsageCollector struct {
	interval time.Duration
	sample   UsageFunc
	log      *slog.Logger

	mu   sync.RWMutex
	last map[string]UsageSample

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewUsageCollector creates a collector; interval defaults to 5s.
func NewUsageCollector(interval time.Duration, fn UsageFunc, log *slog.Logger) *UsageCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &UsageCollector{
		interval: interval,
		sample:   fn,
		log:      log,
		last:     make(map[string]UsageSample),
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic collection until ctx is done or Stop is called.
func (c *UsageCollector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect()
			}
		}
	}()
}

// Stop ends collection and waits for the loop to exit.
func (c *UsageCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one round of samples. Servers that disappeared since the last
// round have their series removed.
func (c *UsageCollector) Collect() {
	samples := c.sample()

	c.mu.Lock()
	prev := c.last
	c.last = samples
	c.mu.Unlock()

	for server, s := range samples {
		SetUsage(server, s.CPUPercent, s.MemoryMB)
	}
	for server := range prev {
		if _, ok := samples[server]; !ok {
			ClearUsage(server)
		}
	}
	c.log.Debug("usage collected", "servers", len(samples))
}

// Last returns a copy of the most recent round.
func (c *UsageCollector) Last() map[string]UsageSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]UsageSample, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}
