package sampler

import (
	"errors"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	name     string
	readings []Reading
	err      error
	calls    int
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Read(int) (Reading, error) {
	s.calls++
	if s.err != nil {
		return Reading{}, s.err
	}
	if len(s.readings) == 0 {
		return Reading{}, nil
	}
	r := s.readings[0]
	if len(s.readings) > 1 {
		s.readings = s.readings[1:]
	}
	return r, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestFirstSampleReportsZeroCPU(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	start := clk.t.Add(-time.Hour)
	src := &scriptedSource{name: "fake", readings: []Reading{
		{CPUSeconds: 10, RSSBytes: 300 * 1024 * 1024, StartTime: start},
	}}
	s := New(WithSources(src), WithClock(clk.now))

	u := s.Sample(42, clk.t.Add(-90*time.Second))
	assert.Equal(t, 0.0, u.CPUPercent)
	assert.Equal(t, 300.0, u.MemoryMB)
	assert.Equal(t, int64(90), u.UptimeSeconds)
}

func TestCPUPercentFromDeltas(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	start := clk.t.Add(-time.Hour)
	src := &scriptedSource{name: "fake", readings: []Reading{
		{CPUSeconds: 10, RSSBytes: 1 << 20, StartTime: start},
		{CPUSeconds: 11.5, RSSBytes: 1 << 20, StartTime: start},
		{CPUSeconds: 11.5 + 1.0/3, RSSBytes: 1 << 20, StartTime: start},
	}}
	s := New(WithSources(src), WithClock(clk.now))

	s.Sample(7, clk.t)
	clk.advance(2 * time.Second)
	u := s.Sample(7, clk.t)
	assert.Equal(t, 75.0, u.CPUPercent)

	clk.advance(time.Second)
	u = s.Sample(7, clk.t)
	assert.Equal(t, 33.33, u.CPUPercent)
}

func TestReusedPidStartsNewBaseline(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	first := clk.t.Add(-time.Hour)
	second := clk.t
	src := &scriptedSource{name: "fake", readings: []Reading{
		{CPUSeconds: 100, RSSBytes: 1 << 20, StartTime: first},
		{CPUSeconds: 1, RSSBytes: 1 << 20, StartTime: second},
		{CPUSeconds: 2, RSSBytes: 1 << 20, StartTime: second},
	}}
	s := New(WithSources(src), WithClock(clk.now))

	s.Sample(9, clk.t)
	clk.advance(time.Second)
	u := s.Sample(9, clk.t)
	assert.Equal(t, 0.0, u.CPUPercent, "different process behind the same pid")

	clk.advance(time.Second)
	u = s.Sample(9, clk.t)
	assert.Equal(t, 100.0, u.CPUPercent)
}

func TestForgetResetsBaseline(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	src := &scriptedSource{name: "fake", readings: []Reading{
		{CPUSeconds: 1, RSSBytes: 1},
		{CPUSeconds: 2, RSSBytes: 1},
	}}
	s := New(WithSources(src), WithClock(clk.now))

	s.Sample(3, clk.t)
	s.Forget(3)
	clk.advance(time.Second)
	assert.Equal(t, 0.0, s.Sample(3, clk.t).CPUPercent)
}

func TestFallsBackWhenPrimaryFailsOrIsEmpty(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	broken := &scriptedSource{name: "broken", err: errors.New("denied")}
	empty := &scriptedSource{name: "empty"}
	good := &scriptedSource{name: "good", readings: []Reading{{CPUSeconds: 1, RSSBytes: 2 * 1024 * 1024}}}
	s := New(WithSources(broken, empty, good), WithClock(clk.now))

	u := s.Sample(11, time.Time{})
	assert.Equal(t, 2.0, u.MemoryMB)
	assert.Equal(t, int64(0), u.UptimeSeconds)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, empty.calls)
}

func TestAllSourcesFailingYieldsZeros(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := New(WithSources(&scriptedSource{name: "x", err: errors.New("gone")}), WithClock(clk.now))

	u := s.Sample(5, clk.t.Add(-10*time.Second))
	assert.Equal(t, Usage{UptimeSeconds: 10}, u)
}

func TestNonPositivePidSkipsSources(t *testing.T) {
	src := &scriptedSource{name: "x"}
	s := New(WithSources(src))
	s.Sample(0, time.Now())
	assert.Zero(t, src.calls)
}

func TestGopsutilReadsSelf(t *testing.T) {
	r, err := NewGopsutilSource().Read(os.Getpid())
	require.NoError(t, err)
	assert.NotZero(t, r.RSSBytes)
	assert.False(t, r.StartTime.IsZero())
}

func TestProcfsReadsSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs only on linux")
	}
	r, err := NewProcfsSource().Read(os.Getpid())
	require.NoError(t, err)
	assert.NotZero(t, r.RSSBytes)

	again, err := NewProcfsSource().Read(os.Getpid())
	require.NoError(t, err)
	assert.True(t, r.StartTime.Equal(again.StartTime))
}
