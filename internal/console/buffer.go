// Package console keeps a bounded history of a server's console output and
// fans new lines out to live subscribers.
package console

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Default watermarks: once the buffer grows past HighWatermark lines it is cut
// back to the most recent LowWatermark lines.
const (
	HighWatermark = 1000
	LowWatermark  = 500
)

// Subscriber receives every line appended after it subscribed.
type Subscriber func(line string)

type subscription struct {
	fn     Subscriber
	active atomic.Bool
}

// Buffer is a bounded, ordered line history plus a dynamic subscriber set.
// Append must be called from a single goroutine per buffer for subscribers to
// observe lines in append order.
type Buffer struct {
	mu     sync.Mutex
	lines  []string
	high   int
	low    int
	subs   map[uint64]*subscription
	nextID uint64
	log    *slog.Logger
}

// New creates a buffer that trims to low lines once it exceeds high lines.
func New(high, low int) *Buffer {
	if high <= 0 {
		high = HighWatermark
	}
	if low <= 0 || low > high {
		low = high / 2
	}
	return &Buffer{
		high: high,
		low:  low,
		subs: make(map[uint64]*subscription),
		log:  slog.Default(),
	}
}

// NewDefault creates a 1000/500 buffer.
func NewDefault() *Buffer { return New(HighWatermark, LowWatermark) }

// SetLogger sets the logger used to report failing subscribers.
func (b *Buffer) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	b.mu.Lock()
	b.log = l
	b.mu.Unlock()
}

// Append adds line to the tail and delivers it to every current subscriber.
// Delivery happens outside the lock; a panicking subscriber is isolated.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.high {
		kept := make([]string, b.low, b.high+1)
		copy(kept, b.lines[len(b.lines)-b.low:])
		b.lines = kept
	}
	targets := b.activeLocked()
	b.mu.Unlock()

	b.deliver(targets, line)
}

// SnapshotAndSubscribe atomically copies the history and registers fn, so fn
// sees exactly the lines appended after the returned snapshot.
func (b *Buffer) SnapshotAndSubscribe(fn Subscriber) ([]string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(), b.subscribeLocked(fn)
}

// Subscribe registers fn for future appends. The returned function removes it
// and is safe to call more than once, including from inside fn.
func (b *Buffer) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(fn)
}

// Snapshot returns a copy of the buffered lines, oldest first.
func (b *Buffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Len is the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Subscribers is the number of registered subscribers.
func (b *Buffer) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Buffer) snapshotLocked() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *Buffer) subscribeLocked(fn Subscriber) func() {
	id := b.nextID
	b.nextID++
	s := &subscription{fn: fn}
	s.active.Store(true)
	b.subs[id] = s
	return func() {
		s.active.Store(false)
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Buffer) activeLocked() []*subscription {
	if len(b.subs) == 0 {
		return nil
	}
	out := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out
}

func (b *Buffer) deliver(targets []*subscription, line string) {
	for _, s := range targets {
		// removed earlier in this pass, possibly by another subscriber
		if !s.active.Load() {
			continue
		}
		b.safeCall(s.fn, line)
	}
}

func (b *Buffer) safeCall(fn Subscriber, line string) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			l := b.log
			b.mu.Unlock()
			l.Warn("console subscriber panicked", "panic", r)
		}
	}()
	fn(line)
}
