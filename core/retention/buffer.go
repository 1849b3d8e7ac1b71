// Package retention keeps a sliding time window of published messages for replay.
//
// Entries are stored in strictly increasing sequence order. Expired entries are
// evicted lazily: on every Append, on every snapshot and on explicit Prune. A
// snapshot never returns an entry that is older than the window at the moment it
// is taken.
package retention

import (
	"sort"
	"sync"
	"time"

	"github.com/dmitrymomot/tailbus/core/message"
)

// compactThreshold is the dead-prefix length above which the backing slice is copied down.
const compactThreshold = 1024

// Buffer is an append-only, time-windowed store. Safe for concurrent use.
type Buffer struct {
	mu         sync.RWMutex
	entries    []message.Entry
	head       int
	clock      *message.Clock
	window     time.Duration
	maxEntries int
	policy     CapacityPolicy
	now        func() time.Time

	evicted uint64
	dropped uint64
}

// Stats reports buffer counters.
type Stats struct {
	Len     int
	Evicted uint64 // removed because they left the window
	Dropped uint64 // removed early by PolicyDropOldest
	Last    message.Sequence
}

// New creates a Buffer retaining entries for window. A non-positive window keeps nothing
// visible to snapshots.
func New(window time.Duration, opts ...Option) *Buffer {
	b := &Buffer{
		window:     window,
		maxEntries: DefaultMaxEntries,
		policy:     PolicyDropOldest,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.clock = message.NewClock(b.now)
	return b
}

// Append stamps msg with the next sequence and retains it. The payload is copied.
func (b *Buffer) Append(msg message.Message) (message.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.pruneLocked(now)

	if b.lenLocked() >= b.maxEntries {
		if b.policy == PolicyReject {
			return message.Entry{}, ErrCapacityExceeded
		}
		b.entries[b.head] = message.Entry{}
		b.head++
		b.dropped++
	}

	seq, _ := b.clock.Next()
	e := message.Entry{Sequence: seq, Message: msg.Clone()}
	b.entries = append(b.entries, e)
	b.compactLocked()

	return e, nil
}

// SnapshotSince returns a copy of retained entries with sequence >= since, ascending.
// The lower bound is raised to the window's cutoff.
func (b *Buffer) SnapshotSince(since message.Sequence) []message.Entry {
	now := b.now()
	if cutoff := b.cutoff(now); cutoff > since {
		since = cutoff
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	live := b.entries[b.head:]
	i := sort.Search(len(live), func(i int) bool {
		return live[i].Sequence >= since
	})
	if i == len(live) {
		return nil
	}

	out := make([]message.Entry, len(live)-i)
	copy(out, live[i:])
	return out
}

// Snapshot returns every entry still inside the window.
func (b *Buffer) Snapshot() []message.Entry {
	return b.SnapshotSince(0)
}

// Prune evicts expired entries and returns how many were removed.
func (b *Buffer) Prune() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.pruneLocked(b.now())
	b.compactLocked()
	return n
}

// Cutoff returns the smallest sequence a snapshot taken now may contain.
func (b *Buffer) Cutoff() message.Sequence {
	return b.cutoff(b.now())
}

// Len returns the number of retained entries, including expired ones not yet pruned.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lenLocked()
}

// Window returns the retention window.
func (b *Buffer) Window() time.Duration { return b.window }

// Last returns the most recently assigned sequence.
func (b *Buffer) Last() message.Sequence {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clock.Last()
}

// Stats returns a point-in-time copy of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Len:     b.lenLocked(),
		Evicted: b.evicted,
		Dropped: b.dropped,
		Last:    b.clock.Last(),
	}
}

func (b *Buffer) cutoff(now time.Time) message.Sequence {
	if b.window <= 0 {
		// Nothing that exists now is inside an empty window.
		return message.SequenceAt(now) + 1
	}
	return message.SequenceAt(now.Add(-b.window))
}

func (b *Buffer) lenLocked() int { return len(b.entries) - b.head }

func (b *Buffer) pruneLocked(now time.Time) int {
	cutoff := b.cutoff(now)
	n := 0
	for b.head < len(b.entries) && b.entries[b.head].Sequence < cutoff {
		b.entries[b.head] = message.Entry{}
		b.head++
		n++
	}
	b.evicted += uint64(n)
	return n
}

func (b *Buffer) compactLocked() {
	if b.head == len(b.entries) {
		b.entries = b.entries[:0]
		b.head = 0
		return
	}
	if b.head < compactThreshold || b.head < len(b.entries)/2 {
		return
	}
	n := copy(b.entries, b.entries[b.head:])
	clear(b.entries[n:])
	b.entries = b.entries[:n]
	b.head = 0
}
