// Package message defines the values that flow through the broker: a published
// Message, the Sequence that orders it and the retained Entry pairing the two.
package message

import (
	"time"
)

// tieBits is the width of the insertion tie-break in a Sequence.
const tieBits = 20

// Message is a topic-tagged payload. Payload is opaque to the broker.
type Message struct {
	Topic   string
	Payload []byte
}

// Clone returns a copy that shares no memory with m.
func (m Message) Clone() Message {
	var p []byte
	if m.Payload != nil {
		p = make([]byte, len(m.Payload))
		copy(p, m.Payload)
	}
	return Message{Topic: m.Topic, Payload: p}
}

// Sequence is a hybrid timestamp: wall-clock milliseconds in the high bits and an
// insertion counter in the low 20 bits. Sequences assigned by a Clock are strictly
// increasing and compare in publish order.
type Sequence uint64

// SequenceAt returns the smallest sequence that belongs to the millisecond of t.
// Times before the Unix epoch map to zero.
func SequenceAt(t time.Time) Sequence {
	ms := t.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return Sequence(uint64(ms) << tieBits)
}

// Millis returns the wall-clock millisecond the sequence was assigned in.
func (s Sequence) Millis() int64 {
	return int64(uint64(s) >> tieBits)
}

// Time returns the wall-clock time the sequence was assigned at, with millisecond precision.
func (s Sequence) Time() time.Time {
	return time.UnixMilli(s.Millis())
}

// Entry is a message stamped with its sequence. It is the unit retained for replay
// and handed to subscribers.
type Entry struct {
	Sequence Sequence
	Message  Message
}

// Topic is shorthand for e.Message.Topic.
func (e Entry) Topic() string { return e.Message.Topic }

// Clock assigns sequences. It is not safe for concurrent use; callers serialize access.
type Clock struct {
	now  func() time.Time
	last Sequence
}

// NewClock returns a Clock reading time from now. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns a sequence strictly greater than any previously returned one.
// When the wall clock stalls or steps backwards the tie-break counter advances instead.
func (c *Clock) Next() (Sequence, time.Time) {
	t := c.now()
	seq := SequenceAt(t)
	if seq <= c.last {
		seq = c.last + 1
	}
	c.last = seq
	return seq, t
}

// Last returns the most recently assigned sequence, or zero.
func (c *Clock) Last() Sequence { return c.last }

// Now reads the clock's time source.
func (c *Clock) Now() time.Time { return c.now() }
