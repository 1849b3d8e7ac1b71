package dispatch

import "github.com/dmitrymomot/tailbus/core/message"

// ring is a fixed-capacity FIFO of entries. Not safe for concurrent use.
type ring struct {
	buf   []message.Entry
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]message.Entry, capacity)}
}

func (r *ring) full() bool { return r.count == len(r.buf) }

func (r *ring) len() int { return r.count }

func (r *ring) push(e message.Entry) {
	r.buf[(r.head+r.count)%len(r.buf)] = e
	r.count++
}

func (r *ring) pop() (message.Entry, bool) {
	if r.count == 0 {
		return message.Entry{}, false
	}
	e := r.buf[r.head]
	r.buf[r.head] = message.Entry{}
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return e, true
}

func (r *ring) reset() {
	clear(r.buf)
	r.head, r.count = 0, 0
}
