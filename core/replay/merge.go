package replay

import (
	"slices"

	"github.com/dmitrymomot/tailbus/core/message"
)

// Plan returns the entries with sequence >= cutoff in ascending order with
// duplicate sequences removed. The input is not modified.
func Plan(entries []message.Entry, cutoff message.Sequence) []message.Entry {
	out := make([]message.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Sequence >= cutoff {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b message.Entry) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		default:
			return 0
		}
	})
	return slices.CompactFunc(out, func(a, b message.Entry) bool {
		return a.Sequence == b.Sequence
	})
}

// Splice joins a replayed snapshot with entries captured live while the snapshot
// was taken. Live entries whose sequence already appears in the snapshot are
// dropped, as are live entries behind the last delivered sequence.
func Splice(snapshot, live []message.Entry) []message.Entry {
	seen := make(map[message.Sequence]struct{}, len(snapshot))
	out := make([]message.Entry, 0, len(snapshot)+len(live))

	var c Cursor
	for _, e := range snapshot {
		if c.Admit(e) {
			seen[e.Sequence] = struct{}{}
			out = append(out, e)
		}
	}
	for _, e := range live {
		if _, dup := seen[e.Sequence]; dup {
			continue
		}
		if c.Admit(e) {
			out = append(out, e)
		}
	}
	return out
}

// Cursor remembers the last delivered sequence and rejects anything at or behind it.
// The zero value admits any first entry.
type Cursor struct {
	last    message.Sequence
	started bool
}

// Admit reports whether e is new and, if so, advances the cursor past it.
func (c *Cursor) Admit(e message.Entry) bool {
	if c.started && e.Sequence <= c.last {
		return false
	}
	c.last = e.Sequence
	c.started = true
	return true
}

// Last returns the last admitted sequence and whether anything was admitted.
func (c *Cursor) Last() (message.Sequence, bool) {
	return c.last, c.started
}
