package retention_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/retention"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func msg(topic string) message.Message {
	return message.Message{Topic: topic, Payload: []byte(`"` + topic + `"`)}
}

func topics(entries []message.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Topic())
	}
	return out
}

func TestBufferAppend(t *testing.T) {
	t.Parallel()

	t.Run("assigns strictly increasing sequences", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		buf := retention.New(5*time.Second, retention.WithClock(clock.Now))

		var last message.Sequence
		for i := range 10 {
			e, err := buf.Append(msg(fmt.Sprintf("t.%d", i)))
			require.NoError(t, err)
			assert.Greater(t, e.Sequence, last)
			last = e.Sequence
		}
		assert.Equal(t, last, buf.Last())
		assert.Equal(t, 10, buf.Len())
	})

	t.Run("copies payload", func(t *testing.T) {
		t.Parallel()

		buf := retention.New(time.Minute)
		payload := []byte("hello")
		_, err := buf.Append(message.Message{Topic: "a", Payload: payload})
		require.NoError(t, err)
		payload[0] = 'J'

		snap := buf.Snapshot()
		require.Len(t, snap, 1)
		assert.Equal(t, "hello", string(snap[0].Message.Payload))
	})
}

func TestBufferWindow(t *testing.T) {
	t.Parallel()

	t.Run("snapshot excludes entries older than window", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		buf := retention.New(5*time.Second, retention.WithClock(clock.Now))

		_, err := buf.Append(msg("old"))
		require.NoError(t, err)
		clock.Advance(3 * time.Second)
		_, err = buf.Append(msg("mid"))
		require.NoError(t, err)
		clock.Advance(3 * time.Second)
		_, err = buf.Append(msg("new"))
		require.NoError(t, err)

		assert.Equal(t, []string{"mid", "new"}, topics(buf.Snapshot()))
	})

	t.Run("cutoff trails the clock by the window", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		buf := retention.New(5*time.Second, retention.WithClock(clock.Now))
		assert.Equal(t, message.SequenceAt(clock.Now().Add(-5*time.Second)), buf.Cutoff())

		clock.Advance(time.Second)
		assert.Equal(t, message.SequenceAt(clock.Now().Add(-5*time.Second)), buf.Cutoff())
	})

	t.Run("entry exactly at window edge is retained", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		buf := retention.New(5*time.Second, retention.WithClock(clock.Now))

		_, err := buf.Append(msg("edge"))
		require.NoError(t, err)
		clock.Advance(5 * time.Second)

		assert.Equal(t, []string{"edge"}, topics(buf.Snapshot()))

		clock.Advance(time.Millisecond)
		assert.Empty(t, buf.Snapshot())
	})

	t.Run("snapshot hides expired entries before pruning", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		buf := retention.New(time.Second, retention.WithClock(clock.Now))

		for range 3 {
			_, err := buf.Append(msg("x"))
			require.NoError(t, err)
		}
		clock.Advance(2 * time.Second)

		assert.Empty(t, buf.Snapshot())
		assert.Equal(t, 3, buf.Len(), "lazy pruning keeps entries until a write")
		assert.Equal(t, 3, buf.Prune())
		assert.Equal(t, 0, buf.Len())
		assert.Equal(t, uint64(3), buf.Stats().Evicted)
	})

	t.Run("append prunes expired head", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		buf := retention.New(time.Second, retention.WithClock(clock.Now))

		_, err := buf.Append(msg("a"))
		require.NoError(t, err)
		clock.Advance(1500 * time.Millisecond)
		_, err = buf.Append(msg("b"))
		require.NoError(t, err)

		assert.Equal(t, 1, buf.Len())
	})

	t.Run("zero window retains nothing visible", func(t *testing.T) {
		t.Parallel()

		buf := retention.New(0)
		_, err := buf.Append(msg("a"))
		require.NoError(t, err)

		assert.Empty(t, buf.Snapshot())
	})

	t.Run("empty buffer snapshot", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, retention.New(time.Second).Snapshot())
	})
}

func TestBufferSnapshotSince(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	buf := retention.New(time.Minute, retention.WithClock(clock.Now))

	var entries []message.Entry
	for i := range 5 {
		e, err := buf.Append(msg(fmt.Sprintf("t.%d", i)))
		require.NoError(t, err)
		entries = append(entries, e)
		clock.Advance(10 * time.Millisecond)
	}

	assert.Equal(t, []string{"t.2", "t.3", "t.4"}, topics(buf.SnapshotSince(entries[2].Sequence)))
	assert.Empty(t, buf.SnapshotSince(entries[4].Sequence+1))
	assert.Len(t, buf.SnapshotSince(0), 5)

	t.Run("snapshot is a copy", func(t *testing.T) {
		snap := buf.Snapshot()
		snap[0].Message.Topic = "mutated"
		assert.Equal(t, "t.0", buf.Snapshot()[0].Topic())
	})
}

func TestBufferCapacity(t *testing.T) {
	t.Parallel()

	t.Run("drop oldest", func(t *testing.T) {
		t.Parallel()

		buf := retention.New(time.Minute, retention.WithMaxEntries(3))
		for i := range 5 {
			_, err := buf.Append(msg(fmt.Sprintf("t.%d", i)))
			require.NoError(t, err)
		}

		assert.Equal(t, []string{"t.2", "t.3", "t.4"}, topics(buf.Snapshot()))
		assert.Equal(t, uint64(2), buf.Stats().Dropped)
	})

	t.Run("reject", func(t *testing.T) {
		t.Parallel()

		buf := retention.New(time.Minute,
			retention.WithMaxEntries(2),
			retention.WithCapacityPolicy(retention.PolicyReject),
		)
		for range 2 {
			_, err := buf.Append(msg("ok"))
			require.NoError(t, err)
		}

		_, err := buf.Append(msg("overflow"))
		assert.ErrorIs(t, err, retention.ErrCapacityExceeded)
		assert.Equal(t, 2, buf.Len())
	})

	t.Run("reject frees space once entries expire", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		buf := retention.New(time.Second,
			retention.WithClock(clock.Now),
			retention.WithMaxEntries(1),
			retention.WithCapacityPolicy(retention.PolicyReject),
		)
		_, err := buf.Append(msg("a"))
		require.NoError(t, err)
		clock.Advance(2 * time.Second)

		_, err = buf.Append(msg("b"))
		assert.NoError(t, err)
	})
}

func TestParseCapacityPolicy(t *testing.T) {
	t.Parallel()

	p, err := retention.ParseCapacityPolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, retention.PolicyReject, p)

	p, err = retention.ParseCapacityPolicy("")
	require.NoError(t, err)
	assert.Equal(t, retention.PolicyDropOldest, p)
	assert.Equal(t, "drop_oldest", p.String())

	_, err = retention.ParseCapacityPolicy("block")
	assert.Error(t, err)
}

func TestBufferConcurrentAppendAndSnapshot(t *testing.T) {
	t.Parallel()

	buf := retention.New(time.Minute)

	const writers, perWriter = 8, 500
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				_, err := buf.Append(msg(fmt.Sprintf("w%d.%d", w, i)))
				assert.NoError(t, err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			snap := buf.Snapshot()
			for i := 1; i < len(snap); i++ {
				if snap[i-1].Sequence >= snap[i].Sequence {
					t.Errorf("snapshot out of order at %d", i)
					return
				}
			}
		}
	}()

	wg.Wait()
	<-done
	assert.Len(t, buf.Snapshot(), writers*perWriter)
}
