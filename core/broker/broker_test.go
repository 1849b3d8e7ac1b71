package broker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dmitrymomot/tailbus/core/broker"
	"github.com/dmitrymomot/tailbus/core/dispatch"
	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/replay"
	"github.com/dmitrymomot/tailbus/core/retention"
	"github.com/dmitrymomot/tailbus/core/session"
	"github.com/dmitrymomot/tailbus/core/topic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

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

// recorder is a Sink collecting deliveries per pattern.
type recorder struct {
	mu  sync.Mutex
	got []replay.Delivery
}

func (r *recorder) Deliver(_ context.Context, d replay.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, d)
	return nil
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, d := range r.got {
		out = append(out, d.Entry.Topic())
	}
	return out
}

func (r *recorder) deliveries() []replay.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]replay.Delivery(nil), r.got...)
}

func (r *recorder) waitLen(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.topics()) >= n }, 3*time.Second, time.Millisecond,
		"expected %d deliveries", n)
	return r.topics()
}

func publish(t *testing.T, b *broker.Broker, name string) message.Entry {
	t.Helper()
	e, err := b.Publish(context.Background(), name, []byte(`"`+name+`"`))
	require.NoError(t, err)
	return e
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	b := broker.New()
	defer b.Close()

	_, err := b.Publish(context.Background(), "", []byte("x"))
	assert.ErrorIs(t, err, topic.ErrInvalidTopic)
	_, err = b.Publish(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, topic.ErrInvalidTopic)

	assert.Equal(t, 0, b.Stats().Retained, "invalid publish inserts nothing")
	assert.Equal(t, uint64(2), b.Stats().Rejected)
}

func TestPublishCapacityReject(t *testing.T) {
	t.Parallel()

	b := broker.New(broker.WithMaxRetained(1), broker.WithRetentionPolicy(retention.PolicyReject))
	defer b.Close()

	publish(t, b, "a")
	_, err := b.Publish(context.Background(), "b", nil)
	assert.ErrorIs(t, err, retention.ErrCapacityExceeded)
}

func TestRetentionWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := broker.New(broker.WithRetentionWindow(5*time.Second), broker.WithClock(clock.Now))
	defer b.Close()

	publish(t, b, "orders.old")
	clock.Advance(4 * time.Second)
	publish(t, b, "orders.recent")
	clock.Advance(2 * time.Second)

	snap, err := b.Snapshot("orders.*")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "orders.recent", snap[0].Topic())

	rec := &recorder{}
	sess, err := b.NewSession(context.Background(), rec)
	require.NoError(t, err)
	defer b.CloseSession(sess)

	_, err = sess.TrySubscribe("orders.*")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.recent"}, rec.waitLen(t, 1))
}

func TestReplayThenLive(t *testing.T) {
	t.Parallel()

	b := broker.New(broker.WithRetentionWindow(time.Minute))
	defer b.Close()

	for i := range 3 {
		publish(t, b, fmt.Sprintf("feed.h%d", i))
	}

	rec := &recorder{}
	sess, err := b.NewSession(context.Background(), rec)
	require.NoError(t, err)
	defer b.CloseSession(sess)

	added, err := sess.TrySubscribe("feed.*")
	require.NoError(t, err)
	require.True(t, added)

	for i := range 3 {
		publish(t, b, fmt.Sprintf("feed.l%d", i))
	}

	assert.Equal(t,
		[]string{"feed.h0", "feed.h1", "feed.h2", "feed.l0", "feed.l1", "feed.l2"},
		rec.waitLen(t, 6))

	ds := rec.deliveries()
	for i := 1; i < len(ds); i++ {
		assert.Less(t, ds[i-1].Entry.Sequence, ds[i].Entry.Sequence)
		assert.Equal(t, "feed.*", ds[i].Pattern)
	}
}

func TestReplayFiltersByPattern(t *testing.T) {
	t.Parallel()

	b := broker.New()
	defer b.Close()

	publish(t, b, "users.1")
	publish(t, b, "orders.1")
	publish(t, b, "$sys.heartbeat")
	publish(t, b, "orders.2")

	rec := &recorder{}
	sess, err := b.NewSession(context.Background(), rec)
	require.NoError(t, err)
	defer b.CloseSession(sess)

	_, err = sess.TrySubscribe("orders.*")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.1", "orders.2"}, rec.waitLen(t, 2))

	publish(t, b, "users.2")
	publish(t, b, "orders.3")
	assert.Equal(t, []string{"orders.1", "orders.2", "orders.3"}, rec.waitLen(t, 3))
	for _, d := range rec.deliveries() {
		assert.Equal(t, "orders.*", d.Pattern)
	}
}

func TestIdempotentSubscribe(t *testing.T) {
	t.Parallel()

	b := broker.New(broker.WithRetentionWindow(time.Minute))
	defer b.Close()

	publish(t, b, "a.1")

	rec := &recorder{}
	sess, err := b.NewSession(context.Background(), rec)
	require.NoError(t, err)
	defer b.CloseSession(sess)

	first, err := sess.TrySubscribe("a.*")
	require.NoError(t, err)
	second, err := sess.TrySubscribe("a.*")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)

	publish(t, b, "a.2")
	assert.Equal(t, []string{"a.1", "a.2"}, rec.waitLen(t, 2))

	// Give a stray second feed time to show up before asserting none exists.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.topics(), 2)
	assert.Equal(t, 1, b.Stats().Subscriptions)
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := broker.New(broker.WithRetentionWindow(5000*time.Millisecond), broker.WithClock(clock.Now))
	defer b.Close()

	a := publish(t, b, "orders.new")
	clock.Advance(1000 * time.Millisecond)

	rec := &recorder{}
	sess, err := b.NewSession(context.Background(), rec)
	require.NoError(t, err)
	defer b.CloseSession(sess)

	_, err = sess.TrySubscribe("orders.*")
	require.NoError(t, err)
	rec.waitLen(t, 1)

	clock.Advance(500 * time.Millisecond)
	bEntry := publish(t, b, "orders.new")

	ds := rec.deliveries()
	require.Eventually(t, func() bool { ds = rec.deliveries(); return len(ds) == 2 }, 3*time.Second, time.Millisecond)
	assert.Equal(t, a.Sequence, ds[0].Entry.Sequence)
	assert.Equal(t, bEntry.Sequence, ds[1].Entry.Sequence)
}

func TestMultiplePatternsPerSession(t *testing.T) {
	t.Parallel()

	b := broker.New(broker.WithRetentionWindow(time.Minute))
	defer b.Close()

	rec := &recorder{}
	sess, err := b.NewSession(context.Background(), rec)
	require.NoError(t, err)
	defer b.CloseSession(sess)

	for _, p := range []string{"orders.*", "*.created"} {
		_, err := sess.TrySubscribe(p)
		require.NoError(t, err)
	}

	publish(t, b, "orders.created")
	rec.waitLen(t, 2)

	patterns := map[string]int{}
	for _, d := range rec.deliveries() {
		patterns[d.Pattern]++
	}
	assert.Equal(t, map[string]int{"orders.*": 1, "*.created": 1}, patterns,
		"each matching pattern receives its own copy")
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := broker.New(
		broker.WithRetentionWindow(time.Minute),
		broker.WithQueueSize(2048),
	)
	defer b.Close()

	const (
		publishers  = 4
		perProducer = 250
		subscribers = 16
	)

	recs := make([]*recorder, subscribers)
	var subWG sync.WaitGroup
	var pubWG sync.WaitGroup
	start := make(chan struct{})

	for p := range publishers {
		pubWG.Add(1)
		go func() {
			defer pubWG.Done()
			<-start
			for i := range perProducer {
				_, err := b.Publish(context.Background(), fmt.Sprintf("race.%d.%d", p, i), nil)
				assert.NoError(t, err)
			}
		}()
	}
	for s := range subscribers {
		recs[s] = &recorder{}
		subWG.Add(1)
		go func() {
			defer subWG.Done()
			<-start
			sess, err := b.NewSession(context.Background(), recs[s])
			if !assert.NoError(t, err) {
				return
			}
			_, err = sess.TrySubscribe("race.*")
			assert.NoError(t, err)
		}()
	}

	close(start)
	pubWG.Wait()
	subWG.Wait()

	// Everything was published inside the window, so every subscriber ends up
	// with the full set regardless of when it attached.
	total := publishers * perProducer
	for i, rec := range recs {
		got := rec.waitLen(t, total)
		assert.Len(t, got, total, "subscriber %d", i)

		seen := make(map[message.Sequence]struct{}, total)
		ds := rec.deliveries()
		for j, d := range ds {
			_, dup := seen[d.Entry.Sequence]
			assert.False(t, dup, "subscriber %d got sequence %d twice", i, d.Entry.Sequence)
			seen[d.Entry.Sequence] = struct{}{}
			if j > 0 {
				assert.Less(t, ds[j-1].Entry.Sequence, d.Entry.Sequence, "subscriber %d out of order", i)
			}
		}
	}
	assert.Equal(t, subscribers, b.Stats().Sessions)
}

func TestSlowSubscriberIsolation(t *testing.T) {
	t.Parallel()

	b := broker.New(
		broker.WithRetentionWindow(time.Minute),
		broker.WithQueueSize(4),
		broker.WithOverflowPolicy(dispatch.Disconnect),
	)
	defer b.Close()

	block := make(chan struct{})
	slow := replay.SinkFunc(func(ctx context.Context, _ replay.Delivery) error {
		select {
		case <-block:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	slowSess, err := b.NewSession(context.Background(), slow)
	require.NoError(t, err)
	_, err = slowSess.TrySubscribe("*")
	require.NoError(t, err)

	fast := &recorder{}
	fastSess, err := b.NewSession(context.Background(), fast)
	require.NoError(t, err)
	defer b.CloseSession(fastSess)
	_, err = fastSess.TrySubscribe("*")
	require.NoError(t, err)

	for i := range 10 {
		publish(t, b, fmt.Sprintf("x.%d", i))
		fast.waitLen(t, i+1) // keep the fast queue drained
	}

	assert.Len(t, fast.topics(), 10)
	require.Eventually(t, func() bool { return !slowSess.Has("*") }, 3*time.Second, time.Millisecond,
		"overflowed subscription is dropped from its session")
	assert.Equal(t, uint64(1), b.Stats().Disconnected)

	close(block)
	b.CloseSession(slowSess)
}

func TestResumeAfter(t *testing.T) {
	t.Parallel()

	b := broker.New(broker.WithRetentionWindow(time.Minute))
	defer b.Close()

	publish(t, b, "r.1")
	last := publish(t, b, "r.2")
	publish(t, b, "r.3")

	rec := &recorder{}
	sess, err := b.NewSession(context.Background(), rec)
	require.NoError(t, err)
	defer b.CloseSession(sess)

	_, err = sess.TrySubscribe("r.*", session.WithResumeAfter(last.Sequence))
	require.NoError(t, err)
	assert.Equal(t, []string{"r.3"}, rec.waitLen(t, 1))
}

func TestClose(t *testing.T) {
	t.Parallel()

	b := broker.New()
	rec := &recorder{}
	sess, err := b.NewSession(context.Background(), rec)
	require.NoError(t, err)
	_, err = sess.TrySubscribe("*")
	require.NoError(t, err)

	require.NoError(t, b.Ping(context.Background()))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Ping(context.Background()), broker.ErrClosed)
	_, err = b.Publish(context.Background(), "a", nil)
	assert.ErrorIs(t, err, broker.ErrClosed)
	_, err = b.NewSession(context.Background(), rec)
	assert.ErrorIs(t, err, broker.ErrClosed)
	assert.True(t, sess.Closed())
	assert.Equal(t, 0, b.Stats().Subscriptions)
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	b, err := broker.NewFromConfig(broker.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, broker.DefaultRetentionWindow, b.RetentionWindow())
	require.NoError(t, b.Close())

	cfg := broker.DefaultConfig()
	cfg.SubscriberOverflow = "block"
	_, err = broker.NewFromConfig(cfg)
	assert.Error(t, err)

	cfg = broker.DefaultConfig()
	cfg.RetentionCapacityPolicy = "nope"
	_, err = broker.NewFromConfig(cfg)
	assert.Error(t, err)
}
