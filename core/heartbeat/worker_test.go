package heartbeat_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dmitrymomot/tailbus/core/heartbeat"
	"github.com/dmitrymomot/tailbus/core/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	seq  uint64
	err  error
	got  chan published
	seen []published
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{got: make(chan published, 16)}
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) (message.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return message.Entry{}, p.err
	}
	p.seq++
	rec := published{topic: topic, payload: payload}
	p.seen = append(p.seen, rec)
	p.got <- rec
	return message.Entry{Sequence: message.Sequence(p.seq), Message: message.Message{Topic: topic, Payload: payload}}, nil
}

type manualTicker struct {
	ch       chan time.Time
	stopped  chan struct{}
	stopOnce sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopOnce.Do(func() { close(m.stopped) }) }
func (m *manualTicker) tick()               { m.ch <- time.Now() }

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := heartbeat.New(nil)
	assert.ErrorIs(t, err, heartbeat.ErrPublisherNil)

	w, err := heartbeat.New(newFakePublisher())
	require.NoError(t, err)
	assert.True(t, w.Enabled())
	assert.Equal(t, heartbeat.DefaultTopic, w.Topic())

	w, err = heartbeat.New(newFakePublisher(), heartbeat.WithInterval(0))
	require.NoError(t, err)
	assert.False(t, w.Enabled(), "zero interval disables the worker")

	w, err = heartbeat.NewFromConfig(heartbeat.Config{Enabled: false, Interval: time.Second}, newFakePublisher())
	require.NoError(t, err)
	assert.False(t, w.Enabled())
}

func TestWorkerPublishesOnTick(t *testing.T) {
	t.Parallel()

	pub := newFakePublisher()
	ticker := newManualTicker()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	w, err := heartbeat.New(pub,
		heartbeat.WithInterval(time.Hour),
		heartbeat.WithTicker(func(time.Duration) heartbeat.Ticker { return ticker }),
		heartbeat.WithClock(func() time.Time { return fixed }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx)() }()

	ticker.tick()
	ticker.tick()

	for i := 1; i <= 2; i++ {
		select {
		case rec := <-pub.got:
			assert.Equal(t, heartbeat.DefaultTopic, rec.topic)
			var p heartbeat.Payload
			require.NoError(t, json.Unmarshal(rec.payload, &p))
			assert.True(t, p.Time.Equal(fixed))
			assert.Equal(t, uint64(i), p.Count)
		case <-time.After(2 * time.Second):
			t.Fatal("heartbeat not published")
		}
	}

	cancel()
	require.NoError(t, <-errCh)
	<-w.Done()
	<-ticker.stopped
	assert.Equal(t, uint64(2), w.Stats().Sent)
	assert.False(t, w.Stats().IsRunning)
}

func TestWorkerCustomTopic(t *testing.T) {
	t.Parallel()

	pub := newFakePublisher()
	ticker := newManualTicker()
	w, err := heartbeat.New(pub,
		heartbeat.WithTopic("$sys.ping"),
		heartbeat.WithTicker(func(time.Duration) heartbeat.Ticker { return ticker }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	ticker.tick()
	rec := <-pub.got
	assert.Equal(t, "$sys.ping", rec.topic)

	require.NoError(t, w.Stop())
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestWorkerPublishFailure(t *testing.T) {
	t.Parallel()

	pub := newFakePublisher()
	pub.err = errors.New("broker closed")
	ticker := newManualTicker()
	w, err := heartbeat.New(pub, heartbeat.WithTicker(func(time.Duration) heartbeat.Ticker { return ticker }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx)() }()

	ticker.tick()
	ticker.tick() // second tick is only received after the first beat finished

	cancel()
	require.NoError(t, <-errCh)
	<-w.Done()
	assert.GreaterOrEqual(t, w.Stats().Failed, uint64(1))
	assert.Equal(t, uint64(0), w.Stats().Sent)
}

func TestWorkerDisabled(t *testing.T) {
	t.Parallel()

	pub := newFakePublisher()
	w, err := heartbeat.New(pub, heartbeat.WithEnabled(false))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, w.Run(ctx)())
	<-w.Done()
	assert.Empty(t, pub.seen)
}

// stuckPublisher blocks every publish until released, ignoring ctx.
type stuckPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (p *stuckPublisher) Publish(context.Context, string, []byte) (message.Entry, error) {
	p.entered <- struct{}{}
	<-p.release
	return message.Entry{}, nil
}

func TestWorkerCancelDoesNotWaitForPublish(t *testing.T) {
	t.Parallel()

	pub := &stuckPublisher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	ticker := newManualTicker()
	w, err := heartbeat.New(pub, heartbeat.WithTicker(func(time.Duration) heartbeat.Ticker { return ticker }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx)() }()

	ticker.tick()
	<-pub.entered

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run blocked on the in-flight publish")
	}

	select {
	case <-w.Done():
		t.Fatal("loop exited before the publish returned")
	default:
	}

	close(pub.release)
	<-w.Done()
	<-ticker.stopped
	assert.False(t, w.Stats().IsRunning)
}

func TestWorkerLifecycleErrors(t *testing.T) {
	t.Parallel()

	w, err := heartbeat.New(newFakePublisher(), heartbeat.WithInterval(0))
	require.NoError(t, err)

	assert.ErrorIs(t, w.Stop(), heartbeat.ErrNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return w.Stats().IsRunning }, time.Second, time.Millisecond)
	assert.ErrorIs(t, w.Start(ctx), heartbeat.ErrAlreadyStarted)

	require.NoError(t, w.Stop())
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestWorkerStopTimeout(t *testing.T) {
	t.Parallel()

	pub := &stuckPublisher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	ticker := newManualTicker()
	w, err := heartbeat.New(pub,
		heartbeat.WithShutdownTimeout(20*time.Millisecond),
		heartbeat.WithTicker(func(time.Duration) heartbeat.Ticker { return ticker }),
	)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(context.Background()) }()

	ticker.tick()
	<-pub.entered

	assert.Error(t, w.Stop(), "stop gives up on a stuck publish")

	close(pub.release)
	assert.ErrorIs(t, <-errCh, context.Canceled)
}
