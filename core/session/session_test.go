package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/session"
	"github.com/dmitrymomot/tailbus/core/topic"
)

type fakeFeed struct {
	pattern string
	onClose func(error)
	done    chan struct{}
	closed  atomic.Int32
	once    sync.Once
}

func newFakeFeed(req session.Request) *fakeFeed {
	return &fakeFeed{pattern: req.Pattern, onClose: req.OnClose, done: make(chan struct{})}
}

func (f *fakeFeed) Pattern() string       { return f.pattern }
func (f *fakeFeed) Done() <-chan struct{} { return f.done }

func (f *fakeFeed) Close() {
	f.closed.Add(1)
	f.end(nil)
}

// end simulates the feed goroutine terminating.
func (f *fakeFeed) end(err error) {
	f.once.Do(func() {
		close(f.done)
		f.onClose(err)
	})
}

type MockAttacher struct {
	mock.Mock
	mu    sync.Mutex
	feeds []*fakeFeed
}

func (m *MockAttacher) Attach(ctx context.Context, req session.Request) (session.Feed, error) {
	args := m.Called(ctx, req.Pattern)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	f := newFakeFeed(req)
	m.mu.Lock()
	m.feeds = append(m.feeds, f)
	m.mu.Unlock()
	return f, nil
}

func (m *MockAttacher) last() *fakeFeed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feeds[len(m.feeds)-1]
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := session.New(context.Background(), nil)
	assert.ErrorIs(t, err, session.ErrNoAttacher)

	id := uuid.New()
	s, err := session.New(context.Background(), &MockAttacher{}, session.WithID(id))
	require.NoError(t, err)
	assert.Equal(t, id, s.ID())

	other, err := session.New(context.Background(), &MockAttacher{})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, other.ID())
}

func TestTrySubscribe(t *testing.T) {
	t.Parallel()

	t.Run("second identical subscribe is a no-op", func(t *testing.T) {
		t.Parallel()

		att := &MockAttacher{}
		att.On("Attach", mock.Anything, "orders.*").Return(nil).Once()

		s, err := session.New(context.Background(), att)
		require.NoError(t, err)
		defer s.Close()

		added, err := s.TrySubscribe("orders.*")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = s.TrySubscribe("orders.*")
		require.NoError(t, err)
		assert.False(t, added)

		assert.Equal(t, []string{"orders.*"}, s.Patterns())
		att.AssertNumberOfCalls(t, "Attach", 1)
	})

	t.Run("distinct patterns each start a feed", func(t *testing.T) {
		t.Parallel()

		att := &MockAttacher{}
		att.On("Attach", mock.Anything, mock.Anything).Return(nil)

		s, err := session.New(context.Background(), att)
		require.NoError(t, err)
		defer s.Close()

		for _, p := range []string{"b.*", "a.*", "*"} {
			added, err := s.TrySubscribe(p)
			require.NoError(t, err)
			assert.True(t, added)
		}
		assert.Equal(t, []string{"*", "a.*", "b.*"}, s.Patterns())
		assert.Equal(t, 3, s.Len())
	})

	t.Run("invalid pattern is rejected before attach", func(t *testing.T) {
		t.Parallel()

		att := &MockAttacher{}
		s, err := session.New(context.Background(), att)
		require.NoError(t, err)

		added, err := s.TrySubscribe("bad\x01")
		assert.ErrorIs(t, err, topic.ErrInvalidPattern)
		assert.False(t, added)
		att.AssertNotCalled(t, "Attach", mock.Anything, mock.Anything)
	})

	t.Run("attach failure leaves the set unchanged", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		att := &MockAttacher{}
		att.On("Attach", mock.Anything, "a").Return(boom).Once()
		att.On("Attach", mock.Anything, "a").Return(nil).Once()

		s, err := session.New(context.Background(), att)
		require.NoError(t, err)
		defer s.Close()

		_, err = s.TrySubscribe("a")
		assert.ErrorIs(t, err, boom)
		assert.False(t, s.Has("a"))

		added, err := s.TrySubscribe("a")
		require.NoError(t, err)
		assert.True(t, added)
	})

	t.Run("resume option reaches the attacher", func(t *testing.T) {
		t.Parallel()

		var got session.Request
		att := session.AttachFunc(func(_ context.Context, req session.Request) (session.Feed, error) {
			got = req
			return newFakeFeed(req), nil
		})

		s, err := session.New(context.Background(), att)
		require.NoError(t, err)
		defer s.Close()

		_, err = s.TrySubscribe("a.*", session.WithResumeAfter(message.Sequence(99)))
		require.NoError(t, err)
		assert.True(t, got.Resume)
		assert.Equal(t, message.Sequence(99), got.After)
	})
}

func TestTrySubscribeConcurrent(t *testing.T) {
	t.Parallel()

	att := &MockAttacher{}
	att.On("Attach", mock.Anything, "hot.*").Return(nil)

	s, err := session.New(context.Background(), att)
	require.NoError(t, err)
	defer s.Close()

	const callers = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			added, err := s.TrySubscribe("hot.*")
			if assert.NoError(t, err) && added {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	att.AssertNumberOfCalls(t, "Attach", 1)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	att := &MockAttacher{}
	att.On("Attach", mock.Anything, "a.*").Return(nil)

	s, err := session.New(context.Background(), att)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.TrySubscribe("a.*")
	require.NoError(t, err)
	feed := att.last()

	assert.True(t, s.Unsubscribe("a.*"))
	assert.False(t, s.Unsubscribe("a.*"))
	assert.Equal(t, int32(1), feed.closed.Load())

	added, err := s.TrySubscribe("a.*")
	require.NoError(t, err)
	assert.True(t, added, "pattern can be subscribed again with a fresh replay")
}

func TestFeedEndsOnItsOwn(t *testing.T) {
	t.Parallel()

	att := &MockAttacher{}
	att.On("Attach", mock.Anything, "a.*").Return(nil)

	s, err := session.New(context.Background(), att)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.TrySubscribe("a.*")
	require.NoError(t, err)

	att.last().end(errors.New("client gone"))
	assert.False(t, s.Has("a.*"))

	added, err := s.TrySubscribe("a.*")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestOnFeedEnd(t *testing.T) {
	t.Parallel()

	att := &MockAttacher{}
	att.On("Attach", mock.Anything, mock.Anything).Return(nil)

	type ended struct {
		pattern string
		err     error
	}
	var (
		mu  sync.Mutex
		got []ended
	)
	s, err := session.New(context.Background(), att, session.WithOnFeedEnd(func(pattern string, err error) {
		mu.Lock()
		got = append(got, ended{pattern, err})
		mu.Unlock()
	}))
	require.NoError(t, err)

	_, err = s.TrySubscribe("a.*")
	require.NoError(t, err)
	boom := errors.New("overflow")
	att.last().end(boom)

	_, err = s.TrySubscribe("b.*")
	require.NoError(t, err)
	s.Unsubscribe("b.*")
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1, "unsubscribe and close do not fire the hook")
	assert.Equal(t, "a.*", got[0].pattern)
	assert.ErrorIs(t, got[0].err, boom)
}

func TestClose(t *testing.T) {
	t.Parallel()

	att := &MockAttacher{}
	att.On("Attach", mock.Anything, mock.Anything).Return(nil)

	s, err := session.New(context.Background(), att)
	require.NoError(t, err)

	_, err = s.TrySubscribe("a")
	require.NoError(t, err)
	_, err = s.TrySubscribe("b")
	require.NoError(t, err)

	s.Close()
	s.Close()

	assert.True(t, s.Closed())
	assert.Equal(t, 0, s.Len())
	for _, f := range att.feeds {
		assert.Equal(t, int32(1), f.closed.Load())
	}

	_, err = s.TrySubscribe("c")
	assert.ErrorIs(t, err, session.ErrSessionClosed)
}
