package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/autosteer/internal/model"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestCache(fetch Fetcher) *Cache {
	return NewCache(fetch, model.PollConfig{SlowStaleSec: 300, CacheSize: 16}, quietLogger(), model.LogLevelDebug)
}

// counter returns a fetcher that yields 1, 2, 3... per key kind.
func counter() (Fetcher, *atomic.Int64) {
	var n atomic.Int64
	return func(ctx context.Context, key Key) (any, error) {
		return int(n.Add(1)), nil
	}, &n
}

func TestKey_StringAndParse(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{QueueStatusKey(), "queue_status"},
		{TaskKey("task_1"), "task:task_1"},
		{ExecutionStateKey("task_2"), "execution_state:task_2"},
		{AllOf(KindProfile), "profile:*"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.key.String())
		parsed, err := ParseKey(tt.want)
		require.NoError(t, err)
		assert.Equal(t, tt.key, parsed)
	}

	_, err := ParseKey("widgets:1")
	assert.Error(t, err)
	assert.True(t, AllOf(KindTask).IsWildcard())
	assert.Equal(t, Operational, KindExecutionState.Class())
	assert.Equal(t, Configuration, KindSettings.Class())
}

func TestCache_GetCachesOperationalValues(t *testing.T) {
	fetch, n := counter()
	c := newTestCache(fetch)
	ctx := context.Background()

	v := c.Get(ctx, QueueStatusKey())
	require.NoError(t, v.Err)
	assert.Equal(t, 1, v.Value)

	v = c.Get(ctx, QueueStatusKey())
	assert.Equal(t, 1, v.Value, "operational values are refreshed by the poller, not on access")
	assert.Equal(t, int64(1), n.Load())

	_, err := c.Refresh(ctx, QueueStatusKey())
	require.NoError(t, err)
	assert.Equal(t, 2, c.Get(ctx, QueueStatusKey()).Value)
}

func TestCache_ConfigurationGoesStaleAfterWindow(t *testing.T) {
	fetch, n := counter()
	c := newTestCache(fetch)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	assert.Equal(t, 1, c.Get(ctx, SettingsKey()).Value)
	now = now.Add(299 * time.Second)
	assert.Equal(t, 1, c.Get(ctx, SettingsKey()).Value)
	now = now.Add(2 * time.Second)
	assert.Equal(t, 2, c.Get(ctx, SettingsKey()).Value)
	assert.Equal(t, int64(2), n.Load())
}

func TestCache_InvalidateForcesRefetch(t *testing.T) {
	fetch, _ := counter()
	c := newTestCache(fetch)
	ctx := context.Background()

	c.Get(ctx, TaskKey("a"))
	c.Get(ctx, TaskKey("b"))
	c.Invalidate(TaskKey("a"))
	assert.ElementsMatch(t, []Key{TaskKey("a")}, c.Stale())

	assert.Equal(t, 3, c.Get(ctx, TaskKey("a")).Value)
	assert.Equal(t, 2, c.Get(ctx, TaskKey("b")).Value)

	c.Invalidate(AllOf(KindTask))
	assert.Len(t, c.Stale(), 2)
	assert.Equal(t, 4, c.Get(ctx, TaskKey("b")).Value)
}

func TestCache_TransportErrorDegradesToStaleView(t *testing.T) {
	fail := false
	c := newTestCache(func(ctx context.Context, key Key) (any, error) {
		if fail {
			return nil, model.NewTransportError("tasks.list", errors.New("connection refused"))
		}
		return []model.Task{{ID: "t1"}}, nil
	})
	ctx := context.Background()

	first := c.Get(ctx, TasksKey())
	require.NoError(t, first.Err)

	fail = true
	c.Invalidate(TasksKey())
	v := c.Get(ctx, TasksKey())
	assert.True(t, v.Stale)
	assert.True(t, model.IsTransportError(v.Err))
	tasks, ok := Typed[[]model.Task](v)
	require.True(t, ok, "cached value must survive a failed refresh")
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, first.FetchedAt, v.FetchedAt)

	empty := c.Get(ctx, TaskKey("never-fetched"))
	assert.Nil(t, empty.Value)
	assert.Error(t, empty.Err)
	assert.False(t, empty.Stale)
}

func TestCache_NewerResultWins(t *testing.T) {
	slowRelease := make(chan struct{})
	slowStarted := make(chan struct{})
	var calls atomic.Int64
	c := newTestCache(func(ctx context.Context, key Key) (any, error) {
		if calls.Add(1) == 1 {
			close(slowStarted)
			<-slowRelease
			return "old", nil
		}
		return "new", nil
	})
	ctx := context.Background()

	done := make(chan View)
	go func() {
		v, _ := c.Refresh(ctx, ExecutionStateKey("t1"))
		done <- v
	}()
	<-slowStarted

	// Invalidation starts a second flight instead of joining the slow one.
	c.Invalidate(ExecutionStateKey("t1"))
	v, err := c.Refresh(ctx, ExecutionStateKey("t1"))
	require.NoError(t, err)
	assert.Equal(t, "new", v.Value)

	close(slowRelease)
	late := <-done
	assert.Equal(t, "new", late.Value, "superseded result must not be applied")

	got, ok := c.Peek(ExecutionStateKey("t1"))
	require.True(t, ok)
	assert.Equal(t, "new", got.Value)
	assert.Equal(t, int64(1), c.Stats().Dropped)
}

func TestCache_NewerResultWinsAfterEviction(t *testing.T) {
	slowRelease := make(chan struct{})
	slowStarted := make(chan struct{})
	var calls atomic.Int64
	c := NewCache(func(ctx context.Context, key Key) (any, error) {
		if key == TaskKey("a") && calls.Add(1) == 1 {
			close(slowStarted)
			<-slowRelease
			return "old", nil
		}
		return "new", nil
	}, model.PollConfig{CacheSize: 2}, quietLogger(), model.LogLevelError)
	ctx := context.Background()

	done := make(chan View)
	go func() {
		v, _ := c.Refresh(ctx, TaskKey("a"))
		done <- v
	}()
	<-slowStarted

	c.Invalidate(TaskKey("a"))
	v, err := c.Refresh(ctx, TaskKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "new", v.Value)

	c.Get(ctx, TaskKey("b"))
	c.Get(ctx, TaskKey("c"))
	_, ok := c.Peek(TaskKey("a"))
	require.False(t, ok, "task:a should have been evicted")

	close(slowRelease)
	late := <-done
	assert.NotEqual(t, "old", late.Value)

	_, ok = c.Peek(TaskKey("a"))
	assert.False(t, ok, "superseded result must not recreate the entry")
	assert.Equal(t, int64(1), c.Stats().Dropped)
	assert.Equal(t, "new", c.Get(ctx, TaskKey("a")).Value)
}

func TestCache_CancelledCallerDoesNotFailSharedRefresh(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	c := newTestCache(func(ctx context.Context, key Key) (any, error) {
		close(started)
		select {
		case <-release:
			return "v", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error)
	go func() {
		_, err := c.Refresh(firstCtx, ProcessesKey())
		firstErr <- err
	}()
	<-started

	second := make(chan View)
	go func() {
		v, err := c.Refresh(context.Background(), ProcessesKey())
		assert.NoError(t, err)
		second <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	select {
	case v := <-second:
		assert.Equal(t, "v", v.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never got the shared result")
	}
}

func TestCache_ConcurrentRefreshesShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	c := newTestCache(func(ctx context.Context, key Key) (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Refresh(context.Background(), ProcessesKey())
			assert.NoError(t, err)
			assert.Equal(t, "v", v.Value)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_SetAndRollback(t *testing.T) {
	fetch, _ := counter()
	c := newTestCache(fetch)
	ctx := context.Background()

	c.Get(ctx, TasksKey())
	seq := c.Set(TasksKey(), 100)
	assert.Equal(t, 100, c.Get(ctx, TasksKey()).Value)

	assert.True(t, c.Rollback(TasksKey(), seq, 1))
	assert.Equal(t, 1, c.Get(ctx, TasksKey()).Value)

	// A fetch applied after the write wins over a later rollback.
	seq = c.Set(TasksKey(), 200)
	_, err := c.Refresh(ctx, TasksKey())
	require.NoError(t, err)
	assert.False(t, c.Rollback(TasksKey(), seq, 1))
	assert.Equal(t, 2, c.Get(ctx, TasksKey()).Value)
}

func TestCache_Watch(t *testing.T) {
	fetch, _ := counter()
	c := newTestCache(fetch)

	var seen []Key
	unwatch := c.Watch(func(k Key, v any) { seen = append(seen, k) })
	c.Get(context.Background(), QueueStatusKey())
	c.Set(TaskKey("t1"), "x")
	unwatch()
	c.Set(TaskKey("t2"), "y")

	assert.Equal(t, []Key{QueueStatusKey(), TaskKey("t1")}, seen)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	fetch, _ := counter()
	c := NewCache(fetch, model.PollConfig{CacheSize: 2}, quietLogger(), model.LogLevelError)
	ctx := context.Background()

	c.Get(ctx, TaskKey("a"))
	c.Get(ctx, TaskKey("b"))
	c.Get(ctx, TaskKey("a"))
	c.Get(ctx, TaskKey("c"))

	_, ok := c.Peek(TaskKey("b"))
	assert.False(t, ok)
	assert.ElementsMatch(t, []Key{TaskKey("a"), TaskKey("c")}, c.Keys(KindTask))
	assert.Equal(t, 2, c.Stats().Size)
}
