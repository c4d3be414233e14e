package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/autosteer/internal/model"
)

// Fetcher loads the server-confirmed value for key.
type Fetcher func(ctx context.Context, key Key) (any, error)

// View is what readers see for one key. Stale is set when Value is the last
// good value and a refresh failed (Err holds the failure).
type View struct {
	Value     any
	FetchedAt time.Time
	Stale     bool
	Err       error
}

// Typed returns v.Value as T.
func Typed[T any](v View) (T, bool) {
	t, ok := v.Value.(T)
	return t, ok
}

type CacheStats struct {
	Size    int   `json:"size"`
	MaxSize int   `json:"max_size"`
	Stale   int   `json:"stale"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Fetches int64 `json:"fetches"`
	Dropped int64 `json:"dropped"`
}

// Cache holds one server-confirmed view per entity. A fetch result is applied
// only when it was issued after the last applied write for its key, so a slow
// superseded fetch never overwrites a newer one.
type Cache struct {
	mu        sync.Mutex
	entries   *store
	fetch     Fetcher
	group     singleflight.Group
	seq       uint64
	applied   map[Key]uint64
	gens      map[Key]uint64
	kindGens  map[Kind]uint64
	slowStale time.Duration
	watchers  map[int]func(Key, any)
	watchID   int
	stats     CacheStats
	now       func() time.Time
	logger    *log.Logger
	logLevel  model.LogLevel
}

func NewCache(fetch Fetcher, cfg model.PollConfig, logger *log.Logger, logLevel model.LogLevel) *Cache {
	slowStale := time.Duration(cfg.SlowStaleSec) * time.Second
	if slowStale <= 0 {
		slowStale = 300 * time.Second
	}
	return &Cache{
		entries:   newStore(cfg.CacheSize),
		fetch:     fetch,
		applied:   make(map[Key]uint64),
		gens:      make(map[Key]uint64),
		kindGens:  make(map[Kind]uint64),
		slowStale: slowStale,
		watchers:  make(map[int]func(Key, any)),
		now:       time.Now,
		logger:    logger,
		logLevel:  logLevel,
	}
}

// Get returns the cached view for key, fetching when there is none, when it was
// invalidated, or when a configuration entity is older than the staleness
// window. A failed fetch with a cached value degrades to a stale view.
func (c *Cache) Get(ctx context.Context, key Key) View {
	c.mu.Lock()
	e, ok := c.entries.get(key)
	if ok && c.freshLocked(e) {
		c.stats.Hits++
		v := View{Value: e.value, FetchedAt: e.fetchedAt}
		c.mu.Unlock()
		return v
	}
	c.stats.Misses++
	c.mu.Unlock()

	v, err := c.Refresh(ctx, key)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e, ok := c.entries.peek(key); ok && !e.fetchedAt.IsZero() {
			c.log(model.LogLevelWarn, "serving stale key=%s error=%v", key, err)
			return View{Value: e.value, FetchedAt: e.fetchedAt, Stale: true, Err: err}
		}
		return View{Err: err}
	}
	return v
}

func (c *Cache) freshLocked(e *entry) bool {
	if e.stale || e.fetchedAt.IsZero() {
		return false
	}
	if e.key.Kind.Class() == Configuration {
		return c.now().Sub(e.fetchedAt) < c.slowStale
	}
	return true
}

// Peek returns the cached view without fetching.
func (c *Cache) Peek(key Key) (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.peek(key)
	if !ok || e.fetchedAt.IsZero() {
		return View{}, false
	}
	return View{Value: e.value, FetchedAt: e.fetchedAt, Stale: e.stale}, true
}

// Refresh fetches key unconditionally. Identical concurrent refreshes share
// one fetch unless the key was invalidated in between. On failure the cached
// value is left as it was. A caller whose ctx ends stops waiting; the shared
// fetch carries on for the others.
func (c *Cache) Refresh(ctx context.Context, key Key) (View, error) {
	c.mu.Lock()
	flightKey := fmt.Sprintf("%s#%d.%d", key, c.gens[key], c.kindGens[key.Kind])
	c.mu.Unlock()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		seq := c.issue()
		value, err := c.fetch(fetchCtx, key)
		if err != nil {
			return nil, err
		}
		return c.apply(key, seq, value), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return View{}, res.Err
		}
		if res.Shared {
			c.log(model.LogLevelDebug, "refresh shared key=%s", key)
		}
		return res.Val.(View), nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (c *Cache) issue() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.stats.Fetches++
	return c.seq
}

// apply stores a fetch result issued at seq and returns the resulting view.
// An older result than the one already applied is dropped and the current
// view is returned instead. The applied sequence outlives eviction.
func (c *Cache) apply(key Key, seq uint64, value any) View {
	c.mu.Lock()
	if applied := c.applied[key]; seq <= applied {
		c.stats.Dropped++
		var v View
		if e, ok := c.entries.peek(key); ok {
			v = View{Value: e.value, FetchedAt: e.fetchedAt, Stale: e.stale}
		}
		c.mu.Unlock()
		c.log(model.LogLevelDebug, "dropped superseded result key=%s seq=%d applied=%d", key, seq, applied)
		return v
	}
	c.applied[key] = seq
	e := c.entries.put(key)
	e.value = value
	e.fetchedAt = c.now()
	e.stale = false
	v := View{Value: e.value, FetchedAt: e.fetchedAt}
	watchers := c.watchersLocked()
	c.mu.Unlock()

	notify(watchers, key, value)
	return v
}

// Set writes value for key as a local (optimistic) change and returns its
// sequence number. Fetches issued before the write can no longer overwrite it.
func (c *Cache) Set(key Key, value any) uint64 {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.applied[key] = seq
	e := c.entries.put(key)
	e.value = value
	if e.fetchedAt.IsZero() {
		e.fetchedAt = c.now()
	}
	watchers := c.watchersLocked()
	c.mu.Unlock()

	notify(watchers, key, value)
	return seq
}

// Rollback restores base for key if the write made at seq is still the latest
// applied value. It reports whether it restored anything.
func (c *Cache) Rollback(key Key, seq uint64, base any) bool {
	c.mu.Lock()
	e, ok := c.entries.peek(key)
	if !ok || c.applied[key] != seq {
		c.mu.Unlock()
		return false
	}
	e.value = base
	watchers := c.watchersLocked()
	c.mu.Unlock()

	notify(watchers, key, base)
	return true
}

// Invalidate marks keys as needing a refetch. A wildcard key invalidates its
// whole kind. In-flight fetches are not joined by later refreshes.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if key.IsWildcard() {
			c.invalidateKindLocked(key.Kind)
			continue
		}
		c.gens[key]++
		if e, ok := c.entries.peek(key); ok {
			e.stale = true
		}
	}
}

func (c *Cache) InvalidateKind(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateKindLocked(kind)
}

func (c *Cache) invalidateKindLocked(kind Kind) {
	c.kindGens[kind]++
	c.entries.each(func(e *entry) {
		if e.key.Kind == kind {
			e.stale = true
		}
	})
}

// Stale lists invalidated keys that are still cached.
func (c *Cache) Stale() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	c.entries.each(func(e *entry) {
		if e.stale {
			keys = append(keys, e.key)
		}
	})
	return keys
}

// Keys lists the cached keys of kind, most recently used first.
func (c *Cache) Keys(kind Kind) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []Key
	c.entries.each(func(e *entry) {
		if e.key.Kind == kind {
			keys = append(keys, e.key)
		}
	})
	return keys
}

// Watch calls fn after every change applied to the cache until the returned
// function is called. fn runs on the writer's goroutine and must not block.
func (c *Cache) Watch(fn func(Key, any)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchID++
	id := c.watchID
	c.watchers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

func (c *Cache) watchersLocked() []func(Key, any) {
	if len(c.watchers) == 0 {
		return nil
	}
	out := make([]func(Key, any), 0, len(c.watchers))
	for _, fn := range c.watchers {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func(Key, any), key Key, value any) {
	for _, fn := range watchers {
		fn(key, value)
	}
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Size = c.entries.len()
	stats.MaxSize = c.entries.maxSize
	c.entries.each(func(e *entry) {
		if !c.freshLocked(e) {
			stats.Stale++
		}
	})
	return stats
}

func (c *Cache) log(level model.LogLevel, format string, args ...any) {
	if level < c.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.Printf("%s %s reconcile: %s", time.Now().Format(time.RFC3339), level, msg)
}
