package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/msageha/autosteer/internal/events"
	"github.com/msageha/autosteer/internal/model"
)

// EventKeys maps a push event onto the cache keys it makes out of date.
func EventKeys(e events.Event) []Key {
	switch e.Type {
	case events.EventTaskStatusChanged:
		keys := []Key{TasksKey()}
		if e.TaskID != "" {
			keys = append(keys, TaskKey(e.TaskID))
		}
		return keys
	case events.EventProcessStarted, events.EventProcessCompleted:
		keys := []Key{ProcessesKey(), QueueStatusKey()}
		if e.TaskID != "" {
			keys = append(keys, TaskKey(e.TaskID), ExecutionStateKey(e.TaskID))
		}
		return keys
	case events.EventQueueStatusChanged, events.EventRateLimitNotified:
		return []Key{QueueStatusKey()}
	case events.EventExecutionStateChanged:
		if e.TaskID == "" {
			return []Key{AllOf(KindExecutionState)}
		}
		return []Key{ExecutionStateKey(e.TaskID)}
	default:
		return nil
	}
}

// Reconciler invalidates and refetches cache entries named by push events.
// Push payloads are never written into the cache directly.
type Reconciler struct {
	cache    *Cache
	bus      *events.Bus
	logger   *log.Logger
	logLevel model.LogLevel
}

func NewReconciler(cache *Cache, bus *events.Bus, logger *log.Logger, logLevel model.LogLevel) *Reconciler {
	return &Reconciler{cache: cache, bus: bus, logger: logger, logLevel: logLevel}
}

// Start subscribes to every push event type. Refetches run with ctx. The
// returned function unsubscribes.
func (r *Reconciler) Start(ctx context.Context) func() {
	return r.bus.Subscribe(func(e events.Event) {
		r.Handle(ctx, e)
	}, events.PushTypes...)
}

// Handle invalidates the keys e names and refetches those that are cached or
// are operational singletons.
func (r *Reconciler) Handle(ctx context.Context, e events.Event) {
	keys := EventKeys(e)
	if len(keys) == 0 {
		return
	}
	r.cache.Invalidate(keys...)

	var refetch []Key
	for _, key := range keys {
		switch {
		case key.IsWildcard():
			refetch = append(refetch, r.cache.Keys(key.Kind)...)
		case key.ID == "":
			refetch = append(refetch, key)
		default:
			if _, ok := r.cache.Peek(key); ok {
				refetch = append(refetch, key)
			}
		}
	}
	for _, key := range refetch {
		if _, err := r.cache.Refresh(ctx, key); err != nil {
			r.log(model.LogLevelWarn, "refetch after %s key=%s error=%v", e.Type, key, err)
		}
	}
	r.log(model.LogLevelDebug, "event=%s invalidated=%d refetched=%d", e.Type, len(keys), len(refetch))
}

func (r *Reconciler) log(level model.LogLevel, format string, args ...any) {
	if level < r.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	r.logger.Printf("%s %s reconciler: %s", time.Now().Format(time.RFC3339), level, msg)
}
