package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/msageha/autosteer/internal/model"
)

// Poller refreshes operational entities on a fixed interval. Configuration
// entities are left to Cache.Get's staleness window.
type Poller struct {
	cache    *Cache
	interval time.Duration
	logger   *log.Logger
	logLevel model.LogLevel
}

func NewPoller(cache *Cache, interval time.Duration, logger *log.Logger, logLevel model.LogLevel) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{cache: cache, interval: interval, logger: logger, logLevel: logLevel}
}

// Run ticks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick refreshes the operational singletons plus every cached task and
// execution state. It returns the number of failed refreshes; failures keep
// the previous value.
func (p *Poller) Tick(ctx context.Context) int {
	keys := []Key{QueueStatusKey(), ProcessesKey(), TasksKey()}
	keys = append(keys, p.cache.Keys(KindTask)...)
	keys = append(keys, p.cache.Keys(KindExecutionState)...)

	failed := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return failed
		}
		if _, err := p.cache.Refresh(ctx, key); err != nil {
			failed++
			p.log(model.LogLevelWarn, "poll key=%s error=%v", key, err)
		}
	}
	if failed > 0 {
		p.log(model.LogLevelDebug, "poll tick keys=%d failed=%d", len(keys), failed)
	}
	return failed
}

func (p *Poller) log(level model.LogLevel, format string, args ...any) {
	if level < p.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	p.logger.Printf("%s %s poller: %s", time.Now().Format(time.RFC3339), level, msg)
}
