// Package notify shows toast-style desktop notices for failed operator actions.
package notify

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/msageha/autosteer/internal/model"
)

// RepeatWindow is how long an identical notice stays suppressed after it was
// shown.
const RepeatWindow = 30 * time.Second

// Notifier logs every notice and, when enabled and the host has a desktop
// notifier, also shows it. Identical notices inside RepeatWindow are shown
// once.
type Notifier struct {
	deliver  deliverFunc
	now      func() time.Time
	logger   *log.Logger
	logLevel model.LogLevel

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewNotifier(cfg model.NotifyConfig, logger *log.Logger, logLevel model.LogLevel) *Notifier {
	n := &Notifier{
		now:      time.Now,
		logger:   logger,
		logLevel: logLevel,
		lastSeen: make(map[string]time.Time),
	}
	if cfg.Enabled {
		n.deliver = desktop()
	}
	return n
}

// Notify never fails; a desktop delivery error is only logged.
func (n *Notifier) Notify(title, message string) {
	n.log(model.LogLevelWarn, "%s: %s", title, message)
	if n.deliver == nil || n.repeated(title+"\x00"+message) {
		return
	}
	if err := n.deliver(title, message); err != nil {
		n.log(model.LogLevelDebug, "desktop notice failed: %v", err)
	}
}

func (n *Notifier) repeated(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	for k, t := range n.lastSeen {
		if now.Sub(t) >= RepeatWindow {
			delete(n.lastSeen, k)
		}
	}
	if _, ok := n.lastSeen[key]; ok {
		return true
	}
	n.lastSeen[key] = now
	return false
}

func (n *Notifier) log(level model.LogLevel, format string, args ...any) {
	if n.logger == nil || level < n.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	n.logger.Printf("%s %s notify: %s", time.Now().Format(time.RFC3339), level, msg)
}
