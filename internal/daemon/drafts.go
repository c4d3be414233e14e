package daemon

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/profile"
	"github.com/msageha/autosteer/internal/status"
)

// draftWatch keeps the validation result of every local draft current as the
// files change.
type draftWatch struct {
	store    *profile.Store
	logger   *log.Logger
	logLevel model.LogLevel

	mu     sync.Mutex
	issues map[string]int
}

func newDraftWatch(store *profile.Store, logger *log.Logger, logLevel model.LogLevel) *draftWatch {
	return &draftWatch{
		store:    store,
		logger:   logger,
		logLevel: logLevel,
		issues:   make(map[string]int),
	}
}

// draftID returns the id a path in the drafts dir stores, or "" for backups
// and temp files.
func draftID(path string) string {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".yaml") {
		return ""
	}
	return strings.TrimSuffix(name, ".yaml")
}

func (w *draftWatch) handle(event fsnotify.Event) {
	id := draftID(event.Name)
	if id == "" {
		return
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.forget(id)
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		w.check(id)
	}
}

// scan re-validates every stored draft.
func (w *draftWatch) scan() {
	drafts, err := w.store.List("")
	if err != nil {
		w.log(model.LogLevelWarn, "list drafts: %v", err)
		return
	}
	for _, d := range drafts {
		w.check(d.ID)
	}
}

func (w *draftWatch) check(id string) {
	d, err := w.store.Load(id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			w.forget(id)
			return
		}
		w.log(model.LogLevelWarn, "draft %s unreadable: %v", id, err)
		return
	}

	n := 0
	if ve := d.Validate(); ve.HasErrors() {
		n = len(ve.Errors)
		w.log(model.LogLevelWarn, "draft %s has %d validation issues: %v", id, n, ve)
	} else {
		w.log(model.LogLevelDebug, "draft %s valid dirty=%t", id, d.Dirty())
	}

	w.mu.Lock()
	w.issues[id] = n
	w.mu.Unlock()
}

func (w *draftWatch) forget(id string) {
	w.mu.Lock()
	delete(w.issues, id)
	w.mu.Unlock()
}

// lines returns the current draft listing with validation counts.
func (w *draftWatch) lines() []status.DraftLine {
	w.mu.Lock()
	issues := make(map[string]int, len(w.issues))
	for id, n := range w.issues {
		issues[id] = n
	}
	w.mu.Unlock()
	return status.LocalDrafts(w.store, issues)
}

func (w *draftWatch) issueCount(id string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.issues[id]
	return n, ok
}

func (w *draftWatch) log(level model.LogLevel, format string, args ...any) {
	if level < w.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	w.logger.Printf("%s %s drafts: %s", time.Now().Format(time.RFC3339), level, msg)
}
