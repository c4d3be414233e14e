package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/model"
)

// NotesEditor holds the notes draft of the task currently open in the editor.
// Background refreshes of that task update the server side of the field but
// never overwrite an unsaved draft; opening another task starts clean.
type NotesEditor struct {
	mu     sync.Mutex
	cache  *Cache
	client backend.Client
	field  Field[string]
}

func NewNotesEditor(cache *Cache, client backend.Client) *NotesEditor {
	return &NotesEditor{cache: cache, client: client}
}

// Open switches the editor to taskID and returns the notes to display.
func (n *NotesEditor) Open(ctx context.Context, taskID string) (string, error) {
	view := n.cache.Get(ctx, TaskKey(taskID))
	task, ok := Typed[model.Task](view)
	if !ok {
		if view.Err != nil {
			return "", fmt.Errorf("open notes for %s: %w", taskID, view.Err)
		}
		return "", fmt.Errorf("open notes for %s: unexpected cache value %T", taskID, view.Value)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.field.Sync(taskID, task.Notes)
	return n.field.Value(), nil
}

// Attach follows cache updates of the open task until the returned function is
// called.
func (n *NotesEditor) Attach() func() {
	return n.cache.Watch(func(key Key, value any) {
		switch key.Kind {
		case KindTask:
			if task, ok := value.(model.Task); ok {
				n.observe(task)
			}
		case KindTasks:
			if tasks, ok := value.([]model.Task); ok {
				n.mu.Lock()
				id := n.field.Identity()
				n.mu.Unlock()
				for _, task := range tasks {
					if task.ID == id {
						n.observe(task)
						break
					}
				}
			}
		}
	})
}

func (n *NotesEditor) observe(task model.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if task.ID != n.field.Identity() || task.ID == "" {
		return
	}
	n.field.Sync(task.ID, task.Notes)
}

func (n *NotesEditor) Edit(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.field.Edit(text)
}

func (n *NotesEditor) TaskID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.field.Identity()
}

func (n *NotesEditor) Value() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.field.Value()
}

func (n *NotesEditor) Dirty() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.field.Dirty()
}

// ExternalChange reports whether the server notes changed under an unsaved edit.
func (n *NotesEditor) ExternalChange() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.field.ExternalChange()
}

// Discard drops the unsaved draft.
func (n *NotesEditor) Discard() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.field.Discard()
}

// Save sends the draft. On failure the draft stays dirty. On success the task
// is invalidated so the saved notes are confirmed by a refetch; edits made
// while the save was in flight stay dirty against the saved text.
func (n *NotesEditor) Save(ctx context.Context) error {
	n.mu.Lock()
	id, draft, dirty := n.field.Identity(), n.field.Draft(), n.field.Dirty()
	n.mu.Unlock()
	if id == "" {
		return fmt.Errorf("save notes: no task open")
	}
	if !dirty {
		return nil
	}

	task, err := n.client.UpdateTaskNotes(ctx, id, draft)
	if err != nil {
		return fmt.Errorf("save notes for %s: %w", id, err)
	}

	n.mu.Lock()
	if n.field.Identity() == id {
		if n.field.Draft() == draft {
			n.field.Commit(task.Notes)
		} else {
			n.field.Rebase(task.Notes)
		}
	}
	n.mu.Unlock()

	n.cache.Invalidate(TaskKey(id), TasksKey())
	return nil
}
