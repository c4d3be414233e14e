package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/backend/backendtest"
	"github.com/msageha/autosteer/internal/model"
)

func newNotesFixture(t *testing.T) (*backendtest.Fake, *Cache, *NotesEditor) {
	t.Helper()
	fake := backendtest.New()
	fake.PutTask(model.Task{ID: "task_a", Title: "A", Status: model.TaskStatusTodo, Notes: "a notes"})
	fake.PutTask(model.Task{ID: "task_b", Title: "B", Status: model.TaskStatusTodo, Notes: "b notes"})
	cache := newTestCache(BackendFetcher(fake))
	editor := NewNotesEditor(cache, fake)
	t.Cleanup(editor.Attach())
	return fake, cache, editor
}

func TestNotesEditor_RefreshPreservesEditAndTaskSwitchDropsIt(t *testing.T) {
	fake, cache, editor := newNotesFixture(t)
	ctx := context.Background()

	notes, err := editor.Open(ctx, "task_a")
	require.NoError(t, err)
	assert.Equal(t, "a notes", notes)

	editor.Edit("typing about A")

	// A background refresh brings an unrelated change to task A.
	fake.PutTask(model.Task{ID: "task_a", Title: "A renamed", Status: model.TaskStatusInProgress, Notes: "a notes"})
	_, err = cache.Refresh(ctx, TaskKey("task_a"))
	require.NoError(t, err)
	_, err = cache.Refresh(ctx, TasksKey())
	require.NoError(t, err)

	assert.Equal(t, "typing about A", editor.Value())
	assert.True(t, editor.Dirty())
	assert.False(t, editor.ExternalChange())

	notes, err = editor.Open(ctx, "task_b")
	require.NoError(t, err)
	assert.Equal(t, "b notes", notes)
	assert.False(t, editor.Dirty())

	notes, err = editor.Open(ctx, "task_a")
	require.NoError(t, err)
	assert.Equal(t, "a notes", notes, "task A's unsaved draft must not survive a switch")
}

func TestNotesEditor_ExternalChangeDetected(t *testing.T) {
	fake, cache, editor := newNotesFixture(t)
	ctx := context.Background()

	_, err := editor.Open(ctx, "task_a")
	require.NoError(t, err)
	editor.Edit("mine")

	fake.PutTask(model.Task{ID: "task_a", Status: model.TaskStatusTodo, Notes: "theirs"})
	_, err = cache.Refresh(ctx, TaskKey("task_a"))
	require.NoError(t, err)

	assert.Equal(t, "mine", editor.Value())
	assert.True(t, editor.ExternalChange())

	editor.Discard()
	assert.Equal(t, "theirs", editor.Value())
}

func TestNotesEditor_Save(t *testing.T) {
	fake, cache, editor := newNotesFixture(t)
	ctx := context.Background()

	_, err := editor.Open(ctx, "task_a")
	require.NoError(t, err)
	editor.Edit("saved notes")

	fake.FailNext(backend.CmdUpdateTaskNotes, model.NewTransportError(backend.CmdUpdateTaskNotes, errors.New("timeout")))
	err = editor.Save(ctx)
	require.Error(t, err)
	assert.True(t, model.IsTransportError(err))
	assert.True(t, editor.Dirty(), "failed save keeps the draft")

	require.NoError(t, editor.Save(ctx))
	assert.False(t, editor.Dirty())
	assert.Equal(t, "saved notes", editor.Value())
	assert.Contains(t, cache.Stale(), TaskKey("task_a"))

	v := cache.Get(ctx, TaskKey("task_a"))
	task, ok := Typed[model.Task](v)
	require.True(t, ok)
	assert.Equal(t, "saved notes", task.Notes)
}

func TestNotesEditor_SaveWithoutTask(t *testing.T) {
	_, _, editor := newNotesFixture(t)
	assert.Error(t, editor.Save(context.Background()))
}

func TestNotesEditor_TypingDuringSaveIsNotExternalChange(t *testing.T) {
	fake, cache, editor := newNotesFixture(t)
	ctx := context.Background()

	_, err := editor.Open(ctx, "task_a")
	require.NoError(t, err)
	editor.Edit("draft1")

	release := fake.Gate(backend.CmdUpdateTaskNotes)
	saved := make(chan error)
	go func() { saved <- editor.Save(ctx) }()
	require.Eventually(t, func() bool { return fake.Calls(backend.CmdUpdateTaskNotes) == 1 }, 2*time.Second, 5*time.Millisecond)

	editor.Edit("draft1 more")
	release()
	require.NoError(t, <-saved)

	assert.True(t, editor.Dirty())
	assert.Equal(t, "draft1 more", editor.Value())

	_, err = cache.Refresh(ctx, TaskKey("task_a"))
	require.NoError(t, err)
	assert.False(t, editor.ExternalChange())
	assert.Equal(t, "draft1 more", editor.Value())
}
