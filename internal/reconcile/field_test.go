package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	assert.Equal(t, "server", Merge("server", "draft", false))
	assert.Equal(t, "draft", Merge("server", "draft", true))
	assert.Equal(t, 0, Merge(0, 7, false))
}

func TestField_RefreshKeepsDirtyDraft(t *testing.T) {
	var f Field[string]
	f.Sync("task_a", "first notes")
	assert.Equal(t, "first notes", f.Value())

	f.Edit("my unsaved edit")
	f.Sync("task_a", "first notes")
	assert.Equal(t, "my unsaved edit", f.Value())
	assert.False(t, f.ExternalChange(), "same server value is not an external change")

	f.Sync("task_a", "someone else wrote this")
	assert.Equal(t, "my unsaved edit", f.Value())
	assert.True(t, f.ExternalChange())
	assert.Equal(t, "someone else wrote this", f.Server())
	assert.Equal(t, "first notes", f.Synced())
}

func TestField_CleanFieldFollowsServer(t *testing.T) {
	var f Field[string]
	f.Sync("task_a", "v1")
	f.Sync("task_a", "v2")
	assert.Equal(t, "v2", f.Value())
	assert.False(t, f.Dirty())
	assert.False(t, f.ExternalChange())
}

func TestField_IdentityChangeDropsDraft(t *testing.T) {
	var f Field[string]
	f.Sync("task_a", "a notes")
	f.Edit("draft for a")

	f.Sync("task_b", "b notes")
	assert.Equal(t, "b notes", f.Value())
	assert.False(t, f.Dirty())
	assert.Equal(t, "task_b", f.Identity())

	f.Sync("task_a", "a notes")
	assert.Equal(t, "a notes", f.Value(), "draft for a must not come back")
}

func TestField_CommitAndDiscard(t *testing.T) {
	var f Field[string]
	f.Sync("t", "v1")
	f.Edit("v2")
	f.Commit("v2")
	assert.False(t, f.Dirty())
	assert.Equal(t, "v2", f.Synced())

	f.Edit("v3")
	f.Sync("t", "v4")
	f.Discard()
	assert.Equal(t, "v4", f.Value())
	assert.False(t, f.Dirty())
	assert.False(t, f.ExternalChange())
}

func TestField_RebaseKeepsNewerDraft(t *testing.T) {
	var f Field[string]
	f.Sync("t", "v1")
	f.Edit("draft1 more")
	f.Rebase("draft1")

	assert.True(t, f.Dirty())
	assert.Equal(t, "draft1", f.Synced())
	assert.Equal(t, "draft1 more", f.Value())

	f.Sync("t", "draft1")
	assert.False(t, f.ExternalChange(), "our own saved text is not an external change")

	f.Sync("t", "theirs")
	assert.True(t, f.ExternalChange())
}
