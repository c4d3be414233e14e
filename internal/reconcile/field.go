package reconcile

// Merge is the displayed value of an editable field: the local draft while it
// is dirty, the server value otherwise.
func Merge[T any](server, draft T, dirty bool) T {
	if dirty {
		return draft
	}
	return server
}

// Field is one user-editable value kept in step with the server. It remembers
// the server value the current edit started from, so a refresh that changes
// the server value while the user is typing is reported as an external change
// instead of silently replacing the draft.
//
// Identity names the entity the field belongs to (a task id for notes). Syncing
// a different identity discards the draft.
type Field[T comparable] struct {
	identity string
	server   T
	synced   T
	draft    T
	dirty    bool
	external bool
}

// Sync records a value read from the server for identity.
func (f *Field[T]) Sync(identity string, server T) {
	if identity != f.identity {
		*f = Field[T]{identity: identity, server: server, synced: server, draft: server}
		return
	}
	f.server = server
	if f.dirty {
		f.external = server != f.synced
		return
	}
	f.synced = server
	f.draft = server
	f.external = false
}

// Edit replaces the draft and marks the field dirty.
func (f *Field[T]) Edit(v T) {
	f.draft = v
	f.dirty = true
}

func (f *Field[T]) Value() T {
	return Merge(f.server, f.draft, f.dirty)
}

// Commit records that v was saved; the field becomes clean.
func (f *Field[T]) Commit(v T) {
	f.server = v
	f.synced = v
	f.draft = v
	f.dirty = false
	f.external = false
}

// Rebase records that v was saved while the draft moved on past it. The draft
// stays dirty, now relative to v.
func (f *Field[T]) Rebase(v T) {
	if !f.dirty || f.draft == v {
		f.Commit(v)
		return
	}
	f.server = v
	f.synced = v
	f.external = false
}

// Discard drops the draft in favor of the latest server value.
func (f *Field[T]) Discard() {
	f.Commit(f.server)
}

func (f *Field[T]) Identity() string { return f.identity }
func (f *Field[T]) Server() T        { return f.server }
func (f *Field[T]) Synced() T        { return f.synced }
func (f *Field[T]) Draft() T         { return f.draft }
func (f *Field[T]) Dirty() bool      { return f.dirty }

// ExternalChange reports whether the server value moved away from the one the
// current edit started from.
func (f *Field[T]) ExternalChange() bool { return f.external }
