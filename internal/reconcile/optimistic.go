package reconcile

import "context"

// Command computes an optimistic state from base. It must not modify base.
type Command[S any] interface {
	Apply(base S) (S, error)
}

type CommandFunc[S any] func(base S) (S, error)

func (f CommandFunc[S]) Apply(base S) (S, error) { return f(base) }

// Pending is an optimistic change written to the cache and not yet confirmed.
type Pending[S any] struct {
	Key   Key
	Base  S
	State S

	cache *Cache
	seq   uint64
}

// Apply runs cmd against base and writes the result to key.
func Apply[S any](cache *Cache, key Key, base S, cmd Command[S]) (*Pending[S], error) {
	next, err := cmd.Apply(base)
	if err != nil {
		return nil, err
	}
	seq := cache.Set(key, next)
	return &Pending[S]{Key: key, Base: base, State: next, cache: cache, seq: seq}, nil
}

// Rollback restores Base unless a newer fetch has already replaced the
// optimistic value.
func (p *Pending[S]) Rollback() bool {
	return p.cache.Rollback(p.Key, p.seq, p.Base)
}

// Confirm invalidates the key and refetches it so the server, not the
// optimistic value, has the last word.
func (p *Pending[S]) Confirm(ctx context.Context) error {
	p.cache.Invalidate(p.Key)
	_, err := p.cache.Refresh(ctx, p.Key)
	return err
}
