package reconcile

import (
	"container/list"
	"time"
)

// entry is one cached entity.
type entry struct {
	key       Key
	value     any
	fetchedAt time.Time
	stale     bool
}

// store is an LRU of cache entries. It is not safe for concurrent use; Cache
// guards it with its own mutex.
type store struct {
	items   map[Key]*list.Element
	lru     *list.List
	maxSize int
}

func newStore(maxSize int) *store {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &store{
		items:   make(map[Key]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// get returns the entry for key and marks it most recently used.
func (s *store) get(key Key) (*entry, bool) {
	elem, ok := s.items[key]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(elem)
	return elem.Value.(*entry), true
}

// peek returns the entry without touching LRU order.
func (s *store) peek(key Key) (*entry, bool) {
	elem, ok := s.items[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*entry), true
}

// put returns the entry for key, creating it when missing.
func (s *store) put(key Key) *entry {
	if elem, ok := s.items[key]; ok {
		s.lru.MoveToFront(elem)
		return elem.Value.(*entry)
	}
	e := &entry{key: key}
	s.items[key] = s.lru.PushFront(e)
	if s.lru.Len() > s.maxSize {
		s.evictOldest()
	}
	return e
}

func (s *store) remove(key Key) {
	if elem, ok := s.items[key]; ok {
		s.removeElement(elem)
	}
}

func (s *store) evictOldest() {
	if elem := s.lru.Back(); elem != nil {
		s.removeElement(elem)
	}
}

func (s *store) removeElement(elem *list.Element) {
	s.lru.Remove(elem)
	delete(s.items, elem.Value.(*entry).key)
}

// each calls fn for every entry, most recently used first.
func (s *store) each(fn func(*entry)) {
	for elem := s.lru.Front(); elem != nil; elem = elem.Next() {
		fn(elem.Value.(*entry))
	}
}

func (s *store) len() int { return s.lru.Len() }
