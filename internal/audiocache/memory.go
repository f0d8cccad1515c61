package audiocache

import (
	"container/list"
	"context"
	"sync"
)

// MemoryStore is an in-process LRU store bounded by total audio bytes.
type MemoryStore struct {
	capacity int64
	size     int64

	items    map[string]*list.Element
	eviction *list.List

	mu    sync.Mutex
	stats Stats
}

// NewMemoryStore returns an LRU store holding at most capacity bytes of
// audio.
func NewMemoryStore(capacity int64) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats:    Stats{Backend: "memory", Capacity: capacity},
	}
}

// Lookup returns the entry for key and marks it most recently used.
func (m *MemoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		m.stats.Misses++
		return Entry{}, false, nil
	}

	m.eviction.MoveToFront(elem)
	m.stats.Hits++
	return elem.Value.(Entry), true, nil
}

// Upsert stores an entry, evicting the least recently used ones until it
// fits.
func (m *MemoryStore) Upsert(_ context.Context, e Entry) error {
	e = normalize(e)
	n := int64(len(e.Audio))

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[e.Key]; ok {
		old := elem.Value.(Entry)
		m.size += n - int64(len(old.Audio))
		elem.Value = e
		m.eviction.MoveToFront(elem)
		for m.size > m.capacity && m.eviction.Len() > 1 {
			m.evictOldest()
		}
		return nil
	}

	if n > m.capacity {
		return ErrItemTooLarge
	}

	for m.size+n > m.capacity && m.eviction.Len() > 0 {
		m.evictOldest()
	}

	m.items[e.Key] = m.eviction.PushFront(e)
	m.size += n
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Stats returns usage counters.
func (m *MemoryStore) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.Size = m.size
	s.ItemCount = int64(len(m.items))
	s.computeHitRate()
	return s
}

// must be called with the lock held
func (m *MemoryStore) evictOldest() {
	elem := m.eviction.Back()
	if elem == nil {
		return
	}
	m.eviction.Remove(elem)
	e := elem.Value.(Entry)
	delete(m.items, e.Key)
	m.size -= int64(len(e.Audio))
	m.stats.Evictions++
}
