package coordinator

import "sync"

// keyedMutex hands out one mutex per key so unrelated takers never contend.
// Entries are reference counted and dropped when the last holder releases.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// lock blocks until the key's mutex is held and returns the release func.
func (m *keyedMutex) lock(key string) func() {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &lockEntry{}
		m.entries[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		m.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}
