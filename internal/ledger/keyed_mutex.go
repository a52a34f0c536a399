package ledger

import "sync"

// keyedMutex serializes mutations per shipment without a global lock.
// Entries are reference counted so the map does not grow without bound.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// lock acquires the mutex for key and returns its release function.
func (km *keyedMutex) lock(key string) func() {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		entry = &lockEntry{}
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		km.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
