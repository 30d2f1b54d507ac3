package utils

import (
	"sync"
)

// KeyMutex provides at-most-one in-flight holder per key. Entries are
// created on demand and garbage-collected once uncontended, so the map
// never grows with the number of keys ever seen.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyMutex() *KeyMutex {
	return &KeyMutex{
		locks: map[string]*keyLock{},
	}
}

// Lock blocks until the key's mutex is held.
func (km *KeyMutex) Lock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the key's mutex and drops the entry when no other
// goroutine is waiting on it.
func (km *KeyMutex) Unlock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		km.mu.Unlock()
		panic("keymutex: unlock of unheld key " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	l.mu.Unlock()
}

// Len returns the number of live entries.
func (km *KeyMutex) Len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
