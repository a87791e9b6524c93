// Package syncx provides small concurrency utilities used across the project.
package syncx

import "sync"

// KeyedMutex is a registry of per-key locks. It guarantees at most one
// holder per key at any time. Entries are created lazily under the registry
// lock and never removed, so the key space must be bounded externally.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex returns an empty registry.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the lock for key is held and returns its release
// function. No fairness or bounded-wait guarantee.
func (k *KeyedMutex) Acquire(key string) (release func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Len reports the number of registered keys.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
