package scheduler

import "sync"

// KeyedMutex guards the read-decide-update triplet around a single
// SourcePage's state (spec §5): jobs for different pages run concurrently,
// jobs for the same page never do. Locks are created lazily and never
// removed — the roster is a fixed, small set of pages per tenant, so the map
// does not grow unboundedly across a process lifetime.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex returns an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedMutex) lockFor(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// Lock acquires the per-key lock.
func (k *KeyedMutex) Lock(key string) {
	k.lockFor(key).Lock()
}

// Unlock releases the per-key lock.
func (k *KeyedMutex) Unlock(key string) {
	k.lockFor(key).Unlock()
}

// With runs fn while holding key's lock, and releases it even on panic or
// early return. fn should cover only the read-decide-update triplet for key
// (spec §5) — a single bounded repository write is fine, but the fetch,
// render, and LLM calls that produced the decision must already be done
// before With is called, so one slow page never blocks others.
func (k *KeyedMutex) With(key string, fn func()) {
	l := k.lockFor(key)
	l.Lock()
	defer l.Unlock()
	fn()
}
