package application

import (
	"context"
	"sort"
	"sync"
)

// LockManager hands out exclusive sections keyed by string. Keys are always
// acquired in sorted order so that callers locking overlapping sets cannot
// deadlock. Entries are dropped once nobody holds or waits for them.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

// NewLockManager constructs an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*keyedLock)}
}

// Lock acquires every key and returns a function releasing them. It gives up
// when ctx is done, releasing whatever it already holds.
func (m *LockManager) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := sortedUnique(keys)
	held := make([]string, 0, len(ordered))

	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.release(held[i])
		}
	}

	for _, key := range ordered {
		lock := m.acquireRef(key)
		select {
		case lock.sem <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			m.dropRef(key)
			unlock()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(unlock) }, nil
}

// Held reports how many keys are currently tracked.
func (m *LockManager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *LockManager) acquireRef(key string) *keyedLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &keyedLock{sem: make(chan struct{}, 1)}
		m.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (m *LockManager) dropRef(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, key)
	}
}

func (m *LockManager) release(key string) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	<-lock.sem
	m.dropRef(key)
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func courseLockKey(id string) string     { return "course:" + id }
func sessionLockKey(id string) string    { return "session:" + id }
func bookingLockKey(id string) string    { return "booking:" + id }
func locationLockKey(id string) string   { return "location:" + id }
func instructorLockKey(id string) string { return "instructor:" + id }
func waitlistLockKey(id string) string   { return "waitlist:" + id }
