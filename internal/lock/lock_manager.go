// internal/lock/lock_manager.go
package lock

import (
	"sync"
)

// LockManager hands out one RWMutex per key. Entries are reference counted
// and dropped once no goroutine holds or waits for them.
type LockManager struct {
	locks      map[string]*lockInfo
	globalLock sync.Mutex
}

type lockInfo struct {
	mutex    sync.RWMutex
	refCount int
}

func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*lockInfo)}
}

func (lm *LockManager) acquire(key string) *lockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.locks[key]
	if !exists {
		info = &lockInfo{}
		lm.locks[key] = info
	}
	info.refCount++
	return info
}

func (lm *LockManager) release(key string, info *lockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info.refCount--
	if info.refCount == 0 {
		delete(lm.locks, key)
	}
}

// ExecuteWithLock runs fn while holding the exclusive lock for key.
func (lm *LockManager) ExecuteWithLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(key, info)

	info.mutex.Lock()
	defer info.mutex.Unlock()
	return fn()
}

// ExecuteWithReadLock runs fn while holding the shared lock for key.
func (lm *LockManager) ExecuteWithReadLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(key, info)

	info.mutex.RLock()
	defer info.mutex.RUnlock()
	return fn()
}

// Len reports how many keys currently have a live lock.
func (lm *LockManager) Len() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}
