// Package concurrency provides per-key locks that respect context deadlines.
package concurrency

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// LockManager hands out one exclusive lock per key. Entries are dropped once
// nobody holds or waits on them, so the key space can be unbounded.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewLockManager creates a new LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*entry)}
}

func (lm *LockManager) ref(key string) *entry {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e, ok := lm.locks[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		lm.locks[key] = e
	}
	e.refs++
	return e
}

func (lm *LockManager) unref(key string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if e, ok := lm.locks[key]; ok {
		e.refs--
		if e.refs == 0 {
			delete(lm.locks, key)
		}
	}
}

// Lock acquires key or returns ctx.Err().
func (lm *LockManager) Lock(ctx context.Context, key string) error {
	e := lm.ref(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		lm.unref(key)
		return err
	}
	return nil
}

// Unlock releases key. It must only be called after a successful Lock.
func (lm *LockManager) Unlock(key string) {
	lm.mu.Lock()
	e, ok := lm.locks[key]
	lm.mu.Unlock()
	if !ok {
		return
	}
	e.sem.Release(1)
	lm.unref(key)
}

// LockAll acquires every distinct key in sorted order, so two callers locking
// overlapping sets cannot deadlock. The returned func releases them all.
func (lm *LockManager) LockAll(ctx context.Context, keys ...string) (func(), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for i, k := range sorted {
		if err := lm.Lock(ctx, k); err != nil {
			for _, held := range sorted[:i] {
				lm.Unlock(held)
			}
			return nil, err
		}
	}
	return func() {
		for j := len(sorted) - 1; j >= 0; j-- {
			lm.Unlock(sorted[j])
		}
	}, nil
}

// Len returns the number of keys currently held or awaited.
func (lm *LockManager) Len() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}
