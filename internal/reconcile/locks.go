package reconcile

import (
	"fmt"
	"sort"
	"sync"
)

// keyedMutex serialises work per Backlog Item. Entries are reference
// counted and dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*refMutex),
	}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		return
	}
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	m.Unlock()
}

// LockAll acquires every non-empty key in sorted order, so two callers
// sharing keys cannot deadlock, and returns the matching unlock.
func (k *keyedMutex) LockAll(keys ...string) func() {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	sort.Strings(unique)

	for _, key := range unique {
		k.Lock(key)
	}
	return func() {
		for i := len(unique) - 1; i >= 0; i-- {
			k.Unlock(unique[i])
		}
	}
}

func pageKey(pageID string) string {
	if pageID == "" {
		return ""
	}
	return "page:" + pageID
}

func workItemKey(id int) string {
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("workitem:%d", id)
}
