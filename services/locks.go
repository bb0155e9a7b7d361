package services

import (
	"sort"
	"sync"

	"github.com/cpbr-dev/Clog-Bot/models"
)

// AccountLocks serializes writers of the same account name (case-insensitive).
// Entries are dropped once nobody holds or waits for them.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*accountLock)}
}

// Lock blocks until the named account is free and returns the unlock func.
func (l *AccountLocks) Lock(name string) func() {
	key := models.NameKey(name)

	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &accountLock{}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// LockMany locks several names in a stable order so two callers cannot deadlock.
func (l *AccountLocks) LockMany(names ...string) func() {
	keys := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		k := models.NameKey(n)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	unlocks := make([]func(), 0, len(keys))
	for _, k := range keys {
		unlocks = append(unlocks, l.Lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (l *AccountLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
