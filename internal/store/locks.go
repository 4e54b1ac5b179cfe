// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import "sync"

// lockMap hands out one mutex per key so writers to the same session
// serialize while unrelated sessions proceed in parallel. Entries are
// refcounted and dropped when the last holder releases, so the map does
// not grow with the number of sessions ever touched.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the per-key lock is held and returns the release func.
func (lm *lockMap) acquire(key string) func() {
	lm.mu.Lock()
	e, ok := lm.locks[key]
	if !ok {
		e = &lockEntry{}
		lm.locks[key] = e
	}
	e.refs++
	lm.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		lm.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(lm.locks, key)
		}
		lm.mu.Unlock()
	}
}
