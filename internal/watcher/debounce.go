// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"sync"
	"time"
)

const defaultDebounceDelay = 100 * time.Millisecond

// Debouncer coalesces bursts of keyed work. A session write lands as
// several filesystem events in quick succession (meta tmp file, rename,
// jsonl append); one refresh per project per burst is enough.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[string]*time.Timer
}

// NewDebouncer creates a debouncer. A non-positive delay uses the default.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = defaultDebounceDelay
	}
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*time.Timer),
	}
}

// Debounce schedules fn to run after the delay. Another call with the same
// key before it fires restarts the clock and replaces the callback, so a
// burst collapses into the last call.
func (d *Debouncer) Debounce(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[key]; ok {
		timer.Stop()
	}
	d.pending[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops a pending callback for the key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[key]; ok {
		timer.Stop()
		delete(d.pending, key)
	}
}

// Stop drops every pending callback. Used on watcher shutdown so no
// refresh fires into torn-down components.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, timer := range d.pending {
		timer.Stop()
		delete(d.pending, key)
	}
}
