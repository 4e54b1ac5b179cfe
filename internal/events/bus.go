// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// ErrSubscriptionNotFound is returned when unsubscribing an unknown id.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// BusConfig configures the in-memory bus.
type BusConfig struct {
	HistoryMaxEvents int
	HistoryMaxAge    time.Duration
}

// Bus is an in-memory pub/sub bus with bounded history. Synchronous
// subscribers run inline on the publisher's goroutine; async subscribers get
// a buffered channel and drops are logged rather than blocking publishers.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[SubscriptionID]*subscription
	history       *History
	closed        atomic.Bool
	wg            sync.WaitGroup
	nextID        uint64
	stopPruner    chan struct{}
}

type subscription struct {
	id      SubscriptionID
	pattern Pattern
	handler Handler
	async   bool
	ch      chan Event
	stopCh  chan struct{}
}

// NewBus creates a bus and starts its history pruner.
func NewBus(cfg BusConfig) *Bus {
	bus := &Bus{
		subscriptions: make(map[SubscriptionID]*subscription),
		history: NewHistory(HistoryConfig{
			MaxEvents: cfg.HistoryMaxEvents,
			MaxAge:    cfg.HistoryMaxAge,
		}),
		stopPruner: make(chan struct{}),
	}

	pruneInterval := cfg.HistoryMaxAge / 10
	if pruneInterval < time.Minute {
		pruneInterval = time.Minute
	}
	if pruneInterval > time.Hour {
		pruneInterval = time.Hour
	}

	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-bus.stopPruner:
				return
			case <-ticker.C:
				bus.history.Prune()
			}
		}
	}()

	return bus
}

// Publish records the event in history and delivers it to matching
// subscribers. Missing id/timestamp fields are filled in.
func (bus *Bus) Publish(ctx context.Context, event Event) error {
	if bus.closed.Load() {
		return ErrBusClosed
	}

	if event.ID == "" {
		event.ID = bus.generateID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	bus.history.Add(event)

	bus.mu.RLock()
	subs := make([]*subscription, 0, len(bus.subscriptions))
	for _, sub := range bus.subscriptions {
		subs = append(subs, sub)
	}
	bus.mu.RUnlock()

	for _, sub := range subs {
		if !sub.pattern.Match(event.Type) {
			continue
		}
		if sub.async {
			select {
			case sub.ch <- event:
			default:
				log.Printf("events: dropped %s, subscriber buffer full", event.Type)
			}
		} else {
			invoke(ctx, sub.handler, event)
		}
	}
	return nil
}

// invoke runs a handler with panic protection; a panicking subscriber must
// not take the publisher down.
func invoke(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: handler panic for %s: %v", event.Type, r)
		}
	}()
	handler(ctx, event)
}

// Subscribe registers a synchronous handler for events matching pattern.
func (bus *Bus) Subscribe(pattern string, handler Handler) (SubscriptionID, error) {
	if bus.closed.Load() {
		return "", ErrBusClosed
	}
	compiled, err := CompilePattern(pattern)
	if err != nil {
		return "", err
	}

	id := SubscriptionID(bus.generateID())
	bus.mu.Lock()
	bus.subscriptions[id] = &subscription{id: id, pattern: compiled, handler: handler}
	bus.mu.Unlock()
	return id, nil
}

// SubscribeAsync registers a handler fed from a buffered channel on its own
// goroutine.
func (bus *Bus) SubscribeAsync(pattern string, handler Handler, bufferSize int) (SubscriptionID, error) {
	if bus.closed.Load() {
		return "", ErrBusClosed
	}
	compiled, err := CompilePattern(pattern)
	if err != nil {
		return "", err
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}

	id := SubscriptionID(bus.generateID())
	sub := &subscription{
		id:      id,
		pattern: compiled,
		handler: handler,
		async:   true,
		ch:      make(chan Event, bufferSize),
		stopCh:  make(chan struct{}),
	}

	bus.mu.Lock()
	bus.subscriptions[id] = sub
	bus.mu.Unlock()

	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		for {
			select {
			case <-sub.stopCh:
				return
			case event := <-sub.ch:
				invoke(context.Background(), handler, event)
			}
		}
	}()

	return id, nil
}

// Unsubscribe removes a subscription.
func (bus *Bus) Unsubscribe(id SubscriptionID) error {
	bus.mu.Lock()
	sub, ok := bus.subscriptions[id]
	if ok {
		delete(bus.subscriptions, id)
	}
	bus.mu.Unlock()

	if !ok {
		return ErrSubscriptionNotFound
	}
	if sub.async {
		close(sub.stopCh)
	}
	return nil
}

// History retrieves past events matching filter.
func (bus *Bus) History(filter Filter) []Event {
	return bus.history.Query(filter)
}

// Close shuts the bus down and waits for subscriber goroutines.
func (bus *Bus) Close() error {
	if bus.closed.Swap(true) {
		return nil
	}
	close(bus.stopPruner)

	bus.mu.Lock()
	for _, sub := range bus.subscriptions {
		if sub.async {
			close(sub.stopCh)
		}
	}
	bus.subscriptions = make(map[SubscriptionID]*subscription)
	bus.mu.Unlock()

	bus.wg.Wait()
	return nil
}

func (bus *Bus) generateID() string {
	n := atomic.AddUint64(&bus.nextID, 1)
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b) + "-" + strconv.FormatUint(n, 10)
}
