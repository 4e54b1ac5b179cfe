// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher observes the storage root for changes made by other
// tools writing session files, refreshing the index and notifying clients.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wingedpig/sessiond/internal/events"
)

// Refresher is what a change triggers; in practice the index rebuild.
type Refresher interface {
	Rebuild() error
}

// StorageWatcher watches the storage root and its project and session
// directories. fsnotify is not recursive, so new directories are added to
// the watch set as they appear. Change bursts are debounced per project
// before triggering a refresh.
type StorageWatcher struct {
	root      string
	bus       *events.Bus
	refresher Refresher
	watcher   *fsnotify.Watcher
	debouncer *Debouncer

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher over root and registers the existing directory tree.
func New(root string, bus *events.Bus, refresher Refresher, debounce time.Duration) (*StorageWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &StorageWatcher{
		root:      root,
		bus:       bus,
		refresher: refresher,
		watcher:   fsWatcher,
		debouncer: NewDebouncer(debounce),
		closeCh:   make(chan struct{}),
	}

	if err := w.watchTree(root); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// watchTree registers root and every directory two levels below it
// (projects and sessions).
func (w *StorageWatcher) watchTree(root string) error {
	if err := w.watcher.Add(root); err != nil {
		return fmt.Errorf("watch storage root: %w", err)
	}
	projects, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}
	for _, p := range projects {
		if !p.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, p.Name())
		if err := w.watcher.Add(projectDir); err != nil {
			log.Printf("watcher: watch %s: %v", projectDir, err)
			continue
		}
		sessions, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, s := range sessions {
			if s.IsDir() {
				if err := w.watcher.Add(filepath.Join(projectDir, s.Name())); err != nil {
					log.Printf("watcher: watch %s: %v", filepath.Join(projectDir, s.Name()), err)
				}
			}
		}
	}
	return nil
}

// Close stops the watcher and waits for the event loop.
func (w *StorageWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	w.watcher.Close()
	w.wg.Wait()
	return nil
}

func (w *StorageWatcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		}
	}
}

func (w *StorageWatcher) handleEvent(event fsnotify.Event) {
	// Chmod fires on reads in some editors; only content changes matter.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	// New directories (projects, sessions) join the watch set.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				log.Printf("watcher: watch %s: %v", event.Name, err)
			}
		}
	}

	project := w.projectOf(event.Name)
	key := project
	if key == "" {
		key = "." // root-level change
	}
	w.debouncer.Debounce(key, func() {
		w.refresh(project)
	})
}

// projectOf maps a changed path to its project directory name.
func (w *StorageWatcher) projectOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	return parts[0]
}

// refresh rebuilds the index and announces the change.
func (w *StorageWatcher) refresh(project string) {
	if w.refresher != nil {
		if err := w.refresher.Rebuild(); err != nil {
			log.Printf("watcher: index refresh: %v", err)
		}
	}
	if w.bus != nil {
		w.bus.Publish(context.Background(), events.Event{
			Type:    events.EventStorageChanged,
			Project: project,
		})
	}
}
