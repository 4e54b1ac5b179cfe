// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	metaFile     = "session.json"
	messagesFile = "messages.jsonl"
)

// ChangeOp identifies what a change notification refers to.
type ChangeOp string

// Change operations passed to the OnChange callback.
const (
	OpSessionCreated ChangeOp = "session.created"
	OpSessionUpdated ChangeOp = "session.updated"
	OpSessionDeleted ChangeOp = "session.deleted"
)

// Store reads and writes sessions under a root directory. Layout:
//
//	<root>/<project>/<session-id>/session.json
//	<root>/<project>/<session-id>/messages.jsonl
//
// Writers to one session serialize on a per-session lock; unrelated
// sessions write in parallel.
type Store struct {
	root  string
	fsync bool
	locks *lockMap

	onChange func(op ChangeOp, meta SessionMeta)
}

// Options configures a Store.
type Options struct {
	Root  string
	Fsync bool // fsync after every write (disable only in tests)
}

// New creates a store rooted at opts.Root, creating the directory if needed.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("store: root directory required")
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{
		root:  opts.Root,
		fsync: opts.Fsync,
		locks: newLockMap(),
	}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// SetOnChange installs a callback invoked after every successful mutation.
// Must be set before the store is shared between goroutines.
func (s *Store) SetOnChange(fn func(op ChangeOp, meta SessionMeta)) {
	s.onChange = fn
}

func (s *Store) notify(op ChangeOp, meta SessionMeta) {
	if s.onChange != nil {
		s.onChange(op, meta)
	}
}

// validName rejects identifiers that would escape the storage root.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

func (s *Store) projectDir(project string) string {
	return filepath.Join(s.root, project)
}

func (s *Store) sessionDir(project, id string) string {
	return filepath.Join(s.root, project, id)
}

// lockKey serializes writers per (project, session) pair.
func lockKey(project, id string) string { return project + "/" + id }

// ListProjects returns all project directories under the root, sorted by name.
func (s *Store) ListProjects() ([]ProjectInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	projects := make([]ProjectInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info := ProjectInfo{Name: e.Name()}
		if fi, err := e.Info(); err == nil {
			info.ModifiedAt = fi.ModTime()
		}
		sessions, err := os.ReadDir(filepath.Join(s.root, e.Name()))
		if err == nil {
			for _, se := range sessions {
				if se.IsDir() {
					info.SessionCount++
				}
			}
		}
		// Oldest session's created_at stands in for project creation time.
		if summaries, err := s.ListSessions(e.Name()); err == nil && len(summaries) > 0 {
			info.CreatedAt = summaries[0].CreatedAt
		} else {
			info.CreatedAt = info.ModifiedAt
		}
		projects = append(projects, info)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// CreateProject creates an empty project directory. Idempotent.
func (s *Store) CreateProject(project string) error {
	if !validName(project) {
		return fmt.Errorf("%w: bad project name %q", ErrInvalid, project)
	}
	if err := os.MkdirAll(s.projectDir(project), 0755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	return nil
}

// DeleteProject removes a project and all of its sessions. Idempotent.
// Each removed session fires a deletion notification so index and bus
// listeners stay in step with the filesystem.
func (s *Store) DeleteProject(project string) error {
	if !validName(project) {
		return fmt.Errorf("%w: bad project name %q", ErrInvalid, project)
	}

	var metas []SessionMeta
	if entries, err := os.ReadDir(s.projectDir(project)); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if meta, err := s.readMeta(project, e.Name()); err == nil {
				metas = append(metas, meta)
			}
		}
	}

	if err := os.RemoveAll(s.projectDir(project)); err != nil {
		return fmt.Errorf("remove project dir: %w", err)
	}
	for _, meta := range metas {
		s.notify(OpSessionDeleted, meta)
	}
	return nil
}

// ListSessions returns summaries for all sessions in a project, ordered by
// creation time (ties broken by id, so the order is stable).
func (s *Store) ListSessions(project string) ([]Summary, error) {
	if !validName(project) {
		return nil, fmt.Errorf("%w: bad project name %q", ErrInvalid, project)
	}
	entries, err := os.ReadDir(s.projectDir(project))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: project %q", ErrNotFound, project)
		}
		return nil, fmt.Errorf("read project dir: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.readMeta(project, e.Name())
		if err != nil {
			// Skip directories without a readable session.json; they may be
			// mid-creation or foreign.
			continue
		}
		summaries = append(summaries, meta.summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

// CreateSession creates a session with a fresh UUID in the given project,
// creating the project directory on demand.
func (s *Store) CreateSession(project string, meta Metadata) (*Session, error) {
	if !validName(project) {
		return nil, fmt.Errorf("%w: bad project name %q", ErrInvalid, project)
	}

	id := uuid.New().String()
	dir := s.sessionDir(project, id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: session %q already exists", ErrConflict, id)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	now := time.Now().UTC()
	sm := SessionMeta{
		ID:        id,
		Project:   project,
		Title:     meta.Title,
		Model:     meta.Model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.writeMeta(sm); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	s.notify(OpSessionCreated, sm)
	return &Session{SessionMeta: sm, Messages: []Message{}}, nil
}

// GetMeta returns a session's metadata.
func (s *Store) GetMeta(project, id string) (*SessionMeta, error) {
	if !validName(project) || !validName(id) {
		return nil, fmt.Errorf("%w: bad session address %q/%q", ErrInvalid, project, id)
	}
	meta, err := s.readMeta(project, id)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetSession returns metadata plus the full message sequence.
func (s *Store) GetSession(project, id string) (*Session, error) {
	meta, err := s.GetMeta(project, id)
	if err != nil {
		return nil, err
	}

	it, err := s.Messages(project, id)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	msgs := make([]Message, 0, meta.MessageCount)
	for {
		msg, ok := it.Next()
		if !ok {
			break
		}
		msgs = append(msgs, msg)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return &Session{SessionMeta: *meta, Messages: msgs}, nil
}

// AppendMessage validates and durably appends a message, returning the stored
// message (with assigned seq) and the updated metadata. The message log is
// append-only; past entries are never rewritten.
func (s *Store) AppendMessage(project, id string, msg Message) (Message, *SessionMeta, error) {
	if err := validateMessage(msg); err != nil {
		return Message{}, nil, err
	}
	if !validName(project) || !validName(id) {
		return Message{}, nil, fmt.Errorf("%w: bad session address %q/%q", ErrInvalid, project, id)
	}

	release := s.locks.acquire(lockKey(project, id))
	defer release()

	meta, err := s.readMeta(project, id)
	if err != nil {
		return Message{}, nil, err
	}

	msg.Seq = meta.MessageCount
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if err := s.appendLine(project, id, msg); err != nil {
		return Message{}, nil, err
	}

	meta.MessageCount++
	meta.UpdatedAt = time.Now().UTC()
	if err := s.writeMeta(meta); err != nil {
		return Message{}, nil, err
	}

	s.notify(OpSessionUpdated, meta)
	return msg, &meta, nil
}

// UpdateMetadata applies a patch to the mutable metadata fields. Message
// content is never touched.
func (s *Store) UpdateMetadata(project, id string, patch MetadataPatch) (*SessionMeta, error) {
	if !validName(project) || !validName(id) {
		return nil, fmt.Errorf("%w: bad session address %q/%q", ErrInvalid, project, id)
	}

	release := s.locks.acquire(lockKey(project, id))
	defer release()

	meta, err := s.readMeta(project, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		meta.Title = *patch.Title
	}
	if patch.Model != nil {
		meta.Model = *patch.Model
	}
	meta.UpdatedAt = time.Now().UTC()
	if err := s.writeMeta(meta); err != nil {
		return nil, err
	}

	s.notify(OpSessionUpdated, meta)
	return &meta, nil
}

// SetClaudeSessionID records the CLI conversation id so the next chat turn
// can resume it.
func (s *Store) SetClaudeSessionID(project, id, claudeSID string) error {
	release := s.locks.acquire(lockKey(project, id))
	defer release()

	meta, err := s.readMeta(project, id)
	if err != nil {
		return err
	}
	if meta.ClaudeSID == claudeSID {
		return nil
	}
	meta.ClaudeSID = claudeSID
	return s.writeMeta(meta)
}

// DeleteSession removes a session. Deleting an absent session is a no-op,
// not an error.
func (s *Store) DeleteSession(project, id string) error {
	if !validName(project) || !validName(id) {
		return fmt.Errorf("%w: bad session address %q/%q", ErrInvalid, project, id)
	}

	release := s.locks.acquire(lockKey(project, id))
	defer release()

	dir := s.sessionDir(project, id)
	meta, metaErr := s.readMeta(project, id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	if metaErr == nil {
		s.notify(OpSessionDeleted, meta)
	}
	return nil
}

// Messages returns a lazy iterator over the session's message log. Each call
// re-reads from the start. The caller must Close it.
func (s *Store) Messages(project, id string) (*MessageIter, error) {
	if !validName(project) || !validName(id) {
		return nil, fmt.Errorf("%w: bad session address %q/%q", ErrInvalid, project, id)
	}
	if _, err := os.Stat(s.sessionDir(project, id)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: session %q/%q", ErrNotFound, project, id)
		}
		return nil, fmt.Errorf("stat session dir: %w", err)
	}
	return newMessageIter(filepath.Join(s.sessionDir(project, id), messagesFile)), nil
}

// validateMessage rejects malformed roles and empty content.
func validateMessage(msg Message) error {
	switch msg.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, msg.Role)
	}
	if len(msg.Content) == 0 {
		return fmt.Errorf("%w: empty content", ErrInvalid)
	}
	for _, b := range msg.Content {
		if b.Type == "" {
			return fmt.Errorf("%w: content block missing type", ErrInvalid)
		}
	}
	return nil
}

// readMeta loads session.json for a session.
func (s *Store) readMeta(project, id string) (SessionMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(project, id), metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return SessionMeta{}, fmt.Errorf("%w: session %q/%q", ErrNotFound, project, id)
		}
		return SessionMeta{}, fmt.Errorf("read session meta: %w", err)
	}
	var meta SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return SessionMeta{}, fmt.Errorf("parse session meta: %w", err)
	}
	return meta, nil
}

// writeMeta writes session.json atomically (tmp + rename).
func (s *Store) writeMeta(meta SessionMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session meta: %w", err)
	}

	path := filepath.Join(s.sessionDir(meta.Project, meta.ID), metaFile)
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: create temp meta file: %v", ErrWrite, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write temp meta file: %v", ErrWrite, err)
	}
	if s.fsync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("%w: sync temp meta file: %v", ErrWrite, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp meta file: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename meta file: %v", ErrWrite, err)
	}
	return nil
}

// appendLine appends one message as a single JSON line. The whole line is
// written with one Write call so concurrent readers never see a torn message.
func (s *Store) appendLine(project, id string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(s.sessionDir(project, id), messagesFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open messages file for append: %v", ErrWrite, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: append message: %v", ErrWrite, err)
	}
	if s.fsync {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("%w: sync messages file: %v", ErrWrite, err)
		}
	}
	return nil
}
