// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package index maintains a SQLite catalog of sessions for listing,
// pagination, and resolving bare session ids to their project. The
// filesystem store remains the source of truth; the index is rebuilt by
// scanning and refreshed on every write.
package index

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wingedpig/sessiond/internal/store"
)

// Index is a SQLite-backed session catalog.
type Index struct {
	db    *sql.DB
	store *store.Store
}

// Open opens (creating if needed) the index database at path.
func Open(path string, st *store.Store) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	// Keep sqlite responsive under contention.
	db.Exec("PRAGMA busy_timeout = 5000;")
	db.Exec("PRAGMA journal_mode = WAL;")
	db.Exec("PRAGMA synchronous = NORMAL;")

	schema := `CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		title TEXT,
		model TEXT,
		created_at_ns INTEGER NOT NULL,
		updated_at_ns INTEGER NOT NULL,
		message_count INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project_created ON sessions(project, created_at_ns);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}

	return &Index{db: db, store: st}, nil
}

// Close closes the database.
func (ix *Index) Close() error { return ix.db.Close() }

// Upsert inserts or refreshes one session row.
func (ix *Index) Upsert(meta store.SessionMeta) error {
	_, err := ix.db.Exec(`INSERT INTO sessions (id, project, title, model, created_at_ns, updated_at_ns, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project = excluded.project,
			title = excluded.title,
			model = excluded.model,
			updated_at_ns = excluded.updated_at_ns,
			message_count = excluded.message_count`,
		meta.ID, meta.Project, meta.Title, meta.Model,
		meta.CreatedAt.UnixNano(), meta.UpdatedAt.UnixNano(), meta.MessageCount)
	if err != nil {
		return fmt.Errorf("upsert session row: %w", err)
	}
	return nil
}

// Remove deletes one session row. Removing an absent row is not an error.
func (ix *Index) Remove(id string) error {
	if _, err := ix.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session row: %w", err)
	}
	return nil
}

// ResolveProject maps a bare session id to its project. On an index miss it
// rescans the store once before giving up, so externally-written sessions
// are still addressable.
func (ix *Index) ResolveProject(id string) (string, error) {
	project, err := ix.lookupProject(id)
	if err == nil {
		return project, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("resolve session project: %w", err)
	}

	if err := ix.Rebuild(); err != nil {
		return "", err
	}
	project, err = ix.lookupProject(id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: session %q", store.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("resolve session project: %w", err)
	}
	return project, nil
}

func (ix *Index) lookupProject(id string) (string, error) {
	var project string
	err := ix.db.QueryRow(`SELECT project FROM sessions WHERE id = ?`, id).Scan(&project)
	return project, err
}

// Page is one page of session summaries plus the unpaginated total.
type Page struct {
	Sessions []store.Summary
	Total    int
}

// List returns a page of sessions ordered by creation time (id tie-break),
// optionally filtered by project.
func (ix *Index) List(project string, limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if project != "" {
		where = "WHERE project = ?"
		args = append(args, project)
	}

	var total int
	if err := ix.db.QueryRow("SELECT COUNT(*) FROM sessions "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, project, title, model, created_at_ns, updated_at_ns, message_count
		FROM sessions %s ORDER BY created_at_ns, id LIMIT ? OFFSET ?`, where)
	rows, err := ix.db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	page := &Page{Sessions: []store.Summary{}, Total: total}
	for rows.Next() {
		var s store.Summary
		var title, model sql.NullString
		var createdNS, updatedNS int64
		if err := rows.Scan(&s.ID, &s.Project, &title, &model, &createdNS, &updatedNS, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		s.Title = title.String
		s.Model = model.String
		s.CreatedAt = time.Unix(0, createdNS).UTC()
		s.UpdatedAt = time.Unix(0, updatedNS).UTC()
		page.Sessions = append(page.Sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return page, nil
}

// Rebuild replaces the catalog with a full scan of the store. Called at
// startup and when the watcher reports external changes.
func (ix *Index) Rebuild() error {
	projects, err := ix.store.ListProjects()
	if err != nil {
		return fmt.Errorf("scan storage root: %w", err)
	}

	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions table: %w", err)
	}

	var n int
	for _, p := range projects {
		summaries, err := ix.store.ListSessions(p.Name)
		if err != nil {
			log.Printf("index: skipping project %s: %v", p.Name, err)
			continue
		}
		for _, s := range summaries {
			if _, err := tx.Exec(`INSERT INTO sessions (id, project, title, model, created_at_ns, updated_at_ns, message_count)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				s.ID, s.Project, s.Title, s.Model,
				s.CreatedAt.UnixNano(), s.UpdatedAt.UnixNano(), s.MessageCount); err != nil {
				return fmt.Errorf("insert session row: %w", err)
			}
			n++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild tx: %w", err)
	}
	log.Printf("index: rebuilt with %d sessions", n)
	return nil
}

// Apply translates a store change notification into an index update.
func (ix *Index) Apply(op store.ChangeOp, meta store.SessionMeta) {
	var err error
	switch op {
	case store.OpSessionCreated, store.OpSessionUpdated:
		err = ix.Upsert(meta)
	case store.OpSessionDeleted:
		err = ix.Remove(meta.ID)
	}
	if err != nil {
		log.Printf("index: %s %s: %v", op, meta.ID, err)
	}
}
