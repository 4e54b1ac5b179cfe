// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wingedpig/sessiond/internal/index"
	"github.com/wingedpig/sessiond/internal/query"
	"github.com/wingedpig/sessiond/internal/store"
)

// SessionHandler handles session CRUD and message retrieval.
type SessionHandler struct {
	store  *store.Store
	index  *index.Index
	engine *query.Engine
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(st *store.Store, ix *index.Index, engine *query.Engine) *SessionHandler {
	return &SessionHandler{store: st, index: ix, engine: engine}
}

// List returns a page of session summaries, optionally filtered by project.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	page, err := h.index.List(q.Get("project"), limit, offset)
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	WriteJSONWithTotal(w, http.StatusOK, page.Sessions, page.Total)
}

type createSessionRequest struct {
	Project string `json:"project"`
	Title   string `json:"title"`
	Model   string `json:"model"`
}

// Create creates a session, creating its project directory on demand.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body: "+err.Error())
		return
	}
	if req.Project == "" {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "project is required")
		return
	}

	sess, err := h.store.CreateSession(req.Project, store.Metadata{Title: req.Title, Model: req.Model})
	if err != nil {
		WriteDomainError(w, err, CodeProjectNotFound)
		return
	}
	WriteJSON(w, http.StatusCreated, sess)
}

// resolve maps the path session id to its project.
func (h *SessionHandler) resolve(r *http.Request) (project, id string, err error) {
	id = mux.Vars(r)["id"]
	project, err = h.index.ResolveProject(id)
	return project, id, err
}

// Get returns a session's metadata plus its full message sequence.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, id, err := h.resolve(r)
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	sess, err := h.store.GetSession(project, id)
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

type updateSessionRequest struct {
	Title *string `json:"title"`
	Model *string `json:"model"`
}

// Update patches mutable metadata. Message history is never touched.
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body: "+err.Error())
		return
	}

	project, id, err := h.resolve(r)
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	meta, err := h.store.UpdateMetadata(project, id, store.MetadataPatch{Title: req.Title, Model: req.Model})
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, meta)
}

// Delete removes a session. Deleting an absent session still succeeds.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	project, id, err := h.resolve(r)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
			return
		}
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	if err := h.store.DeleteSession(project, id); err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// Messages returns the session's messages, optionally filtered by a jq
// expression in ?q= and truncated to ?limit=.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	project, id, err := h.resolve(r)
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	expr := r.URL.Query().Get("q")
	if expr == "" {
		h.allMessages(w, project, id, limit)
		return
	}

	results, err := h.engine.FilterSession(r.Context(), project, id, expr, query.Budget{})
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	WriteJSONWithTotal(w, http.StatusOK, results, len(results))
}

func (h *SessionHandler) allMessages(w http.ResponseWriter, project, id string, limit int) {
	it, err := h.store.Messages(project, id)
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	defer it.Close()

	msgs := []store.Message{}
	for {
		msg, ok := it.Next()
		if !ok {
			break
		}
		msgs = append(msgs, msg)
		if limit > 0 && len(msgs) >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}
	WriteJSONWithTotal(w, http.StatusOK, msgs, len(msgs))
}
