// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/sessiond/internal/events"
	"github.com/wingedpig/sessiond/internal/store"
)

// ProjectHandler handles project CRUD.
type ProjectHandler struct {
	store *store.Store
	bus   *events.Bus
}

// NewProjectHandler creates a project handler.
func NewProjectHandler(st *store.Store, bus *events.Bus) *ProjectHandler {
	return &ProjectHandler{store: st, bus: bus}
}

func (h *ProjectHandler) publish(typ, project string) {
	if h.bus != nil {
		h.bus.Publish(context.Background(), events.Event{Type: typ, Project: project})
	}
}

// List returns all projects.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects()
	if err != nil {
		WriteDomainError(w, err, CodeProjectNotFound)
		return
	}
	WriteJSONWithTotal(w, http.StatusOK, projects, len(projects))
}

type createProjectRequest struct {
	Name string `json:"name"`
}

// Create creates an empty project directory. Idempotent.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "name is required")
		return
	}
	if err := h.store.CreateProject(req.Name); err != nil {
		WriteDomainError(w, err, CodeProjectNotFound)
		return
	}
	h.publish(events.EventProjectCreated, req.Name)
	WriteJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

// projectDetail is a project plus its session summaries.
type projectDetail struct {
	store.ProjectInfo
	Sessions []store.Summary `json:"sessions"`
}

// Get returns project info with its session summaries.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["project"]

	summaries, err := h.store.ListSessions(name)
	if err != nil {
		WriteDomainError(w, err, CodeProjectNotFound)
		return
	}

	detail := projectDetail{Sessions: summaries}
	projects, err := h.store.ListProjects()
	if err != nil {
		WriteDomainError(w, err, CodeProjectNotFound)
		return
	}
	for _, p := range projects {
		if p.Name == name {
			detail.ProjectInfo = p
			break
		}
	}
	WriteJSON(w, http.StatusOK, detail)
}

// Delete removes a project and all of its sessions. Idempotent.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["project"]
	if err := h.store.DeleteProject(name); err != nil {
		WriteDomainError(w, err, CodeProjectNotFound)
		return
	}
	h.publish(events.EventProjectDeleted, name)
	WriteJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
}
