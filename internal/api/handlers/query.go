// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wingedpig/sessiond/internal/index"
	"github.com/wingedpig/sessiond/internal/query"
)

// QueryHandler runs ad-hoc jq queries across sessions.
type QueryHandler struct {
	engine *query.Engine
	index  *index.Index
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(engine *query.Engine, ix *index.Index) *QueryHandler {
	return &QueryHandler{engine: engine, index: ix}
}

type queryRequest struct {
	Query     string   `json:"query"`
	Projects  []string `json:"projects"`
	Sessions  []string `json:"sessions"` // bare session ids
	MaxSteps  int      `json:"max_steps"`
	TimeoutMS int      `json:"timeout_ms"`
}

type queryResponse struct {
	Results []any `json:"results"`
	Count   int   `json:"count"`
}

// Execute runs the query over the requested scope. Sessions, when given,
// win over projects; an empty scope means every session.
func (h *QueryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body: "+err.Error())
		return
	}
	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "query is required")
		return
	}

	scope := query.Scope{Projects: req.Projects}
	for _, id := range req.Sessions {
		project, err := h.index.ResolveProject(id)
		if err != nil {
			WriteDomainError(w, err, CodeSessionNotFound)
			return
		}
		scope.Sessions = append(scope.Sessions, query.SessionRef{Project: project, ID: id})
	}

	budget := query.Budget{
		MaxSteps: req.MaxSteps,
		Timeout:  time.Duration(req.TimeoutMS) * time.Millisecond,
	}

	results, err := h.engine.Execute(r.Context(), req.Query, scope, budget)
	if err != nil {
		WriteDomainError(w, err, CodeProjectNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, queryResponse{Results: results, Count: len(results)})
}
