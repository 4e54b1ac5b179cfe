// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/sessiond/internal/gateway"
	"github.com/wingedpig/sessiond/internal/index"
)

// ChatHandler drives chat turns over HTTP.
type ChatHandler struct {
	gateway *gateway.Gateway
	index   *index.Index
}

// NewChatHandler creates a chat handler.
func NewChatHandler(g *gateway.Gateway, ix *index.Index) *ChatHandler {
	return &ChatHandler{gateway: g, index: ix}
}

type chatRequest struct {
	Message string `json:"message"`
	Stream  *bool  `json:"stream"` // default true
	Model   string `json:"model"`
}

func (req chatRequest) streaming() bool {
	return req.Stream == nil || *req.Stream
}

// Chat runs one turn. With stream:true (the default) the response is
// newline-delimited JSON events flushed as the subprocess produces output;
// with stream:false the full result is returned in one envelope.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body: "+err.Error())
		return
	}
	if req.Message == "" {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "message is required")
		return
	}

	id := mux.Vars(r)["id"]
	project, err := h.index.ResolveProject(id)
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}

	turn := gateway.TurnRequest{
		Project:   project,
		SessionID: id,
		Message:   req.Message,
		Model:     req.Model,
	}

	if !req.streaming() {
		var sink gateway.BufferSink
		result, err := h.gateway.Run(r.Context(), turn, &sink)
		if err != nil {
			WriteDomainError(w, err, CodeSessionNotFound)
			return
		}
		WriteJSON(w, http.StatusOK, result)
		return
	}

	// Streaming: the status line commits before the subprocess runs, so all
	// turn failures travel as error events on the stream.
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	sink := gateway.NewNDJSONSink(w)
	if _, err := h.gateway.Run(r.Context(), turn, sink); err != nil {
		if errors.Is(err, gateway.ErrDisconnected) {
			log.Printf("chat: client disconnected mid-turn, session %s", id)
			return
		}
		log.Printf("chat: turn failed, session %s: %v", id, err)
	}
}
