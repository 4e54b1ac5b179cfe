// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wingedpig/sessiond/internal/gateway"
	"github.com/wingedpig/sessiond/internal/index"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChatSocketHandler runs chat turns over a WebSocket connection. The client
// sends one JSON request per turn; the server answers with the same event
// frames the NDJSON stream uses.
type ChatSocketHandler struct {
	gateway *gateway.Gateway
	index   *index.Index
}

// NewChatSocketHandler creates a WebSocket chat handler.
func NewChatSocketHandler(g *gateway.Gateway, ix *index.Index) *ChatSocketHandler {
	return &ChatSocketHandler{gateway: g, index: ix}
}

// wsSink writes stream events as WebSocket JSON frames.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(ev gateway.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WebSocket upgrades the connection and serves chat turns until the client
// goes away. Turns run one at a time; a second request waits for the first.
func (h *ChatSocketHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	project, err := h.index.ResolveProject(id)
	if err != nil {
		WriteDomainError(w, err, CodeSessionNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Message == "" {
			sink.Send(gateway.StreamEvent{
				Type: gateway.EventError, Code: CodeValidationError, Message: "message is required",
			})
			continue
		}

		ctx, cancel := context.WithCancel(r.Context())
		_, err := h.gateway.Run(ctx, gateway.TurnRequest{
			Project:   project,
			SessionID: id,
			Message:   req.Message,
			Model:     req.Model,
		}, sink)
		cancel()

		if errors.Is(err, gateway.ErrDisconnected) {
			return
		}
		if err != nil {
			log.Printf("chat: websocket turn failed, session %s: %v", id, err)
		}
	}
}
