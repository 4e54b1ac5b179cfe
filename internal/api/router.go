// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api assembles the HTTP router and server.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/sessiond/internal/api/handlers"
	"github.com/wingedpig/sessiond/internal/api/middleware"
	"github.com/wingedpig/sessiond/internal/api/version"
	"github.com/wingedpig/sessiond/internal/events"
	"github.com/wingedpig/sessiond/internal/gateway"
	"github.com/wingedpig/sessiond/internal/index"
	"github.com/wingedpig/sessiond/internal/query"
	"github.com/wingedpig/sessiond/internal/store"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host         string
	Port         int
	TLSCert      string
	TLSKey       string
	TLSTailscale bool
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Store    *store.Store
	Index    *index.Index
	Engine   *query.Engine
	Gateway  *gateway.Gateway
	EventBus *events.Bus
}

// NewRouter creates the API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	api := r.PathPrefix("/api/v1").Subrouter()

	sessionHandler := handlers.NewSessionHandler(deps.Store, deps.Index, deps.Engine)
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	api.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}", sessionHandler.Update).Methods("PUT")
	api.HandleFunc("/sessions/{id}", sessionHandler.Delete).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/messages", sessionHandler.Messages).Methods("GET")

	chatHandler := handlers.NewChatHandler(deps.Gateway, deps.Index)
	api.HandleFunc("/sessions/{id}/chat", chatHandler.Chat).Methods("POST")

	chatSocketHandler := handlers.NewChatSocketHandler(deps.Gateway, deps.Index)
	api.HandleFunc("/sessions/{id}/ws", chatSocketHandler.WebSocket).Methods("GET")

	projectHandler := handlers.NewProjectHandler(deps.Store, deps.EventBus)
	api.HandleFunc("/projects", projectHandler.List).Methods("GET")
	api.HandleFunc("/projects", projectHandler.Create).Methods("POST")
	api.HandleFunc("/projects/{project}", projectHandler.Get).Methods("GET")
	api.HandleFunc("/projects/{project}", projectHandler.Delete).Methods("DELETE")

	queryHandler := handlers.NewQueryHandler(deps.Engine, deps.Index)
	api.HandleFunc("/query", queryHandler.Execute).Methods("POST")

	eventHandler := handlers.NewEventHandler(deps.EventBus)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	// Debug/profiling endpoints
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. TLS comes from cert/key files or, with
// tls_tailscale, from the local tailscaled.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	if s.cfg.TLSTailscale {
		s.server.TLSConfig = tailscaleTLSConfig()
		log.Printf("api: listening on https://%s (tailscale TLS)", addr)
		return s.server.ListenAndServeTLS("", "")
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}
	if tlsEnabled {
		log.Printf("api: listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(expandPath(s.cfg.TLSCert), expandPath(s.cfg.TLSKey))
	}

	log.Printf("api: listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Println("api: shutting down")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
