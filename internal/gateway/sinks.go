// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/wingedpig/sessiond/internal/store"
)

// Stream event types, one JSON object per line on the wire.
const (
	EventStart = "start"
	EventData  = "data"
	EventEnd   = "end"
	EventError = "error"
)

// StreamEvent is one event on a chat stream.
type StreamEvent struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	Content   string       `json:"content,omitempty"`
	Usage     *store.Usage `json:"usage,omitempty"`
	Code      string       `json:"code,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// Sink receives stream events in order. Send may block; the gateway will not
// read the next subprocess event until Send returns. A Send error means the
// client is unreachable and aborts the turn.
type Sink interface {
	Send(ev StreamEvent) error
}

// NDJSONSink writes events as newline-delimited JSON, flushing after each
// event so clients see chunks as they arrive.
type NDJSONSink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewNDJSONSink wraps a response writer. If w implements http.Flusher each
// event is flushed immediately.
func NewNDJSONSink(w io.Writer) *NDJSONSink {
	s := &NDJSONSink{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

func (s *NDJSONSink) Send(ev StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// BufferSink collects events in memory for non-streaming turns.
type BufferSink struct {
	mu     sync.Mutex
	events []StreamEvent
}

func (s *BufferSink) Send(ev StreamEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

// Events returns a copy of everything sent so far.
func (s *BufferSink) Events() []StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamEvent, len(s.events))
	copy(out, s.events)
	return out
}

// FuncSink adapts a function to the Sink interface.
type FuncSink func(ev StreamEvent) error

func (f FuncSink) Send(ev StreamEvent) error { return f(ev) }
