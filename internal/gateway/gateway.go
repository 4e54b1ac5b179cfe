// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway drives one chat turn end to end: persist the user
// message, spawn the CLI subprocess, relay its output to the client,
// then persist the assistant reply.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/wingedpig/sessiond/internal/claudecli"
	"github.com/wingedpig/sessiond/internal/store"
)

// ErrDisconnected means the client went away mid-stream. The turn is
// cancelled and no assistant message is persisted.
var ErrDisconnected = errors.New("client disconnected")

// Runner abstracts the process adapter so tests can substitute a fake.
type Runner interface {
	Start(ctx context.Context, opts claudecli.StartOptions) (Handle, error)
}

// Handle is the adapter-side view of one running turn.
type Handle interface {
	Events() <-chan claudecli.Event
	Cancel()
	Wait() error
	Close() error
}

// cliRunner adapts *claudecli.Runner to the Runner interface.
type cliRunner struct {
	r *claudecli.Runner
}

func (c cliRunner) Start(ctx context.Context, opts claudecli.StartOptions) (Handle, error) {
	return c.r.Start(ctx, opts)
}

// NewCLIRunner wraps the real process adapter.
func NewCLIRunner(r *claudecli.Runner) Runner { return cliRunner{r: r} }

// TurnRequest parameterizes one chat turn against an existing session.
type TurnRequest struct {
	Project   string
	SessionID string
	Message   string
	Model     string // overrides the session's model for this turn
}

// TurnResult is what a completed turn produced.
type TurnResult struct {
	UserMessage      store.Message `json:"user_message"`
	AssistantMessage store.Message `json:"assistant_message"`
	Usage            *store.Usage  `json:"usage,omitempty"`
}

// Gateway orchestrates chat turns.
type Gateway struct {
	store        *store.Store
	runner       Runner
	defaultModel string

	// publish, when set, receives turn lifecycle notifications.
	publish func(topic string, payload any)
}

// Options configures a Gateway.
type Options struct {
	Store *store.Store

	Runner Runner

	// DefaultModel is used when neither the request nor the session
	// names a model.
	DefaultModel string

	Publish func(topic string, payload any)
}

// New creates a gateway.
func New(opts Options) *Gateway {
	return &Gateway{
		store:        opts.Store,
		runner:       opts.Runner,
		defaultModel: opts.DefaultModel,
		publish:      opts.Publish,
	}
}

func (g *Gateway) notify(topic string, payload any) {
	if g.publish != nil {
		g.publish(topic, payload)
	}
}

// Run executes one turn. The user message is persisted before anything can
// fail downstream and is never rolled back. Events are forwarded to the sink
// strictly in order; a blocking Send is the backpressure that paces the
// subprocess read loop. A sink error means the client is gone: the turn is
// cancelled, the assistant message is dropped, and ErrDisconnected is
// returned.
func (g *Gateway) Run(ctx context.Context, req TurnRequest, sink Sink) (*TurnResult, error) {
	meta, err := g.store.GetMeta(req.Project, req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.Message == "" {
		return nil, fmt.Errorf("%w: empty message", store.ErrInvalid)
	}

	userMsg, meta, err := g.store.AppendMessage(req.Project, req.SessionID, store.Message{
		Role:    store.RoleUser,
		Content: []store.ContentBlock{{Type: "text", Text: req.Message}},
	})
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = meta.Model
	}
	if model == "" {
		model = g.defaultModel
	}

	g.notify("chat.turn.started", map[string]string{
		"project": req.Project,
		"session": req.SessionID,
	})

	h, err := g.runner.Start(ctx, claudecli.StartOptions{
		WorkDir:         filepath.Join(g.store.Root(), req.Project),
		Prompt:          req.Message,
		ResumeSessionID: meta.ClaudeSID,
		Model:           model,
	})
	if err != nil {
		g.fail(req, sink, err)
		return nil, err
	}
	defer h.Close()

	if err := sink.Send(StreamEvent{Type: EventStart, SessionID: req.SessionID}); err != nil {
		return nil, g.disconnect(req, h)
	}

	var (
		blocks     []store.ContentBlock
		usage      *store.Usage
		claudeSID  string
		resultText string
	)
	for ev := range h.Events() {
		if ev.SessionID != "" {
			claudeSID = ev.SessionID
		}
		switch ev.Type {
		case claudecli.EventAssistant:
			b, u, ok := ev.AssistantContent()
			if !ok {
				continue
			}
			blocks = append(blocks, b...)
			if u != nil {
				usage = u
			}
			if text, ok := ev.TextDelta(); ok {
				if err := sink.Send(StreamEvent{Type: EventData, Content: text}); err != nil {
					return nil, g.disconnect(req, h)
				}
			}
		case claudecli.EventResult:
			resultText = ev.Result
			if ev.Usage != nil {
				usage = ev.Usage
			}
		}
	}

	if err := h.Wait(); err != nil {
		g.fail(req, sink, err)
		return nil, err
	}

	// Some CLI builds only report the reply in the result event.
	if len(blocks) == 0 && resultText != "" {
		blocks = []store.ContentBlock{{Type: "text", Text: resultText}}
		if err := sink.Send(StreamEvent{Type: EventData, Content: resultText}); err != nil {
			return nil, ErrDisconnected
		}
	}
	if len(blocks) == 0 {
		err := fmt.Errorf("claude produced no output")
		g.fail(req, sink, err)
		return nil, err
	}

	assistantMsg, _, err := g.store.AppendMessage(req.Project, req.SessionID, store.Message{
		Role:    store.RoleAssistant,
		Content: blocks,
		Usage:   usage,
	})
	if err != nil {
		g.fail(req, sink, err)
		return nil, err
	}

	if claudeSID != "" {
		if err := g.store.SetClaudeSessionID(req.Project, req.SessionID, claudeSID); err != nil {
			log.Printf("chat: record claude session id: %v", err)
		}
	}

	if err := sink.Send(StreamEvent{Type: EventEnd, Usage: usage}); err != nil {
		// Reply is already on record; the client just missed the trailer.
		log.Printf("chat: client gone before end event: %v", err)
	}

	g.notify("chat.turn.completed", map[string]string{
		"project": req.Project,
		"session": req.SessionID,
	})
	return &TurnResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Usage:            usage,
	}, nil
}

// disconnect cancels a live handle, drains it, and reports the turn as
// failed. The user message stays on record.
func (g *Gateway) disconnect(req TurnRequest, h Handle) error {
	h.Cancel()
	for range h.Events() {
	}
	g.notify("chat.turn.failed", map[string]string{
		"project": req.Project,
		"session": req.SessionID,
		"reason":  "disconnected",
	})
	return ErrDisconnected
}

// fail sends a terminal error event (best effort) and publishes the failure.
func (g *Gateway) fail(req TurnRequest, sink Sink, err error) {
	sink.Send(StreamEvent{Type: EventError, Code: CodeFor(err), Message: err.Error()})
	g.notify("chat.turn.failed", map[string]string{
		"project": req.Project,
		"session": req.SessionID,
		"reason":  err.Error(),
	})
}

// CodeFor maps turn errors to the stable machine codes carried by error
// events and envelopes.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, claudecli.ErrSpawn):
		return "SPAWN_ERROR"
	case errors.Is(err, claudecli.ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, claudecli.ErrOutputTooLarge):
		return "OUTPUT_TOO_LARGE"
	case errors.Is(err, ErrDisconnected):
		return "CLIENT_DISCONNECTED"
	case errors.Is(err, store.ErrNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, store.ErrInvalid):
		return "VALIDATION_ERROR"
	case errors.Is(err, store.ErrWrite):
		return "STORE_WRITE_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}
