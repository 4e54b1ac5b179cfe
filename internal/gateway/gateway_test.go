// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/sessiond/internal/claudecli"
	"github.com/wingedpig/sessiond/internal/store"
)

// fakeHandle feeds scripted events and tracks cancellation.
type fakeHandle struct {
	ch      chan claudecli.Event
	stop    chan struct{}
	waitErr error

	once sync.Once
	mu   sync.Mutex
	done bool

	cancelled bool
}

func newFakeHandle(events []claudecli.Event, waitErr error) *fakeHandle {
	h := &fakeHandle{
		ch:      make(chan claudecli.Event),
		stop:    make(chan struct{}),
		waitErr: waitErr,
	}
	go func() {
		defer close(h.ch)
		for _, ev := range events {
			select {
			case h.ch <- ev:
			case <-h.stop:
				return
			}
		}
	}()
	return h
}

func (h *fakeHandle) Events() <-chan claudecli.Event { return h.ch }

func (h *fakeHandle) Cancel() {
	h.once.Do(func() {
		h.mu.Lock()
		h.cancelled = true
		h.mu.Unlock()
		close(h.stop)
	})
}

func (h *fakeHandle) wasCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *fakeHandle) Wait() error { return h.waitErr }

func (h *fakeHandle) Close() error {
	for range h.ch {
	}
	return h.waitErr
}

// fakeRunner hands out a pre-built handle and records the start options.
type fakeRunner struct {
	handle   *fakeHandle
	startErr error
	lastOpts claudecli.StartOptions
}

func (r *fakeRunner) Start(ctx context.Context, opts claudecli.StartOptions) (Handle, error) {
	r.lastOpts = opts
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.handle, nil
}

func assistantEvent(t *testing.T, text string, usage *store.Usage) claudecli.Event {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
		"usage":   usage,
	})
	require.NoError(t, err)
	return claudecli.Event{Type: claudecli.EventAssistant, Message: msg}
}

func resultEvent(text, sid string, usage *store.Usage) claudecli.Event {
	return claudecli.Event{Type: claudecli.EventResult, Result: text, SessionID: sid, Usage: usage}
}

func newTestGateway(t *testing.T, runner Runner) (*Gateway, *store.Store, string) {
	t.Helper()
	st, err := store.New(store.Options{Root: t.TempDir()})
	require.NoError(t, err)
	sess, err := st.CreateSession("proj", store.Metadata{Model: "claude-sonnet"})
	require.NoError(t, err)
	return New(Options{Store: st, Runner: runner}), st, sess.ID
}

func TestRunCompletesTurn(t *testing.T) {
	usage := &store.Usage{InputTokens: 12, OutputTokens: 34}
	runner := &fakeRunner{handle: newFakeHandle([]claudecli.Event{
		{Type: claudecli.EventSystem, Subtype: "init", SessionID: "cli-sid-1"},
		assistantEvent(t, "Hello, ", nil),
		assistantEvent(t, "world.", nil),
		resultEvent("Hello, world.", "cli-sid-1", usage),
	}, nil)}
	g, st, id := newTestGateway(t, runner)

	var sink BufferSink
	result, err := g.Run(context.Background(), TurnRequest{
		Project: "proj", SessionID: id, Message: "greet me",
	}, &sink)
	require.NoError(t, err)

	assert.Equal(t, store.RoleUser, result.UserMessage.Role)
	assert.Equal(t, "greet me", result.UserMessage.Text())
	assert.Equal(t, store.RoleAssistant, result.AssistantMessage.Role)
	assert.Equal(t, "Hello, world.", result.AssistantMessage.Text())
	require.NotNil(t, result.Usage)
	assert.Equal(t, 34, result.Usage.OutputTokens)

	// Both messages are on disk.
	sess, err := st.GetSession("proj", id)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, store.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, store.RoleAssistant, sess.Messages[1].Role)
	require.NotNil(t, sess.Messages[1].Usage)
	assert.Equal(t, 12, sess.Messages[1].Usage.InputTokens)

	// CLI conversation id recorded for the next turn's --resume.
	meta, err := st.GetMeta("proj", id)
	require.NoError(t, err)
	assert.Equal(t, "cli-sid-1", meta.ClaudeSID)

	events := sink.Events()
	require.Len(t, events, 4)
	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, id, events[0].SessionID)
	assert.Equal(t, EventData, events[1].Type)
	assert.Equal(t, "Hello, ", events[1].Content)
	assert.Equal(t, "world.", events[2].Content)
	assert.Equal(t, EventEnd, events[3].Type)
	require.NotNil(t, events[3].Usage)
	assert.Equal(t, 34, events[3].Usage.OutputTokens)
}

func TestRunPassesResumeAndModel(t *testing.T) {
	runner := &fakeRunner{handle: newFakeHandle([]claudecli.Event{
		resultEvent("ok", "cli-sid-2", nil),
	}, nil)}
	g, st, id := newTestGateway(t, runner)
	require.NoError(t, st.SetClaudeSessionID("proj", id, "prev-cli-sid"))

	var sink BufferSink
	_, err := g.Run(context.Background(), TurnRequest{
		Project: "proj", SessionID: id, Message: "continue",
	}, &sink)
	require.NoError(t, err)

	assert.Equal(t, "prev-cli-sid", runner.lastOpts.ResumeSessionID)
	assert.Equal(t, "claude-sonnet", runner.lastOpts.Model)
	assert.Equal(t, "continue", runner.lastOpts.Prompt)
}

func TestRunDefaultModelFallback(t *testing.T) {
	runner := &fakeRunner{handle: newFakeHandle([]claudecli.Event{
		resultEvent("ok", "", nil),
	}, nil)}
	st, err := store.New(store.Options{Root: t.TempDir()})
	require.NoError(t, err)
	sess, err := st.CreateSession("proj", store.Metadata{}) // no model on the session
	require.NoError(t, err)
	g := New(Options{Store: st, Runner: runner, DefaultModel: "claude-haiku"})

	var sink BufferSink
	_, err = g.Run(context.Background(), TurnRequest{
		Project: "proj", SessionID: sess.ID, Message: "hi",
	}, &sink)
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku", runner.lastOpts.Model)
}

func TestRunResultOnlyReply(t *testing.T) {
	// No assistant events at all; the reply arrives in the result event.
	runner := &fakeRunner{handle: newFakeHandle([]claudecli.Event{
		resultEvent("just the result", "", nil),
	}, nil)}
	g, st, id := newTestGateway(t, runner)

	var sink BufferSink
	result, err := g.Run(context.Background(), TurnRequest{
		Project: "proj", SessionID: id, Message: "hi",
	}, &sink)
	require.NoError(t, err)
	assert.Equal(t, "just the result", result.AssistantMessage.Text())

	sess, err := st.GetSession("proj", id)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
}

func TestRunDisconnectCancelsAndDropsAssistant(t *testing.T) {
	handle := newFakeHandle([]claudecli.Event{
		assistantEvent(t, "chunk 1", nil),
		assistantEvent(t, "chunk 2", nil),
		assistantEvent(t, "chunk 3", nil),
		resultEvent("done", "", nil),
	}, nil)
	runner := &fakeRunner{handle: handle}
	g, st, id := newTestGateway(t, runner)

	sends := 0
	sink := FuncSink(func(ev StreamEvent) error {
		sends++
		if sends >= 3 { // start + first chunk delivered, then the client drops
			return errors.New("broken pipe")
		}
		return nil
	})

	_, err := g.Run(context.Background(), TurnRequest{
		Project: "proj", SessionID: id, Message: "hi",
	}, sink)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.True(t, handle.wasCancelled())

	// The user message survives; no assistant message was persisted.
	sess, err := st.GetSession("proj", id)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, store.RoleUser, sess.Messages[0].Role)
}

func TestRunSpawnFailureKeepsUserMessage(t *testing.T) {
	runner := &fakeRunner{startErr: fmt.Errorf("%w: no such file", claudecli.ErrSpawn)}
	g, st, id := newTestGateway(t, runner)

	var sink BufferSink
	_, err := g.Run(context.Background(), TurnRequest{
		Project: "proj", SessionID: id, Message: "hi",
	}, &sink)
	assert.ErrorIs(t, err, claudecli.ErrSpawn)

	sess, err := st.GetSession("proj", id)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "SPAWN_ERROR", events[0].Code)
}

func TestRunTimeoutSurfacesErrorEvent(t *testing.T) {
	runner := &fakeRunner{handle: newFakeHandle([]claudecli.Event{
		assistantEvent(t, "partial", nil),
	}, claudecli.ErrTimeout)}
	g, st, id := newTestGateway(t, runner)

	var sink BufferSink
	_, err := g.Run(context.Background(), TurnRequest{
		Project: "proj", SessionID: id, Message: "hi",
	}, &sink)
	assert.ErrorIs(t, err, claudecli.ErrTimeout)

	events := sink.Events()
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, "TIMEOUT", last.Code)

	// Partial output is never persisted.
	sess, err := st.GetSession("proj", id)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
}

func TestRunUnknownSession(t *testing.T) {
	g, _, _ := newTestGateway(t, &fakeRunner{})
	var sink BufferSink
	_, err := g.Run(context.Background(), TurnRequest{
		Project: "proj", SessionID: "nope", Message: "hi",
	}, &sink)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunEmptyMessageRejected(t *testing.T) {
	g, st, id := newTestGateway(t, &fakeRunner{})
	var sink BufferSink
	_, err := g.Run(context.Background(), TurnRequest{
		Project: "proj", SessionID: id, Message: "",
	}, &sink)
	assert.ErrorIs(t, err, store.ErrInvalid)

	// Nothing was persisted.
	sess, err := st.GetSession("proj", id)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
}

func TestCodeFor(t *testing.T) {
	assert.Equal(t, "TIMEOUT", CodeFor(claudecli.ErrTimeout))
	assert.Equal(t, "OUTPUT_TOO_LARGE", CodeFor(claudecli.ErrOutputTooLarge))
	assert.Equal(t, "SPAWN_ERROR", CodeFor(fmt.Errorf("%w: x", claudecli.ErrSpawn)))
	assert.Equal(t, "INTERNAL_ERROR", CodeFor(errors.New("weird")))
}
