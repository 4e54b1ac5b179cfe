// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package e2e drives the assembled server through the public client
// library.
package e2e

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/sessiond/internal/api"
	"github.com/wingedpig/sessiond/internal/claudecli"
	"github.com/wingedpig/sessiond/internal/events"
	"github.com/wingedpig/sessiond/internal/gateway"
	"github.com/wingedpig/sessiond/internal/index"
	"github.com/wingedpig/sessiond/internal/query"
	"github.com/wingedpig/sessiond/internal/store"
	"github.com/wingedpig/sessiond/pkg/client"
)

// scriptedHandle replays canned CLI events.
type scriptedHandle struct {
	events chan claudecli.Event
}

func (h *scriptedHandle) Events() <-chan claudecli.Event { return h.events }
func (h *scriptedHandle) Cancel()                        {}
func (h *scriptedHandle) Wait() error                    { return nil }
func (h *scriptedHandle) Close() error                   { return nil }

// scriptedRunner replies to every turn with a fixed assistant message.
type scriptedRunner struct {
	reply string
}

func (r *scriptedRunner) Start(ctx context.Context, opts claudecli.StartOptions) (gateway.Handle, error) {
	msg, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": r.reply}},
	})
	ch := make(chan claudecli.Event, 3)
	ch <- claudecli.Event{Type: claudecli.EventSystem, Subtype: "init", SessionID: "cli-e2e"}
	ch <- claudecli.Event{Type: claudecli.EventAssistant, SessionID: "cli-e2e", Message: msg}
	ch <- claudecli.Event{
		Type:      claudecli.EventResult,
		SessionID: "cli-e2e",
		Result:    r.reply,
		Usage:     &store.Usage{InputTokens: 12, OutputTokens: 3},
	}
	close(ch)
	return &scriptedHandle{events: ch}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(store.Options{Root: filepath.Join(dir, "projects")})
	require.NoError(t, err)

	ix, err := index.Open(filepath.Join(dir, "index.db"), st)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	bus := events.NewBus(events.BusConfig{})
	t.Cleanup(func() { bus.Close() })

	st.SetOnChange(func(op store.ChangeOp, meta store.SessionMeta) {
		ix.Apply(op, meta)
		bus.Publish(context.Background(), events.Event{
			Type:    string(op),
			Project: meta.Project,
			Session: meta.ID,
		})
	})

	engine := query.New(st, query.Budget{MaxSteps: 100000, Timeout: 5 * time.Second})
	gw := gateway.New(gateway.Options{
		Store:  st,
		Runner: &scriptedRunner{reply: "The answer is 42."},
	})

	server := api.NewServer(api.ServerConfig{Host: "127.0.0.1", Port: 0}, api.Dependencies{
		Store:    st,
		Index:    ix,
		Engine:   engine,
		Gateway:  gw,
		EventBus: bus,
	})
	require.NotNil(t, server.Router())

	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return srv
}

// TestSessionLifecycle walks a session from creation through chat to
// deletion using the client library.
func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, client.CreateSessionRequest{
		Project: "myapp",
		Title:   "planning",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	turn, err := c.Chat.Send(ctx, sess.ID, client.ChatRequest{Message: "what is the answer?"})
	require.NoError(t, err)
	assert.Equal(t, "user", turn.UserMessage.Role)
	assert.Equal(t, "assistant", turn.AssistantMessage.Role)
	assert.Equal(t, "The answer is 42.", turn.AssistantMessage.Content[0].Text)
	require.NotNil(t, turn.Usage)
	assert.Equal(t, 3, turn.Usage.OutputTokens)

	got, err := c.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, "planning", got.Title)

	require.NoError(t, c.Sessions.Delete(ctx, sess.ID))

	_, err = c.Sessions.Get(ctx, sess.ID)
	require.Error(t, err)
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok)
	assert.Equal(t, "SESSION_NOT_FOUND", apiErr.Code)
}

// TestStreamingChat verifies data frames arrive before the end frame.
func TestStreamingChat(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	sess, err := c.Sessions.Create(ctx, client.CreateSessionRequest{Project: "myapp"})
	require.NoError(t, err)

	var types []string
	var text string
	err = c.Chat.Stream(ctx, sess.ID, client.ChatRequest{Message: "hi"}, func(ev client.StreamEvent) error {
		types = append(types, ev.Type)
		if ev.Type == "data" {
			text += ev.Content
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "start", types[0])
	assert.Equal(t, "end", types[len(types)-1])
	assert.Equal(t, "The answer is 42.", text)
}

// TestQueryAcrossSessions runs a jq query over everything on disk.
func TestQueryAcrossSessions(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	for _, project := range []string{"alpha", "beta"} {
		sess, err := c.Sessions.Create(ctx, client.CreateSessionRequest{Project: project})
		require.NoError(t, err)
		_, err = c.Chat.Send(ctx, sess.ID, client.ChatRequest{Message: "hello from " + project})
		require.NoError(t, err)
	}

	res, err := c.Query.Execute(ctx, client.QueryRequest{
		Query: `select(.role == "user") | .content[0].text`,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, `"hello from alpha"`, string(res.Results[0]))
	assert.Equal(t, `"hello from beta"`, string(res.Results[1]))

	res, err = c.Query.Execute(ctx, client.QueryRequest{
		Query:    `select(.role == "assistant") | .usage.output_tokens`,
		Projects: []string{"alpha"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "3", string(res.Results[0]))
}

// TestProjectsAndEvents checks project listing and the event history
// after storage activity.
func TestProjectsAndEvents(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	_, err := c.Projects.Create(ctx, "infra")
	require.NoError(t, err)

	sess, err := c.Sessions.Create(ctx, client.CreateSessionRequest{Project: "infra"})
	require.NoError(t, err)

	detail, err := c.Projects.Get(ctx, "infra")
	require.NoError(t, err)
	assert.Equal(t, "infra", detail.Name)
	require.Len(t, detail.Sessions, 1)
	assert.Equal(t, sess.ID, detail.Sessions[0].ID)

	evts, err := c.Events.List(ctx, &client.EventListOptions{
		Types:   []string{"session.created"},
		Project: "infra",
	})
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	assert.Equal(t, sess.ID, evts[0].Session)

	require.NoError(t, c.Projects.Delete(ctx, "infra"))
	projects, err := c.Projects.List(ctx)
	require.NoError(t, err)
	for _, p := range projects {
		assert.NotEqual(t, "infra", p.Name)
	}
}
