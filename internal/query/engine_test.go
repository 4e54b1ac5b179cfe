// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/sessiond/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(store.Options{Root: t.TempDir()})
	require.NoError(t, err)
	return New(st, Budget{MaxSteps: 100000, Timeout: 5 * time.Second}), st
}

func seedSession(t *testing.T, st *store.Store, project string, texts ...string) string {
	t.Helper()
	sess, err := st.CreateSession(project, store.Metadata{})
	require.NoError(t, err)
	for i, text := range texts {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		_, _, err := st.AppendMessage(project, sess.ID, store.Message{
			Role:    role,
			Content: []store.ContentBlock{{Type: "text", Text: text}},
		})
		require.NoError(t, err)
	}
	return sess.ID
}

func TestExecuteSelect(t *testing.T) {
	e, st := newTestEngine(t)
	id := seedSession(t, st, "p", "q1", "a1", "q2", "a2")

	results, err := e.FilterSession(context.Background(), "p", id,
		`select(.role == "user") | .content[0].text`, Budget{})
	require.NoError(t, err)
	assert.Equal(t, []any{"q1", "q2"}, results)
}

func TestExecutePreservesOrder(t *testing.T) {
	e, st := newTestEngine(t)
	id := seedSession(t, st, "p", "a", "b", "c", "d")

	results, err := e.FilterSession(context.Background(), "p", id, `.seq`, Budget{})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, v := range results {
		assert.EqualValues(t, i, v)
	}
}

func TestCompileFailureNeverExecutes(t *testing.T) {
	e, st := newTestEngine(t)
	id := seedSession(t, st, "p", "x")

	_, err := e.FilterSession(context.Background(), "p", id, `select(.role == `, Budget{})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = e.FilterSession(context.Background(), "p", id, `.[foo`, Budget{})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestStepBudgetExceeded(t *testing.T) {
	e, st := newTestEngine(t)
	// 4 sessions x 3000 messages: enough volume that the engine has to
	// stream rather than slurp. Fsync is off, so seeding stays fast.
	const sessions, perSession = 4, 3000
	for i := 0; i < sessions; i++ {
		texts := make([]string, perSession)
		for j := range texts {
			texts[j] = fmt.Sprintf("m%d", j)
		}
		seedSession(t, st, "big", texts...)
	}

	// Under budget: the full corpus streams through.
	results, err := e.Execute(context.Background(), `.role`, Scope{Projects: []string{"big"}},
		Budget{MaxSteps: sessions*perSession + 1, Timeout: 30 * time.Second})
	require.NoError(t, err)
	assert.Len(t, results, sessions*perSession)

	// Over budget: a ceiling below the message count aborts.
	_, err = e.Execute(context.Background(), `.role`, Scope{Projects: []string{"big"}},
		Budget{MaxSteps: 10000, Timeout: 30 * time.Second})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestTimeoutBudgetExceeded(t *testing.T) {
	e, st := newTestEngine(t)
	id := seedSession(t, st, "p", "x")

	// An expression that loops essentially forever on one input.
	_, err := e.FilterSession(context.Background(), "p", id,
		`last(repeat(.))`, Budget{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestResultCeiling(t *testing.T) {
	e, st := newTestEngine(t)
	id := seedSession(t, st, "p", "x")

	_, err := e.FilterSession(context.Background(), "p", id,
		`range(10000000)`, Budget{Timeout: 30 * time.Second})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestCrossSessionScope(t *testing.T) {
	e, st := newTestEngine(t)
	seedSession(t, st, "alpha", "a1", "a2")
	seedSession(t, st, "beta", "b1")

	results, err := e.Execute(context.Background(), `.content[0].text`, Scope{}, Budget{})
	require.NoError(t, err)
	// All sessions, projects in sorted order, messages in append order.
	assert.Equal(t, []any{"a1", "a2", "b1"}, results)
}

func TestScopeNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Execute(context.Background(), `.`, Scope{Projects: []string{"ghost"}}, Budget{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeterministic(t *testing.T) {
	e, st := newTestEngine(t)
	id := seedSession(t, st, "p", "one", "two", "three")

	expr := `{role: .role, n: (.content | length)}`
	first, err := e.FilterSession(context.Background(), "p", id, expr, Budget{})
	require.NoError(t, err)
	second, err := e.FilterSession(context.Background(), "p", id, expr, Budget{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGroupingPreservesInputOrder(t *testing.T) {
	e, st := newTestEngine(t)
	id := seedSession(t, st, "p", "u1", "a1", "u2", "a2")

	// Aggregate over the whole session via an inner select per message:
	// runtime errors must surface as invalid-query, not panic.
	results, err := e.FilterSession(context.Background(), "p", id,
		`select(.role=="assistant") | .seq`, Budget{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.EqualValues(t, 1, results[0])
	assert.EqualValues(t, 3, results[1])
}
