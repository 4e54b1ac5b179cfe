// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package query executes jq filter expressions over session message logs
// under a step and wall-clock budget.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	"github.com/wingedpig/sessiond/internal/store"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrInvalidQuery   = errors.New("invalid query")
	ErrBudgetExceeded = errors.New("query budget exceeded")
)

// maxResults bounds the output of expansive filters (e.g. range()) that
// produce many values per input message.
const maxResults = 100000

// Budget bounds one query execution. Zero fields fall back to the engine
// defaults.
type Budget struct {
	MaxSteps int           // input messages processed
	Timeout  time.Duration // wall clock
}

// SessionRef addresses one session.
type SessionRef struct {
	Project string
	ID      string
}

// Scope selects the sessions a query runs over. Sessions wins over Projects;
// both empty means every session in the store.
type Scope struct {
	Projects []string
	Sessions []SessionRef
}

// Engine compiles and runs filter expressions against the store.
type Engine struct {
	store    *store.Store
	defaults Budget
}

// New creates an engine with the given default budget.
func New(st *store.Store, defaults Budget) *Engine {
	if defaults.MaxSteps <= 0 {
		defaults.MaxSteps = 100000
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 5 * time.Second
	}
	return &Engine{store: st, defaults: defaults}
}

// Compile parses and compiles a filter expression without running it.
// A compile failure reports the position and reason and never executes.
func Compile(expr string) (*gojq.Code, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return code, nil
}

// Execute compiles expr once and evaluates it against every message in scope,
// in deterministic order: projects sorted by name, sessions in listing order,
// messages in append order. Results preserve that order.
func (e *Engine) Execute(ctx context.Context, expr string, scope Scope, budget Budget) ([]any, error) {
	code, err := Compile(expr)
	if err != nil {
		return nil, err
	}

	if budget.MaxSteps <= 0 {
		budget.MaxSteps = e.defaults.MaxSteps
	}
	if budget.Timeout <= 0 {
		budget.Timeout = e.defaults.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget.Timeout)
	defer cancel()

	refs, err := e.resolveScope(scope)
	if err != nil {
		return nil, err
	}

	results := []any{}
	steps := 0
	for _, ref := range refs {
		it, err := e.store.Messages(ref.Project, ref.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("read session %s/%s: %w", ref.Project, ref.ID, err)
		}

		done, err := e.runSession(ctx, code, it, budget.MaxSteps, &steps, &results)
		it.Close()
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return results, nil
}

// FilterSession runs expr over a single session's messages.
func (e *Engine) FilterSession(ctx context.Context, project, id, expr string, budget Budget) ([]any, error) {
	return e.Execute(ctx, expr, Scope{Sessions: []SessionRef{{Project: project, ID: id}}}, budget)
}

// runSession feeds one session's messages through the compiled code.
func (e *Engine) runSession(ctx context.Context, code *gojq.Code, it *store.MessageIter, maxSteps int, steps *int, results *[]any) (bool, error) {
	for {
		msg, ok := it.Next()
		if !ok {
			return false, it.Err()
		}

		*steps++
		if *steps > maxSteps {
			return false, fmt.Errorf("%w: step ceiling %d reached", ErrBudgetExceeded, maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("%w: timeout", ErrBudgetExceeded)
		}

		input, err := toJQValue(msg)
		if err != nil {
			return false, err
		}

		jqIter := code.RunWithContext(ctx, input)
		for {
			v, ok := jqIter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return false, fmt.Errorf("%w: timeout", ErrBudgetExceeded)
				}
				var haltErr *gojq.HaltError
				if errors.As(err, &haltErr) {
					return true, nil
				}
				return false, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
			}
			*results = append(*results, v)
			if len(*results) > maxResults {
				return false, fmt.Errorf("%w: result ceiling %d reached", ErrBudgetExceeded, maxResults)
			}
		}
	}
}

// resolveScope expands a scope into a deterministic session list.
func (e *Engine) resolveScope(scope Scope) ([]SessionRef, error) {
	if len(scope.Sessions) > 0 {
		return scope.Sessions, nil
	}

	projects := scope.Projects
	if len(projects) == 0 {
		infos, err := e.store.ListProjects()
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		for _, p := range infos {
			projects = append(projects, p.Name)
		}
	}

	var refs []SessionRef
	for _, project := range projects {
		summaries, err := e.store.ListSessions(project)
		if err != nil {
			return nil, err
		}
		for _, s := range summaries {
			refs = append(refs, SessionRef{Project: project, ID: s.ID})
		}
	}
	return refs, nil
}

// toJQValue converts a message to the plain map/slice form gojq accepts.
func toJQValue(msg store.Message) (any, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return v, nil
}
