// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// QueryClient provides access to ad-hoc jq queries over stored sessions.
//
// Access this client through [Client.Query]:
//
//	res, err := client.Query.Execute(ctx, client.QueryRequest{
//	    Query:    `select(.role == "user") | .content[0].text`,
//	    Projects: []string{"myapp"},
//	})
type QueryClient struct {
	c *Client
}

// QueryRequest describes a jq query and its scope.
//
// Sessions, when given, win over Projects; an empty scope means every
// session on the server.
type QueryRequest struct {
	// Query is the jq expression. Every message of every scoped session
	// is fed to it as input, in order.
	Query string `json:"query"`

	// Projects restricts the scope to these projects.
	Projects []string `json:"projects,omitempty"`

	// Sessions restricts the scope to these session ids.
	Sessions []string `json:"sessions,omitempty"`

	// MaxSteps caps jq evaluation steps. Zero uses the server default.
	MaxSteps int `json:"max_steps,omitempty"`

	// TimeoutMS caps query wall time in milliseconds. Zero uses the
	// server default.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// QueryResult holds the outputs of a query.
type QueryResult struct {
	Results []json.RawMessage `json:"results"`
	Count   int               `json:"count"`
}

// Execute runs a jq query over the requested scope.
//
// Queries that exceed the server's step or time budget fail with an
// *APIError carrying code "BUDGET_EXCEEDED".
func (q *QueryClient) Execute(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	data, _, err := q.c.postJSON(ctx, "/api/v1/query", req)
	if err != nil {
		return nil, err
	}
	var res QueryResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse query result: %w", err)
	}
	return &res, nil
}
