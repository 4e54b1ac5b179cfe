// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// SessionClient provides access to session management operations.
//
// Access this client through [Client.Sessions]:
//
//	page, err := client.Sessions.List(ctx, nil)
type SessionClient struct {
	c *Client
}

// SessionListOptions configures session listing.
type SessionListOptions struct {
	// Project restricts the listing to one project.
	Project string

	// Limit is the maximum number of sessions to return.
	Limit int

	// Offset skips that many sessions, for pagination.
	Offset int
}

// SessionPage is one page of session summaries.
type SessionPage struct {
	Sessions []SessionSummary

	// Total is the number of sessions matching the listing, across all
	// pages.
	Total int
}

// List returns a page of session summaries, newest first.
func (s *SessionClient) List(ctx context.Context, opts *SessionListOptions) (*SessionPage, error) {
	path := "/api/v1/sessions"
	if opts != nil {
		params := url.Values{}
		if opts.Project != "" {
			params.Set("project", opts.Project)
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
		if len(params) > 0 {
			path += "?" + params.Encode()
		}
	}

	data, meta, err := s.c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	page := &SessionPage{}
	if err := json.Unmarshal(data, &page.Sessions); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}
	if meta != nil && meta.Total != nil {
		page.Total = *meta.Total
	} else {
		page.Total = len(page.Sessions)
	}
	return page, nil
}

// CreateSessionRequest holds parameters for creating a session.
type CreateSessionRequest struct {
	// Project names the owning project. Required; created on demand.
	Project string `json:"project"`

	Title string `json:"title,omitempty"`
	Model string `json:"model,omitempty"`
}

// Create creates a new session.
func (s *SessionClient) Create(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	data, _, err := s.c.postJSON(ctx, "/api/v1/sessions", req)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &sess, nil
}

// Get returns a session with its full message history.
func (s *SessionClient) Get(ctx context.Context, id string) (*Session, error) {
	data, _, err := s.c.get(ctx, "/api/v1/sessions/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &sess, nil
}

// UpdateSessionRequest patches session metadata. Nil fields are left
// unchanged; empty strings clear the field.
type UpdateSessionRequest struct {
	Title *string `json:"title,omitempty"`
	Model *string `json:"model,omitempty"`
}

// Update patches a session's mutable metadata and returns the result.
func (s *SessionClient) Update(ctx context.Context, id string, req UpdateSessionRequest) (*SessionSummary, error) {
	data, _, err := s.c.putJSON(ctx, "/api/v1/sessions/"+url.PathEscape(id), req)
	if err != nil {
		return nil, err
	}
	var sum SessionSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &sum, nil
}

// Delete removes a session. Deleting a session that does not exist is not
// an error.
func (s *SessionClient) Delete(ctx context.Context, id string) error {
	_, _, err := s.c.delete(ctx, "/api/v1/sessions/"+url.PathEscape(id))
	return err
}

// Messages returns a session's messages in order.
func (s *SessionClient) Messages(ctx context.Context, id string, limit int) ([]Message, error) {
	path := "/api/v1/sessions/" + url.PathEscape(id) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	data, _, err := s.c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}
	return msgs, nil
}

// FilterMessages runs a jq expression over each message of a session and
// returns the raw results.
func (s *SessionClient) FilterMessages(ctx context.Context, id, expr string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("q", expr)
	path := "/api/v1/sessions/" + url.PathEscape(id) + "/messages?" + params.Encode()

	data, _, err := s.c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var results []json.RawMessage
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	return results, nil
}
