// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the sessiond API.
//
// Sessiond serves a query and chat API over locally stored chat sessions.
// This client library provides typed access to the API endpoints for
// managing projects and sessions, running jq queries, and driving chat
// turns.
//
// # Getting Started
//
// Create a client pointing to your sessiond server:
//
//	c := client.New("http://localhost:8650")
//
// The client provides access to different API resources through sub-clients:
//
//	// List sessions in a project
//	page, err := c.Sessions.List(ctx, &client.SessionListOptions{Project: "myapp"})
//
//	// Run a jq query across every stored message
//	res, err := c.Query.Execute(ctx, client.QueryRequest{Query: "select(.role == \"user\")"})
//
//	// Send a chat message and wait for the full reply
//	turn, err := c.Chat.Send(ctx, sessionID, client.ChatRequest{Message: "hello"})
//
// # API Versioning
//
// Sessiond uses Stripe-style date-based API versioning. By default, the
// client uses the latest API version. You can pin to a specific version
// for stability:
//
//	c := client.New("http://localhost:8650", client.WithVersion("2026-08-28"))
//
// The version is sent via the Sessiond-Version HTTP header on each request.
//
// # Error Handling
//
// API errors are returned as *APIError values, which include an error code
// and message:
//
//	s, err := c.Sessions.Get(ctx, "unknown")
//	if err != nil {
//	    if apiErr, ok := err.(*client.APIError); ok {
//	        fmt.Printf("API error: %s - %s\n", apiErr.Code, apiErr.Message)
//	    }
//	}
//
// # Context Support
//
// All API methods accept a context.Context for cancellation and timeouts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a sessiond API client.
//
// A Client provides access to the sessiond API through resource-specific
// sub-clients. Use [New] to create a Client instance.
//
// The Client is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client

	// Sessions provides access to session management operations.
	Sessions *SessionClient

	// Projects provides access to project management operations.
	Projects *ProjectClient

	// Query provides access to ad-hoc jq queries over stored sessions.
	Query *QueryClient

	// Chat provides access to chat turns, streaming and non-streaming.
	Chat *ChatClient

	// Events provides access to the event history.
	Events *EventClient
}

// Option configures a [Client].
type Option func(*Client)

// New creates a new sessiond API client with the given base URL and options.
//
// The baseURL should be the root URL of the sessiond server
// (e.g., "http://localhost:8650"). Any trailing slash is removed.
//
// By default, the client uses the latest API version and a 30-second HTTP
// timeout. Note that streaming chat turns can run longer than that; use
// [WithTimeout] or a custom HTTP client when driving long turns.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: LatestVersion,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Sessions = &SessionClient{c: c}
	c.Projects = &ProjectClient{c: c}
	c.Query = &QueryClient{c: c}
	c.Chat = &ChatClient{c: c}
	c.Events = &EventClient{c: c}

	return c
}

// WithVersion sets the API version to use for all requests.
//
// Sessiond uses date-based versioning (e.g., "2026-08-28"). Pinning to a
// specific version ensures API compatibility as the server evolves.
func WithVersion(v string) Option {
	return func(c *Client) {
		c.version = v
	}
}

// WithHTTPClient sets a custom HTTP client for making requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout for all requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Version returns the API version being used.
func (c *Client) Version() string {
	return c.version
}

// BaseURL returns the base URL of the API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiResponse is the standard API response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

// ResponseMeta carries envelope metadata such as the total count for
// paginated listings.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Total     *int      `json:"total,omitempty"`
}

// APIError represents an error response from the sessiond API.
//
// API errors include a machine-readable Code and a human-readable Message.
// Common error codes include:
//   - "SESSION_NOT_FOUND": The requested session does not exist
//   - "PROJECT_NOT_FOUND": The requested project does not exist
//   - "VALIDATION_ERROR": The request was malformed or invalid
//   - "INVALID_JQ_QUERY": The jq expression failed to compile
//   - "BUDGET_EXCEEDED": The query exceeded its step or time budget
type APIError struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// get performs a GET request to the given path.
func (c *Client) get(ctx context.Context, path string) (json.RawMessage, *ResponseMeta, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// postJSON performs a POST request with a JSON body.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, *ResponseMeta, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data))
}

// putJSON performs a PUT request with a JSON body.
func (c *Client) putJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, *ResponseMeta, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPut, path, bytes.NewReader(data))
}

// delete performs a DELETE request to the given path.
func (c *Client) delete(ctx context.Context, path string) (json.RawMessage, *ResponseMeta, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// do performs an HTTP request and parses the response envelope.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, *ResponseMeta, error) {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

// send issues the request without consuming the body. Streaming endpoints
// use it directly.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(VersionHeader, c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// parseResponse reads and parses an API response envelope.
func (c *Client) parseResponse(resp *http.Response) (json.RawMessage, *ResponseMeta, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil, nil
	}

	if apiResp.Error != nil {
		return nil, nil, apiResp.Error
	}
	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return apiResp.Data, apiResp.Meta, nil
}
