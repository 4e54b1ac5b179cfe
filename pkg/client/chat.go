// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ChatClient drives chat turns against stored sessions.
//
// Access this client through [Client.Chat]. A turn sends one user message
// and produces one assistant reply. Send waits for the whole reply;
// Stream delivers it incrementally.
type ChatClient struct {
	c *Client
}

// ChatRequest holds parameters for one chat turn.
type ChatRequest struct {
	// Message is the user's message text. Required.
	Message string `json:"message"`

	// Model overrides the session's model for this turn.
	Model string `json:"model,omitempty"`
}

// Send runs a chat turn and blocks until the full assistant reply is
// available.
//
// The client's HTTP timeout applies to the whole turn; raise it with
// [WithTimeout] when replies can run long.
func (ch *ChatClient) Send(ctx context.Context, sessionID string, req ChatRequest) (*TurnResult, error) {
	body := struct {
		ChatRequest
		Stream bool `json:"stream"`
	}{ChatRequest: req, Stream: false}

	data, _, err := ch.c.postJSON(ctx, chatPath(sessionID), body)
	if err != nil {
		return nil, err
	}
	var res TurnResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse turn result: %w", err)
	}
	return &res, nil
}

// Stream runs a chat turn and calls fn for every stream event as it
// arrives: a start frame, data frames with incremental text, then an end
// frame (or an error frame).
//
// If fn returns an error, the stream is abandoned; the server cancels the
// in-flight turn and discards the partial reply. Error frames terminate
// the stream and are surfaced both to fn and as an *APIError return.
func (ch *ChatClient) Stream(ctx context.Context, sessionID string, req ChatRequest, fn func(StreamEvent) error) error {
	payload, err := json.Marshal(struct {
		ChatRequest
		Stream bool `json:"stream"`
	}{ChatRequest: req, Stream: true})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := ch.c.send(ctx, http.MethodPost, chatPath(sessionID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Pre-stream failures (unknown session, bad body) come back as a
	// normal JSON envelope.
	if resp.StatusCode >= 400 {
		_, _, err := ch.c.parseResponse(resp)
		if err != nil {
			return err
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("failed to parse stream event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Type == "error" {
			return &APIError{Code: ev.Code, Message: ev.Message}
		}
		if ev.Type == "end" {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return fmt.Errorf("stream ended without an end event")
}

func chatPath(sessionID string) string {
	return "/api/v1/sessions/" + url.PathEscape(sessionID) + "/chat"
}
