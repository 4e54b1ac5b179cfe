// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"time"
)

// SessionSummary describes a session without its messages.
type SessionSummary struct {
	ID           string    `json:"id"`
	Project      string    `json:"project"`
	Title        string    `json:"title,omitempty"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Session is a full session including its message history.
type Session struct {
	SessionSummary
	ClaudeSID string    `json:"claude_session_id,omitempty"`
	Messages  []Message `json:"messages"`
}

// Message is a single message in a session transcript.
type Message struct {
	Seq       int            `json:"seq"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Usage     *Usage         `json:"usage,omitempty"`
}

// ContentBlock is one piece of message content: text, a tool use, or a
// tool result.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// Usage reports token counts for an assistant reply.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Project describes a stored project.
type Project struct {
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
	SessionCount int       `json:"session_count"`
}

// ProjectDetail is a project together with its session summaries.
type ProjectDetail struct {
	Project
	Sessions []SessionSummary `json:"sessions"`
}

// Event is one entry from the server's event history.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Project   string          `json:"project,omitempty"`
	Session   string          `json:"session,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TurnResult is the outcome of a completed chat turn.
type TurnResult struct {
	UserMessage      Message `json:"user_message"`
	AssistantMessage Message `json:"assistant_message"`
	Usage            *Usage  `json:"usage,omitempty"`
}

// StreamEvent is one frame of a streaming chat turn.
//
// Type is one of "start", "data", "end", or "error". Data frames carry
// incremental assistant text in Content; end frames carry Usage; error
// frames carry Code and Message.
type StreamEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Usage     *Usage `json:"usage,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}
