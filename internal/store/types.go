// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store persists chat sessions as per-project directories of
// append-only JSONL message logs.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by store operations. Callers unwrap with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid")
	ErrConflict = errors.New("conflict")
	ErrWrite    = errors.New("write failed")
)

// Valid message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContentBlock mirrors Claude's content block types.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// Usage holds token counts reported for an assistant message.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is one entry in a session's append-only log. Seq is assigned by
// AppendMessage and is monotonic within the session.
type Message struct {
	Seq       int            `json:"seq"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Usage     *Usage         `json:"usage,omitempty"`
}

// Text returns the concatenated text blocks of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// Metadata is the mutable part of a session record.
type Metadata struct {
	Title string `json:"title,omitempty"`
	Model string `json:"model,omitempty"`
}

// MetadataPatch updates a subset of metadata fields. Nil fields are left alone.
type MetadataPatch struct {
	Title *string `json:"title,omitempty"`
	Model *string `json:"model,omitempty"`
}

// SessionMeta is the persisted session.json record.
type SessionMeta struct {
	ID           string    `json:"id"`
	Project      string    `json:"project"`
	Title        string    `json:"title,omitempty"`
	Model        string    `json:"model,omitempty"`
	ClaudeSID    string    `json:"claude_session_id,omitempty"` // CLI conversation id for --resume
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Session is a full session: metadata plus the complete message sequence.
type Session struct {
	SessionMeta
	Messages []Message `json:"messages"`
}

// Summary is a message-free session listing entry.
type Summary struct {
	ID           string    `json:"id"`
	Project      string    `json:"project"`
	Title        string    `json:"title,omitempty"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// ProjectInfo describes one project directory.
type ProjectInfo struct {
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
	SessionCount int       `json:"session_count"`
}

// summary converts persisted metadata to a listing entry.
func (m SessionMeta) summary() Summary {
	return Summary{
		ID:           m.ID,
		Project:      m.Project,
		Title:        m.Title,
		Model:        m.Model,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		MessageCount: m.MessageCount,
	}
}
