// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claudecli

import (
	"encoding/json"

	"github.com/wingedpig/sessiond/internal/store"
)

// Event is a parsed NDJSON line from claude --output-format stream-json.
type Event struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
	Usage     *store.Usage    `json:"usage,omitempty"`
}

// Event types emitted by the CLI.
const (
	EventSystem    = "system"
	EventAssistant = "assistant"
	EventResult    = "result"
)

// assistantMessage is the message field of an assistant event.
type assistantMessage struct {
	Content []store.ContentBlock `json:"content"`
	Usage   *store.Usage         `json:"usage,omitempty"`
}

// AssistantContent extracts content blocks and usage from an assistant
// event. Returns ok=false for other event types or unparsable payloads.
func (e Event) AssistantContent() (blocks []store.ContentBlock, usage *store.Usage, ok bool) {
	if e.Type != EventAssistant || e.Message == nil {
		return nil, nil, false
	}
	var msg assistantMessage
	if err := json.Unmarshal(e.Message, &msg); err != nil {
		return nil, nil, false
	}
	return msg.Content, msg.Usage, true
}

// TextDelta returns the concatenated text blocks of an assistant event.
func (e Event) TextDelta() (string, bool) {
	blocks, _, ok := e.AssistantContent()
	if !ok {
		return "", false
	}
	var out string
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out, out != ""
}
