// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the in-process pub/sub bus that carries storage
// and chat lifecycle notifications to API clients.
package events

import (
	"context"
	"time"
)

// Event is an immutable notification record.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Project   string         `json:"project,omitempty"`
	Session   string         `json:"session,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Handler processes received events.
type Handler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// Filter selects events from history.
type Filter struct {
	Types   []string  // type patterns, wildcards allowed
	Project string    // exact project match
	Since   time.Time // events after this time
	Until   time.Time // events before this time
	Limit   int       // newest N matching events
}

// Published event types.
const (
	EventSessionCreated = "session.created"
	EventSessionUpdated = "session.updated"
	EventSessionDeleted = "session.deleted"

	EventProjectCreated = "project.created"
	EventProjectDeleted = "project.deleted"

	EventChatTurnStarted   = "chat.turn.started"
	EventChatTurnCompleted = "chat.turn.completed"
	EventChatTurnFailed    = "chat.turn.failed"

	EventStorageChanged = "storage.changed"
)
