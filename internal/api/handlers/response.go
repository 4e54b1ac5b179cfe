// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the /api/v1 HTTP handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wingedpig/sessiond/internal/claudecli"
	"github.com/wingedpig/sessiond/internal/query"
	"github.com/wingedpig/sessiond/internal/store"
)

// Response is the standard API response wrapper.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *MetaInfo  `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// MetaInfo contains response metadata.
type MetaInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Total     *int      `json:"total,omitempty"` // list endpoints only
}

// Stable machine-readable error codes.
const (
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeProjectNotFound   = "PROJECT_NOT_FOUND"
	CodeValidationError   = "VALIDATION_ERROR"
	CodeInvalidJQQuery    = "INVALID_JQ_QUERY"
	CodeBudgetExceeded    = "BUDGET_EXCEEDED"
	CodeSpawnError        = "SPAWN_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeOutputTooLarge    = "OUTPUT_TOO_LARGE"
	CodeStoreWriteFailure = "STORE_WRITE_FAILURE"
	CodeInternalError     = "INTERNAL_ERROR"
)

// WriteJSON writes a success envelope.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	writeResponse(w, status, Response{
		Success: true,
		Data:    data,
		Meta:    &MetaInfo{Timestamp: time.Now()},
	})
}

// WriteJSONWithTotal writes a success envelope whose meta carries a list
// total for pagination.
func WriteJSONWithTotal(w http.ResponseWriter, status int, data any, total int) {
	writeResponse(w, status, Response{
		Success: true,
		Data:    data,
		Meta:    &MetaInfo{Timestamp: time.Now(), Total: &total},
	})
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeResponse(w, status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
		Meta:    &MetaInfo{Timestamp: time.Now()},
	})
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteDomainError maps package sentinel errors onto HTTP status and code.
// notFoundCode distinguishes session vs project lookups.
func WriteDomainError(w http.ResponseWriter, err error, notFoundCode string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, notFoundCode, err.Error())
	case errors.Is(err, store.ErrInvalid):
		WriteError(w, http.StatusBadRequest, CodeValidationError, err.Error())
	case errors.Is(err, store.ErrWrite):
		WriteError(w, http.StatusInternalServerError, CodeStoreWriteFailure, err.Error())
	case errors.Is(err, query.ErrInvalidQuery):
		WriteError(w, http.StatusBadRequest, CodeInvalidJQQuery, err.Error())
	case errors.Is(err, query.ErrBudgetExceeded):
		WriteError(w, http.StatusUnprocessableEntity, CodeBudgetExceeded, err.Error())
	case errors.Is(err, claudecli.ErrSpawn):
		WriteError(w, http.StatusBadGateway, CodeSpawnError, err.Error())
	case errors.Is(err, claudecli.ErrTimeout):
		WriteError(w, http.StatusGatewayTimeout, CodeTimeout, err.Error())
	case errors.Is(err, claudecli.ErrOutputTooLarge):
		WriteError(w, http.StatusBadGateway, CodeOutputTooLarge, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, CodeInternalError, err.Error())
	}
}
