// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"strings"
)

// Pattern matches event types. Supported forms:
//
//	"session.*"   prefix wildcard
//	"*.failed"    suffix wildcard
//	"*"           everything
//	anything else exact match
type Pattern string

// CompilePattern validates a pattern string.
func CompilePattern(pattern string) (Pattern, error) {
	if pattern == "" {
		return "", errors.New("empty pattern")
	}
	return Pattern(pattern), nil
}

// Match reports whether eventType matches the pattern.
func (p Pattern) Match(eventType string) bool {
	pattern := string(p)
	if pattern == "" || eventType == "" {
		return false
	}
	if pattern == "*" || pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(eventType, "."+suffix)
	}
	return false
}

// matchAny reports whether eventType matches at least one pattern.
func matchAny(eventType string, patterns []string) bool {
	for _, pattern := range patterns {
		if Pattern(pattern).Match(eventType) {
			return true
		}
	}
	return false
}
