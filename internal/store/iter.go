// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// MessageIter streams a session's message log without materializing it.
// Usage:
//
//	it, _ := store.Messages(project, id)
//	defer it.Close()
//	for msg, ok := it.Next(); ok; msg, ok = it.Next() { ... }
//	if err := it.Err(); err != nil { ... }
type MessageIter struct {
	path    string
	f       *os.File
	scanner *bufio.Scanner
	err     error
	done    bool
}

func newMessageIter(path string) *MessageIter {
	return &MessageIter{path: path}
}

// Next returns the next message. It returns false at the end of the log or
// on error; check Err afterwards.
func (it *MessageIter) Next() (Message, bool) {
	if it.done || it.err != nil {
		return Message{}, false
	}
	if it.f == nil {
		f, err := os.Open(it.path)
		if err != nil {
			// A session with no messages yet has no log file.
			if os.IsNotExist(err) {
				it.done = true
				return Message{}, false
			}
			it.err = fmt.Errorf("open messages file: %w", err)
			return Message{}, false
		}
		it.f = f
		it.scanner = bufio.NewScanner(f)
		it.scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024) // up to 10MB per line
	}

	for it.scanner.Scan() {
		line := it.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			// Tolerate a partial last line left by a crash mid-append.
			it.done = true
			return Message{}, false
		}
		return msg, true
	}

	if err := it.scanner.Err(); err != nil {
		it.err = fmt.Errorf("scan messages file: %w", err)
	}
	it.done = true
	return Message{}, false
}

// Err reports any error encountered while iterating.
func (it *MessageIter) Err() error { return it.err }

// Close releases the underlying file. Safe to call multiple times.
func (it *MessageIter) Close() error {
	if it.f == nil {
		return nil
	}
	f := it.f
	it.f = nil
	it.done = true
	return f.Close()
}
