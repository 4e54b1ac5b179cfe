// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package claudecli supervises one claude CLI subprocess per chat turn:
// spawn, prompt delivery, NDJSON output streaming, and guaranteed
// termination and reaping on every exit path.
package claudecli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Sentinel errors surfaced to the gateway.
var (
	ErrSpawn          = errors.New("spawn failed")
	ErrTimeout        = errors.New("turn timed out")
	ErrOutputTooLarge = errors.New("output too large")
	ErrCancelled      = errors.New("turn cancelled")
)

const (
	defaultTimeout     = 5 * time.Minute
	defaultMaxOutput   = 10 * 1024 * 1024
	defaultGracePeriod = 5 * time.Second
)

// Config holds runner-wide settings from the chat config section.
type Config struct {
	Binary         string        // claude executable (default "claude")
	ExtraArgs      []string      // appended to every invocation
	SystemPrompt   string        // appended to the CLI's system prompt
	Timeout        time.Duration // wall clock per turn
	MaxOutputBytes int64         // output ceiling per turn
	GracePeriod    time.Duration // SIGTERM to SIGKILL escalation delay
	UsePTY         bool          // run under a pseudo-terminal
}

// StartOptions parameterizes one turn.
type StartOptions struct {
	WorkDir         string
	Prompt          string
	ResumeSessionID string // CLI conversation id for --resume
	Model           string
}

// Runner spawns claude subprocesses. One subprocess serves exactly one
// turn; resuming a conversation re-supplies context to a fresh process
// via --resume.
type Runner struct {
	cfg Config
}

// NewRunner creates a runner, applying defaults for zero config fields.
func NewRunner(cfg Config) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutput
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	return &Runner{cfg: cfg}
}

// Handle owns one running subprocess. It is a scoped resource: Close (or
// Cancel+Wait) guarantees the process is terminated and reaped no matter
// how the turn ended.
type Handle struct {
	cmd       *exec.Cmd
	pgid      int
	grace     time.Duration
	maxOutput int64
	events    chan Event

	stopCh chan struct{} // closed on Cancel; unblocks a stalled event send
	done   chan struct{} // closed after the process is reaped

	killOnce sync.Once

	mu  sync.Mutex
	err error // terminal error, set before done closes
}

// Start spawns the subprocess and begins streaming its output. The prompt
// is written to stdin and stdin is closed; -p mode produces one turn and
// exits on its own.
func (r *Runner) Start(ctx context.Context, opts StartOptions) (*Handle, error) {
	bin, err := exec.LookPath(r.cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if r.cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", r.cfg.SystemPrompt)
	}
	args = append(args, r.cfg.ExtraArgs...)

	cmd := exec.Command(bin, args...)
	cmd.Dir = opts.WorkDir

	h := &Handle{
		cmd:       cmd,
		grace:     r.cfg.GracePeriod,
		maxOutput: r.cfg.MaxOutputBytes,
		events:    make(chan Event),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	if r.cfg.UsePTY {
		// Some CLI builds refuse to run without a terminal.
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		h.pgid = cmd.Process.Pid
		go func() {
			io.WriteString(ptmx, opts.Prompt+"\n\x04")
		}()
		go h.readLoop(ptmx, func() { ptmx.Close() })
	} else {
		// New process group so Cancel reaps any children too.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		h.pgid = cmd.Process.Pid

		go func() {
			io.WriteString(stdin, opts.Prompt)
			stdin.Close()
		}()
		go h.readLoop(stdout, nil)
	}

	// Wall-clock guard for the whole turn.
	go func() {
		timer := time.NewTimer(r.cfg.Timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			h.fail(ErrTimeout)
			h.kill()
		case <-ctx.Done():
			h.Cancel()
		case <-h.done:
		}
	}()

	return h, nil
}

// Events returns the stream of parsed output events. The channel is closed
// once the subprocess has exited and been reaped.
func (h *Handle) Events() <-chan Event { return h.events }

// fail records the terminal error if none is set yet.
func (h *Handle) fail(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
}

// Cancel requests termination: SIGTERM to the process group, SIGKILL after
// the grace period. Idempotent.
func (h *Handle) Cancel() {
	h.fail(ErrCancelled)
	h.kill()
}

// kill signals the process group once and escalates if it lingers.
func (h *Handle) kill() {
	h.killOnce.Do(func() {
		close(h.stopCh)
		if h.pgid > 0 {
			syscall.Kill(-h.pgid, syscall.SIGTERM)
		}
		go func() {
			select {
			case <-h.done:
			case <-time.After(h.grace):
				if h.pgid > 0 {
					syscall.Kill(-h.pgid, syscall.SIGKILL)
				}
			}
		}()
	})
}

// Wait blocks until the subprocess is reaped and returns the terminal
// error: nil on clean completion, or ErrTimeout / ErrOutputTooLarge /
// ErrCancelled / the exit error.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Close cancels (if still running) and waits for the reap. Safe to call
// repeatedly and from defer on every exit path.
func (h *Handle) Close() error {
	select {
	case <-h.done:
	default:
		h.Cancel()
	}
	return h.Wait()
}

// readLoop parses NDJSON lines from the subprocess until EOF or a limit
// trips, then reaps the process exactly once and closes the event channel.
func (h *Handle) readLoop(r io.Reader, cleanup func()) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var read int64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		read += int64(len(line)) + 1
		if read > h.maxOutput {
			h.fail(ErrOutputTooLarge)
			h.kill()
			break
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			// PTY mode can interleave terminal noise with the stream; skip
			// unparsable lines.
			continue
		}

		// Blocking send is the backpressure path: the next chunk is read
		// only after the consumer accepted this one.
		select {
		case h.events <- event:
		case <-h.stopCh:
			h.reap(cleanup)
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("claudecli: output read error: %v", err)
	}
	h.reap(cleanup)
}

// reap waits for the process and closes the event channel. Called exactly
// once, from the read loop.
func (h *Handle) reap(cleanup func()) {
	if cleanup != nil {
		cleanup()
	}
	if err := h.cmd.Wait(); err != nil {
		h.mu.Lock()
		if h.err == nil {
			h.err = fmt.Errorf("claude exited: %w", err)
		}
		h.mu.Unlock()
	}
	close(h.events)
	close(h.done)
}
