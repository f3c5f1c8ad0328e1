// Copyright 2024-2025 The asynchttp Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package future provides the one-shot result cell returned to callers when
// they submit a request. A Future starts out pending and transitions at most
// once to a terminal state: success with a value, or failure with exactly
// one Cause. Completion is first-write-wins; a second completion attempt is
// a safe no-op, which tolerates a response racing a timeout.
package future

import (
	"fmt"
	"sync"
	"time"
)

// Cause identifies why a request failed. Exactly one Cause accompanies
// every failed Future.
type Cause int

const (
	// CauseNone is the zero Cause; it is reported only by futures that are
	// still pending or completed successfully.
	CauseNone Cause = iota
	// CauseTimedOut means the inactivity timer fired before the full
	// response arrived.
	CauseTimedOut
	// CauseCannotConnect means the transport could not establish the
	// connection, or the connection closed before completing the request.
	CauseCannotConnect
	// CauseShuttingDown means the request was still queued when the client
	// was terminated.
	CauseShuttingDown
	// CauseWriteFailed means the transport rejected the outbound payload.
	CauseWriteFailed
	// CauseExecutionRejected means the per-host queue was already at
	// capacity when the request was submitted.
	CauseExecutionRejected
)

var causeNames = []string{
	"none",
	"timed out",
	"cannot connect",
	"shutting down",
	"write failed",
	"execution rejected",
}

// String returns a short human-readable name for the cause.
func (c Cause) String() string {
	if int(c) < 0 || int(c) >= len(causeNames) {
		return fmt.Sprintf("cause(%d)", int(c))
	}
	return causeNames[c]
}

// Listener is a callback registered with AddListener. Listeners run on
// whatever goroutine performs the completion and therefore must not block.
type Listener func(*Future)

// Future is a thread-safe, write-once completion cell.
//
// The zero value is not usable; create instances with New.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	terminal  bool
	value     any
	cause     Cause
	listeners []Listener
}

// New returns a pending Future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Complete transitions the future to success with the given value. It
// reports whether this call performed the transition; if the future was
// already terminal, nothing changes and Complete returns false.
func (f *Future) Complete(value any) bool {
	return f.settle(value, CauseNone)
}

// Fail transitions the future to failure with the given cause. It reports
// whether this call performed the transition; if the future was already
// terminal, nothing changes and Fail returns false.
func (f *Future) Fail(cause Cause) bool {
	return f.settle(nil, cause)
}

func (f *Future) settle(value any, cause Cause) bool {
	f.mu.Lock()
	if f.terminal {
		f.mu.Unlock()
		return false
	}
	f.terminal = true
	f.value = value
	f.cause = cause
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, l := range listeners {
		l(f)
	}
	return true
}

// Await blocks until the future is terminal or the given timeout elapses,
// and reports whether the future is terminal.
func (f *Future) Await(timeout time.Duration) bool {
	select {
	case <-f.done:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel that is closed once the future is terminal.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// AddListener registers a callback to run exactly once when the future
// becomes terminal. If the future is already terminal, the callback runs
// synchronously before AddListener returns. Listeners must not block.
func (f *Future) AddListener(l Listener) {
	f.mu.Lock()
	if !f.terminal {
		f.listeners = append(f.listeners, l)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	l(f)
}

// IsDone reports whether the future has reached a terminal state.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Successful reports whether the future completed successfully. It returns
// false while the future is still pending.
func (f *Future) Successful() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminal && f.cause == CauseNone
}

// Cause returns the failure cause, or CauseNone if the future is pending
// or completed successfully.
func (f *Future) Cause() Cause {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cause
}

// Value returns the success value, or nil if the future is pending or
// failed.
func (f *Future) Value() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Err returns nil if the future is pending or successful, and an error
// wrapping the failure cause otherwise.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.terminal || f.cause == CauseNone {
		return nil
	}
	return &CauseError{Cause: f.cause}
}

// CauseError is the error form of a failure Cause, as returned by
// [Future.Err].
type CauseError struct {
	Cause Cause
}

func (e *CauseError) Error() string {
	return "request failed: " + e.Cause.String()
}
