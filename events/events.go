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

// Package events carries lifecycle notifications out of the scheduling
// engine. Delivery is best-effort and fire-and-forget: the engine publishes
// through an asynchronous dispatcher that never blocks the request path, and
// events are dropped (and counted) if a sink cannot keep up.
package events

import (
	"time"

	"github.com/asynchttp/asynchttp/future"
	"github.com/google/uuid"
)

// Type identifies the kind of lifecycle transition an Event describes.
type Type int

const (
	// ConnectionOpened fires when a transport channel finishes its
	// handshake and becomes usable.
	ConnectionOpened Type = iota
	// ConnectionClosed fires when a connection leaves its pool for any
	// reason: explicit close, protocol-mandated close, or error.
	ConnectionClosed
	// RequestSucceeded fires when a request's future completes with a
	// response.
	RequestSucceeded
	// RequestFailed fires when a request's future fails; the event carries
	// the cause.
	RequestFailed
)

var typeNames = []string{
	"ConnectionOpened",
	"ConnectionClosed",
	"RequestSucceeded",
	"RequestFailed",
}

// String returns the name of the event type.
func (t Type) String() string {
	if int(t) < 0 || int(t) >= len(typeNames) {
		return "Unknown"
	}
	return typeNames[t]
}

// Event is a single lifecycle notification.
type Event struct {
	Type Type
	// Host is the "host:port" the event relates to.
	Host string
	// RequestID identifies the request for request-scoped events. It is
	// the zero UUID for connection-scoped events.
	RequestID uuid.UUID
	// Cause is set for RequestFailed events.
	Cause future.Cause
	// Elapsed is the time from submission to completion for
	// request-scoped events.
	Elapsed time.Duration
	Time    time.Time
}

// Sink consumes lifecycle events. Implementations are invoked from the
// dispatcher goroutine, one event at a time.
type Sink interface {
	Event(evt Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(evt Event)

// Event implements Sink.
func (f SinkFunc) Event(evt Event) { f(evt) }

// NopSink discards all events.
type NopSink struct{}

// Event implements Sink.
func (NopSink) Event(Event) {}
