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

// Package asynchttp provides an asynchronous HTTP client for applications
// that issue many concurrent requests to multiple hosts while bounding
// resource usage. Instead of blocking per call, [Client.Execute] returns a
// [future.Future] immediately; completion, failure cause, and timing are
// observed asynchronously through the future and, optionally, through
// lifecycle events.
//
// To create a client use [NewClient]. Each destination (host, port) gets
// its own pool holding at most WithMaxConnectionsPerHost connections and a
// FIFO queue of at most WithMaxQueuedRequests waiting requests. A
// submitted request is assigned to an idle connection, triggers a new
// connection if there is room, queues if there is queue capacity, and is
// rejected synchronously otherwise. Requests on one destination are served
// strictly in submission order as connections free up; destinations are
// independent of each other.
//
// Failures are never raised as panics or surfaced out-of-band: every
// submitted request resolves to success or to exactly one
// [future.Cause] within a bounded time. Two timers govern that bound: a
// connect timeout for the transport handshake and a per-request inactivity
// timeout while a response is outstanding. A failed handshake fails not
// just the assigned request but every request queued for that host, so
// callers learn about an unreachable destination immediately rather than
// waiting out their own timers.
//
// The client has a notion of termination, via its Terminate method.
// Terminating stops new submissions, fails queued-but-unassigned requests
// with [future.CauseShuttingDown], and lets in-flight requests run to their
// own completion or timeout before releasing transport resources. The
// client cannot be used after it has been terminated.
//
// # Transport Architecture
//
// The byte-level transport is pluggable. The engine talks to it through
// the [transport.Transport] and [transport.Channel] contracts: connects are
// asynchronous, payloads are handed off without blocking, and responses,
// errors, and closure arrive as callbacks on the owning connection. The
// bundled [transport.Net] implementation dials with a net.Dialer (with
// optional TLS) and decodes HTTP/1.1 responses with [transport.HTTPCodec].
// Substituting a transport via [WithTransport] changes none of the
// scheduling behavior, which is also how the scheduling tests instrument
// connection latency and failure.
//
// # Observability
//
// Connection and request lifecycle transitions are published to an
// [events.Sink] configured with [WithEventSink]. Delivery is fire-and-
// forget through a buffered dispatcher: a slow sink drops events rather
// than stalling the request path. The events package bundles a logrus-
// backed sink and a Prometheus-backed sink. Structured logging for the
// client itself is configured with [WithLogger] and is off by default.
package asynchttp
