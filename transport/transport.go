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

// Package transport defines the contract between the scheduling engine and
// the byte-level channel implementation, along with a bundled
// net.Dialer-based implementation and an HTTP/1.1 response codec.
//
// The engine never blocks on a transport: Connect returns immediately and
// reports the outcome through the Handler, and Send hands the payload off to
// the channel's own goroutine. Substituting a fake Transport is the intended
// way to instrument connection behavior in tests without altering any
// scheduling logic.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
)

// Mode selects how a transport drives I/O for its channels.
type Mode int

const (
	// ModeDedicated gives every channel its own I/O goroutine.
	ModeDedicated Mode = iota
	// ModeMultiplexed lets the transport share I/O machinery across
	// channels. It is a hint; implementations that have no shared poller
	// may serve it identically to ModeDedicated.
	ModeMultiplexed
)

// ConnectOptions carries the per-connection settings a Transport needs to
// establish a channel.
type ConnectOptions struct {
	// SSL enables TLS for the connection.
	SSL bool
	// TLSConfig, if non-nil, provides the TLS configuration used when SSL
	// is enabled.
	TLSConfig *tls.Config
	// Mode is the I/O strategy hint for the transport.
	Mode Mode
}

// Handler receives the asynchronous callbacks for one channel. All methods
// are invoked from transport goroutines; implementations must be safe for
// that and must not block for long.
//
// The callback sequence for a channel is: exactly one of OnConnected or
// OnConnectError; then, per sent payload, one of OnResponse, OnWriteError,
// or OnReadError; and finally at most one OnClosed.
type Handler interface {
	// OnConnected delivers the established channel.
	OnConnected(ch Channel)
	// OnConnectError reports that the channel could not be established.
	// No further callbacks follow.
	OnConnectError(err error)
	// OnResponse delivers a fully received response value. closeConn
	// indicates the response carried a close directive, in which case the
	// channel must not be used for another payload.
	OnResponse(value any, closeConn bool)
	// OnWriteError reports that the outbound payload was rejected.
	// The channel is unusable afterwards.
	OnWriteError(err error)
	// OnReadError reports a failure while awaiting or decoding a response.
	// The channel is unusable afterwards.
	OnReadError(err error)
	// OnClosed reports that the channel is closed, whether by Close, by the
	// peer, or following an error.
	OnClosed()
}

// Channel is an established connection able to carry one request/response
// exchange at a time.
type Channel interface {
	// Send transmits the payload and arranges for one response to be read
	// with the given processor. It never blocks on network I/O; the outcome
	// arrives through the Handler. Send must not be called again until the
	// previous exchange has resolved.
	Send(payload []byte, proc ResponseProcessor)
	// Close tears the channel down. Closing an already-closed channel is a
	// no-op. OnClosed is delivered at most once.
	Close()
}

// Transport establishes channels to remote hosts.
type Transport interface {
	// Connect asynchronously establishes a channel to addr ("host:port")
	// and reports the outcome via h. Cancelling ctx aborts an in-flight
	// connection attempt.
	Connect(ctx context.Context, addr string, opts ConnectOptions, h Handler)
}

// ResponseProcessor decodes one response from the wire.
type ResponseProcessor interface {
	// ReadResponse consumes exactly one response from r. It returns the
	// decoded value and whether the connection must be closed afterwards
	// (e.g. a "Connection: close" directive).
	ReadResponse(r *bufio.Reader) (value any, closeConn bool, err error)
}
