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

package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"
)

//nolint:gochecknoglobals
var defaultDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

// Net is a Transport backed by [net.Dialer] connections, with optional TLS.
// Every channel gets a dedicated goroutine that writes the payload and then
// reads one response with the request's processor (ModeDedicated). The
// ModeMultiplexed hint is accepted but currently served the same way.
type Net struct {
	// DialFunc establishes network connections. If nil, a default
	// [net.Dialer] with a 30-second timeout and 30-second keep-alive
	// is used.
	DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)
}

var _ Transport = (*Net)(nil)

// Connect implements Transport.
func (t *Net) Connect(ctx context.Context, addr string, opts ConnectOptions, h Handler) {
	dial := t.DialFunc
	if dial == nil {
		dial = defaultDialer.DialContext
	}
	go func() {
		netConn, err := dial(ctx, "tcp", addr)
		if err != nil {
			h.OnConnectError(err)
			return
		}
		if opts.SSL {
			cfg := opts.TLSConfig
			if cfg == nil {
				cfg = &tls.Config{MinVersion: tls.VersionTLS12}
			}
			if cfg.ServerName == "" {
				cfg = cfg.Clone()
				host, _, splitErr := net.SplitHostPort(addr)
				if splitErr != nil {
					host = addr
				}
				cfg.ServerName = host
			}
			tlsConn := tls.Client(netConn, cfg)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				_ = netConn.Close()
				h.OnConnectError(err)
				return
			}
			netConn = tlsConn
		}
		ch := newNetChannel(netConn, h)
		h.OnConnected(ch)
	}()
}

type exchange struct {
	payload []byte
	proc    ResponseProcessor
}

// netChannel serializes exchanges onto a single net.Conn. The run loop owns
// all reads and writes; Send and Close only signal it.
type netChannel struct {
	conn      net.Conn
	handler   Handler
	exchanges chan exchange
	closing   chan struct{}
	closed    atomic.Bool
}

func newNetChannel(conn net.Conn, h Handler) *netChannel {
	ch := &netChannel{
		conn:    conn,
		handler: h,
		// The engine sends one exchange at a time, so capacity 1 keeps
		// Send non-blocking.
		exchanges: make(chan exchange, 1),
		closing:   make(chan struct{}),
	}
	go ch.run()
	return ch
}

func (c *netChannel) Send(payload []byte, proc ResponseProcessor) {
	select {
	case <-c.closing:
		c.handler.OnWriteError(net.ErrClosed)
		return
	default:
	}
	select {
	case c.exchanges <- exchange{payload: payload, proc: proc}:
	case <-c.closing:
		c.handler.OnWriteError(net.ErrClosed)
	}
}

func (c *netChannel) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.closing)
		// Unblocks any read in progress in the run loop.
		_ = c.conn.Close()
	}
}

func (c *netChannel) run() {
	reader := bufio.NewReader(c.conn)
	defer func() {
		c.Close()
		c.handler.OnClosed()
	}()
	for {
		select {
		case <-c.closing:
			return
		case ex := <-c.exchanges:
			if _, err := c.conn.Write(ex.payload); err != nil {
				c.handler.OnWriteError(err)
				return
			}
			value, closeConn, err := ex.proc.ReadResponse(reader)
			if err != nil {
				// A close racing the read surfaces as a read error on the
				// dead socket; the engine treats both the same way.
				c.handler.OnReadError(err)
				return
			}
			c.handler.OnResponse(value, closeConn)
			if closeConn {
				return
			}
		}
	}
}
