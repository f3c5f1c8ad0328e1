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

package asynchttp

import (
	"sync"
	"time"

	"github.com/asynchttp/asynchttp/events"
	"github.com/asynchttp/asynchttp/future"
	"github.com/asynchttp/asynchttp/internal"
	"github.com/asynchttp/asynchttp/transport"
	"github.com/sirupsen/logrus"
)

type connState int

const (
	stateConnecting connState = iota
	stateIdle
	stateBusy
	stateClosing
	stateClosed
)

// connection owns exactly one transport channel and drives one request at a
// time through send, await-response, and complete/fail. All state
// transitions happen under mu; a response arriving and a timer firing race
// for the same request, and whichever acquires mu first while the state is
// still stateBusy wins. The loser observes the changed state and becomes a
// no-op.
//
// Timers are guarded by a generation counter: every (re)arm and every
// cancellation bumps timerGen, and a firing callback that finds a stale
// generation does nothing. This keeps cancellation race-safe without
// leaning on timer-primitive atomicity.
//
// stateClosed is terminal; a connection is never reused after it.
type connection struct {
	pool   *hostPool
	client *Client
	addr   string

	mu       sync.Mutex
	state    connState
	ch       transport.Channel
	current  *pendingRequest
	timer    internal.Timer
	timerGen uint64
}

var _ transport.Handler = (*connection)(nil)

// newConnection creates a connection in stateConnecting holding pr as its
// pending assignment. The caller registers it with the pool and then calls
// start outside the pool lock.
func newConnection(pool *hostPool, pr *pendingRequest) *connection {
	return &connection{
		pool:    pool,
		client:  pool.client,
		addr:    pool.addr,
		state:   stateConnecting,
		current: pr,
	}
}

// start arms the connect timer and kicks off the transport handshake. The
// transport may deliver callbacks synchronously, so the caller must not
// hold any pool or connection lock.
func (c *connection) start() {
	c.mu.Lock()
	c.armTimerLocked(c.client.opts.connectTimeout, c.onConnectTimeout)
	c.mu.Unlock()
	c.client.transport.Connect(c.client.rootCtx, c.addr, transport.ConnectOptions{
		SSL:       c.client.opts.useSSL,
		TLSConfig: c.client.opts.tlsConfig,
		Mode:      c.client.opts.transportMode,
	}, c)
}

// assign hands an idle connection its next request. It reports false if the
// connection is no longer idle (e.g. it closed while being picked), in
// which case the caller must schedule the request elsewhere.
func (c *connection) assign(pr *pendingRequest) bool {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return false
	}
	c.state = stateBusy
	c.current = pr
	c.armTimerLocked(pr.timeout, c.onInactivityTimeout)
	ch := c.ch
	c.mu.Unlock()
	ch.Send(pr.payload, pr.proc)
	return true
}

// shutdown closes the connection, failing any held request with
// ShuttingDown. It is used for idle connections during client termination
// and pool eviction.
func (c *connection) shutdown() {
	pr, ch, transitioned := c.closeNow()
	if !transitioned {
		return
	}
	if pr != nil {
		c.client.failPending(c.addr, pr, future.CauseShuttingDown)
	}
	if ch != nil {
		ch.Close()
		c.client.publishConn(events.ConnectionClosed, c.addr)
	}
	c.pool.connClosed(c, false)
}

// closeNow performs the terminal transition and returns whatever request
// and channel the connection held. transitioned is false if the connection
// was already closed, in which case the caller must do nothing.
func (c *connection) closeNow() (pr *pendingRequest, ch transport.Channel, transitioned bool) {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil, nil, false
	}
	c.cancelTimerLocked()
	pr = c.current
	c.current = nil
	ch = c.ch
	c.state = stateClosed
	c.mu.Unlock()
	return pr, ch, true
}

// OnConnected implements transport.Handler.
func (c *connection) OnConnected(ch transport.Channel) {
	c.mu.Lock()
	if c.state != stateConnecting {
		// The connect timer or a shutdown won the race; the late channel
		// is not usable.
		c.mu.Unlock()
		ch.Close()
		return
	}
	c.cancelTimerLocked()
	c.ch = ch
	pr := c.current
	if pr != nil {
		c.state = stateBusy
		c.armTimerLocked(pr.timeout, c.onInactivityTimeout)
	} else {
		c.state = stateIdle
	}
	c.mu.Unlock()

	c.client.publishConn(events.ConnectionOpened, c.addr)
	if pr != nil {
		ch.Send(pr.payload, pr.proc)
	} else {
		c.pool.connReady(c)
	}
}

// OnConnectError implements transport.Handler.
func (c *connection) OnConnectError(err error) {
	c.mu.Lock()
	if c.state != stateConnecting {
		c.mu.Unlock()
		return
	}
	c.cancelTimerLocked()
	pr := c.current
	c.current = nil
	c.state = stateClosed
	c.mu.Unlock()

	c.client.logger.WithFields(logrus.Fields{"host": c.addr}).WithError(err).Debug("connect failed")
	if pr != nil {
		c.client.failPending(c.addr, pr, future.CauseCannotConnect)
	}
	c.pool.connClosed(c, true)
}

func (c *connection) onConnectTimeout(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.state != stateConnecting {
		c.mu.Unlock()
		return
	}
	pr := c.current
	c.current = nil
	c.state = stateClosed
	c.mu.Unlock()

	c.client.logger.WithFields(logrus.Fields{"host": c.addr}).Debug("connect timed out")
	if pr != nil {
		c.client.failPending(c.addr, pr, future.CauseCannotConnect)
	}
	c.pool.connClosed(c, true)
}

func (c *connection) onInactivityTimeout(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.state != stateBusy {
		c.mu.Unlock()
		return
	}
	pr := c.current
	c.current = nil
	ch := c.ch
	// The channel is in an indeterminate state mid-exchange, so the
	// connection is discarded rather than returned to the pool.
	c.state = stateClosed
	c.mu.Unlock()

	c.client.failPending(c.addr, pr, future.CauseTimedOut)
	ch.Close()
	c.client.publishConn(events.ConnectionClosed, c.addr)
	c.pool.connClosed(c, false)
}

// OnResponse implements transport.Handler.
func (c *connection) OnResponse(value any, closeConn bool) {
	c.mu.Lock()
	if c.state != stateBusy {
		// The inactivity timer already failed this request; drop the late
		// response.
		c.mu.Unlock()
		c.client.logger.WithFields(logrus.Fields{"host": c.addr}).Warn("discarding response for timed-out request")
		return
	}
	c.cancelTimerLocked()
	pr := c.current
	c.current = nil
	ch := c.ch
	if closeConn {
		c.state = stateClosing
	} else {
		c.state = stateIdle
	}
	c.mu.Unlock()

	c.client.completePending(c.addr, pr, value)
	if closeConn {
		// OnClosed finishes the transition and notifies the pool.
		ch.Close()
	} else {
		c.pool.connReady(c)
	}
}

// OnWriteError implements transport.Handler.
func (c *connection) OnWriteError(err error) {
	pr, ch, transitioned := c.closeNow()
	if !transitioned {
		return
	}
	c.client.logger.WithFields(logrus.Fields{"host": c.addr}).WithError(err).Debug("write failed")
	if pr != nil {
		c.client.failPending(c.addr, pr, future.CauseWriteFailed)
	}
	if ch != nil {
		ch.Close()
		c.client.publishConn(events.ConnectionClosed, c.addr)
	}
	c.pool.connClosed(c, false)
}

// OnReadError implements transport.Handler.
func (c *connection) OnReadError(err error) {
	pr, ch, transitioned := c.closeNow()
	if !transitioned {
		return
	}
	c.client.logger.WithFields(logrus.Fields{"host": c.addr}).WithError(err).Debug("read failed")
	if pr != nil {
		c.client.failPending(c.addr, pr, future.CauseCannotConnect)
	}
	if ch != nil {
		ch.Close()
		c.client.publishConn(events.ConnectionClosed, c.addr)
	}
	c.pool.connClosed(c, false)
}

// OnClosed implements transport.Handler.
func (c *connection) OnClosed() {
	pr, ch, transitioned := c.closeNow()
	if !transitioned {
		return
	}
	if pr != nil {
		// Closed mid-request without a response.
		c.client.failPending(c.addr, pr, future.CauseCannotConnect)
	}
	if ch != nil {
		ch.Close()
		c.client.publishConn(events.ConnectionClosed, c.addr)
	}
	c.pool.connClosed(c, false)
}

// armTimerLocked schedules fire after d, tagged with a fresh generation.
func (c *connection) armTimerLocked(d time.Duration, fire func(gen uint64)) {
	c.timerGen++
	gen := c.timerGen
	c.timer = c.client.clock.AfterFunc(d, func() {
		fire(gen)
	})
}

// cancelTimerLocked invalidates any armed timer. A callback that already
// fired but has not yet run observes the bumped generation and does
// nothing.
func (c *connection) cancelTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
