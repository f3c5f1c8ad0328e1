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

	"github.com/asynchttp/asynchttp/future"
)

// hostPool is the per-(host,port) bookkeeping: the set of live connections,
// bounded by maxConnectionsPerHost, and the FIFO queue of requests waiting
// for one, bounded by maxQueuedRequests. All admission and scheduling
// decisions for one destination are serialized under mu; pools for
// different destinations are fully independent.
//
// Invariant: a pending request is either in queue or held by exactly one
// connection, never both. Connections appear in idle only while they are
// also in conns.
type hostPool struct {
	client *Client
	key    hostKey
	addr   string

	mu     sync.Mutex
	conns  map[*connection]struct{}
	idle   []*connection
	queue  []*pendingRequest
	closed bool

	closeOnce     sync.Once
	closeComplete chan struct{}
}

func newHostPool(client *Client, key hostKey) *hostPool {
	return &hostPool{
		client:        client,
		key:           key,
		addr:          key.addr(),
		conns:         map[*connection]struct{}{},
		closeComplete: make(chan struct{}),
	}
}

// submit admits, queues, or rejects the request. It always resolves the
// request's fate synchronously (assigned, queued, or failed) and never
// blocks on network activity. It reports false only if the pool is closed,
// in which case the caller must retry against a fresh pool.
func (p *hostPool) submit(pr *pendingRequest) bool {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return false
		}

		// Prefer an idle connection.
		if n := len(p.idle); n > 0 {
			conn := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			if conn.assign(pr) {
				return true
			}
			// The connection closed while being picked; take a fresh
			// decision.
			continue
		}

		// Room for another connection: open one carrying the request as
		// its pending assignment.
		if len(p.conns) < p.client.opts.maxConnsPerHost {
			conn := newConnection(p, pr)
			p.conns[conn] = struct{}{}
			p.mu.Unlock()
			// Outside the lock: the transport may call back synchronously.
			conn.start()
			return true
		}

		// Full up: queue FIFO, or reject.
		if len(p.queue) < p.client.opts.maxQueuedRequests {
			p.queue = append(p.queue, pr)
			p.mu.Unlock()
			return true
		}
		p.mu.Unlock()
		p.client.failPending(p.addr, pr, future.CauseExecutionRejected)
		return true
	}
}

// connReady is called by a connection that finished its request (or came up
// with nothing assigned). The connection is handed the oldest queued
// request, parked as idle, or closed if the pool is shutting down.
func (p *hostPool) connReady(conn *connection) {
	p.mu.Lock()
	if _, ok := p.conns[conn]; !ok {
		p.mu.Unlock()
		return
	}
	if p.closed {
		p.mu.Unlock()
		conn.shutdown()
		return
	}
	if len(p.queue) > 0 {
		pr := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		if !conn.assign(pr) {
			// Lost the connection in the meantime; put the request back
			// through admission.
			if !p.submit(pr) {
				p.client.failPending(p.addr, pr, future.CauseShuttingDown)
			}
		}
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// connClosed removes a closed connection from the pool. The connection has
// already failed whatever request it held. A connect-phase failure
// additionally drains the whole queue with CannotConnect: once the host is
// known unreachable, queued callers must not wait out their own timers.
// Otherwise, if work is still queued, a replacement connection is opened
// for the head of the queue.
func (p *hostPool) connClosed(conn *connection, connectPhase bool) {
	p.mu.Lock()
	if _, ok := p.conns[conn]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.conns, conn)
	for i, idle := range p.idle {
		if idle == conn {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}

	var drained []*pendingRequest
	var replacement *connection
	if connectPhase {
		drained = p.queue
		p.queue = nil
	} else if !p.closed && len(p.queue) > 0 && len(p.conns) < p.client.opts.maxConnsPerHost {
		pr := p.queue[0]
		p.queue = p.queue[1:]
		replacement = newConnection(p, pr)
		p.conns[replacement] = struct{}{}
	}
	drainedPool := p.closed && len(p.conns) == 0
	p.mu.Unlock()

	for _, pr := range drained {
		p.client.failPending(p.addr, pr, future.CauseCannotConnect)
	}
	if replacement != nil {
		replacement.start()
	}
	if drainedPool {
		p.finishClose()
	}
}

// shutdown closes the pool: queued-but-unassigned requests fail with
// ShuttingDown immediately, idle connections are closed, and connections
// that are busy (or still connecting with an assignment) are left to run to
// their own completion or timeout. shutdown blocks until every connection
// has closed. It is safe to call more than once.
func (p *hostPool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.closeComplete
		return
	}
	p.closed = true
	queued := p.queue
	p.queue = nil
	idle := p.idle
	p.idle = nil
	empty := len(p.conns) == 0
	p.mu.Unlock()

	for _, pr := range queued {
		p.client.failPending(p.addr, pr, future.CauseShuttingDown)
	}
	for _, conn := range idle {
		conn.shutdown()
	}
	if empty {
		p.finishClose()
	}
	<-p.closeComplete
}

func (p *hostPool) finishClose() {
	p.closeOnce.Do(func() {
		close(p.closeComplete)
	})
}
