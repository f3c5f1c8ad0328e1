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
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/asynchttp/asynchttp/events"
	"github.com/asynchttp/asynchttp/future"
	"github.com/asynchttp/asynchttp/internal"
	"github.com/asynchttp/asynchttp/transport"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxConnsPerHost   = 8
	defaultMaxQueuedRequests = 64
	defaultConnectTimeout    = 10 * time.Second
	defaultRequestTimeout    = 30 * time.Second
)

// ClientOption is an option used to customize the behavior of a Client.
type ClientOption interface {
	apply(*clientOptions)
}

// WithRootContext configures the root context used for any background
// goroutines and connection attempts the client makes. If not specified,
// [context.Background] is used. Cancelling the context terminates the
// client as if Terminate had been called.
func WithRootContext(ctx context.Context) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.rootCtx = ctx
	})
}

// WithMaxConnectionsPerHost bounds how many connections may exist to a
// single (host, port) destination at any moment. Values below 1 are
// treated as 1. The default is 8.
func WithMaxConnectionsPerHost(n int) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		if n < 1 {
			n = 1
		}
		opts.maxConnsPerHost = n
	})
}

// WithMaxQueuedRequests bounds how many requests may wait for a connection
// per destination. Once the queue is full, further submissions fail
// immediately with [future.CauseExecutionRejected]. Zero disables queueing
// entirely. The default is 64.
func WithMaxQueuedRequests(n int) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		if n < 0 {
			n = 0
		}
		opts.maxQueuedRequests = n
	})
}

// WithConnectTimeout bounds the transport handshake. Connection attempts
// that take longer fail the assigned request (and drain the destination's
// queue) with [future.CauseCannotConnect]. The default is 10 seconds.
func WithConnectTimeout(d time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.connectTimeout = d
	})
}

// WithRequestTimeout sets the default inactivity timeout: the maximum time
// a connection may take to complete an assigned request. A request's own
// Timeout field overrides it. The default is 30 seconds.
func WithRequestTimeout(d time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.requestTimeout = d
	})
}

// WithSSL enables TLS for all connections, using a default configuration.
func WithSSL() ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.useSSL = true
	})
}

// WithTLSConfig enables TLS for all connections using the given
// configuration.
func WithTLSConfig(config *tls.Config) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.useSSL = true
		opts.tlsConfig = config
	})
}

// WithTransportMode passes the given I/O mode hint to the transport.
func WithTransportMode(mode transport.Mode) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.transportMode = mode
	})
}

// WithAutoDecompress makes the client negotiate gzip encoding on requests
// that do not already send Accept-Encoding, and configures the default
// response codec to decode gzip bodies transparently.
func WithAutoDecompress() ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.autoDecompress = true
	})
}

// WithTransport substitutes the transport used to establish and drive
// connections. The default is a [transport.Net]. Substituting an
// instrumented transport is the intended way to test scheduling behavior.
func WithTransport(t transport.Transport) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.transport = t
	})
}

// WithEventSink delivers lifecycle events to the given sink. Delivery is
// asynchronous and best-effort; a slow sink causes events to be dropped,
// never a stalled request.
func WithEventSink(sink events.Sink) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.eventSink = sink
	})
}

// WithLogger directs the client's structured logs to the given logger. By
// default the client is silent.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.logger = logger
	})
}

// WithIdlePoolTimeout closes and forgets a destination's pool after it has
// seen no traffic for the given duration. Zero (the default) keeps pools
// alive for the client's lifetime.
func WithIdlePoolTimeout(d time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.idlePoolTimeout = d
	})
}

type clientOptionFunc func(*clientOptions)

func (f clientOptionFunc) apply(opts *clientOptions) {
	f(opts)
}

type clientOptions struct {
	rootCtx           context.Context //nolint:containedctx
	maxConnsPerHost   int
	maxQueuedRequests int
	connectTimeout    time.Duration
	requestTimeout    time.Duration
	useSSL            bool
	tlsConfig         *tls.Config
	transportMode     transport.Mode
	autoDecompress    bool
	transport         transport.Transport
	eventSink         events.Sink
	logger            logrus.FieldLogger
	idlePoolTimeout   time.Duration
	clock             internal.Clock
}

func (opts *clientOptions) applyDefaults() {
	if opts.rootCtx == nil {
		opts.rootCtx = context.Background()
	}
	if opts.maxConnsPerHost == 0 {
		opts.maxConnsPerHost = defaultMaxConnsPerHost
	}
	if opts.maxQueuedRequests < 0 {
		opts.maxQueuedRequests = defaultMaxQueuedRequests
	}
	if opts.connectTimeout == 0 {
		opts.connectTimeout = defaultConnectTimeout
	}
	if opts.requestTimeout == 0 {
		opts.requestTimeout = defaultRequestTimeout
	}
	if opts.transport == nil {
		opts.transport = &transport.Net{}
	}
	if opts.eventSink == nil {
		opts.eventSink = events.NopSink{}
	}
	if opts.logger == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		opts.logger = silent
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
}

// hostKey identifies the destination a pool serves.
type hostKey struct {
	host string
	port int
}

func (k hostKey) addr() string {
	return net.JoinHostPort(k.host, strconv.Itoa(k.port))
}

type poolEntry struct {
	pool     *hostPool
	activity chan<- struct{}
}

// Client is the scheduling entry point. It owns one hostPool per
// destination, created lazily on first use, and hands every submitted
// request a [future.Future] that resolves to exactly one outcome within a
// bounded time.
type Client struct {
	opts      clientOptions
	clock     internal.Clock
	transport transport.Transport
	logger    logrus.FieldLogger
	events    *events.Dispatcher
	codec     *transport.HTTPCodec
	rootCtx   context.Context //nolint:containedctx
	cancel    context.CancelFunc

	mu     sync.RWMutex
	pools  map[hostKey]poolEntry
	closed bool

	closeOnce     sync.Once
	closeComplete chan struct{}
}

// NewClient returns a client configured with the given options. The caller
// should call Terminate when the client is no longer needed.
func NewClient(options ...ClientOption) *Client {
	opts := clientOptions{maxQueuedRequests: -1}
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(opts.rootCtx)
	client := &Client{
		opts:          opts,
		clock:         opts.clock,
		transport:     opts.transport,
		logger:        opts.logger,
		events:        events.NewDispatcher(opts.eventSink, 0),
		codec:         &transport.HTTPCodec{Decompress: opts.autoDecompress},
		rootCtx:       ctx,
		cancel:        cancel,
		pools:         map[hostKey]poolEntry{},
		closeComplete: make(chan struct{}),
	}
	go func() {
		// Terminate as soon as the root context is cancelled.
		<-client.rootCtx.Done()
		client.Terminate()
	}()
	return client
}

// Execute submits a request to host:port and returns its future
// immediately; completion is observed asynchronously. The effective
// inactivity timeout is req.Timeout if set, else the client default. The
// returned future resolves to a [*transport.HTTPResponse] (or the output
// of req.Processor) on success, and to exactly one [future.Cause] on
// failure. Execute never blocks on network activity.
func (c *Client) Execute(host string, port int, req *Request) *future.Future {
	fut := future.New()
	pr := &pendingRequest{
		id:        uuid.New(),
		fut:       fut,
		submitted: c.clock.Now(),
	}
	key := hostKey{host: host, port: port}

	payload, err := req.encode(key.addr(), c.opts.autoDecompress)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"host": key.addr()}).WithError(err).Debug("request rejected at encoding")
		c.failPending(key.addr(), pr, future.CauseWriteFailed)
		return fut
	}
	pr.payload = payload
	pr.proc = req.Processor
	if pr.proc == nil {
		pr.proc = c.codec
	}
	pr.timeout = req.Timeout
	if pr.timeout <= 0 {
		pr.timeout = c.opts.requestTimeout
	}

	for {
		pool, ok := c.getOrCreatePool(key)
		if !ok {
			c.failPending(key.addr(), pr, future.CauseShuttingDown)
			return fut
		}
		if pool.submit(pr) {
			return fut
		}
		// The pool closed out from under us (idle eviction); retry with a
		// fresh one.
	}
}

// getOrCreatePool returns the pool for the given destination, creating it
// if needed. It reports false if the client is terminated.
func (c *Client) getOrCreatePool(key hostKey) (*hostPool, bool) {
	c.mu.RLock()
	closed := c.closed
	pool := c.getPoolLocked(key)
	c.mu.RUnlock()

	if closed {
		return nil, false
	}
	if pool != nil {
		return pool, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// double-check in case things changed while upgrading lock
	if c.closed {
		return nil, false
	}
	pool = c.getPoolLocked(key)
	if pool != nil {
		return pool, true
	}

	pool = newHostPool(c, key)
	var activity chan struct{}
	if c.opts.idlePoolTimeout > 0 {
		activity = make(chan struct{}, 1)
		go c.closeWhenIdle(c.rootCtx, key, pool, activity)
	}
	c.pools[key] = poolEntry{pool: pool, activity: activity}
	return pool, true
}

func (c *Client) getPoolLocked(key hostKey) *hostPool {
	entry := c.pools[key]
	if entry.activity != nil {
		// Update activity while the lock is held. This is a non-blocking
		// write, so doing it under a read lock is fine, and it avoids a
		// race with the idle timer concurrently trying to close this pool.
		select {
		case entry.activity <- struct{}{}:
		default:
		}
	}
	return entry.pool
}

// closeWhenIdle retires a pool after idlePoolTimeout without traffic.
func (c *Client) closeWhenIdle(ctx context.Context, key hostKey, pool *hostPool, activity <-chan struct{}) {
	timer := c.clock.NewTimer(c.opts.idlePoolTimeout)
	defer timer.Stop()
	for {
		select {
		case <-timer.Chan():
			if c.tryRemovePool(key, activity) {
				pool.shutdown()
				return
			}
			// Lost to concurrent activity; wait out another idle period.
			timer.Reset(c.opts.idlePoolTimeout)
		case <-ctx.Done():
			// Terminate owns pool shutdown from here.
			return
		case <-activity:
			timer.Reset(c.opts.idlePoolTimeout)
		}
	}
}

func (c *Client) tryRemovePool(key hostKey, activity <-chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	// need to check activity after lock acquired to make
	// sure we aren't racing with use of this pool
	select {
	case <-activity:
		return false
	default:
	}
	delete(c.pools, key)
	return true
}

// Terminate shuts the client down. New submissions fail with ShuttingDown,
// queued-but-unassigned requests fail with ShuttingDown immediately, and
// requests already assigned to a connection run to their own completion or
// timeout. Terminate blocks until every connection has closed and all
// buffered events have been delivered. It is safe to call more than once.
func (c *Client) Terminate() {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	pools := make([]*hostPool, 0, len(c.pools))
	for key, entry := range c.pools {
		pools = append(pools, entry.pool)
		delete(c.pools, key)
	}
	c.mu.Unlock()

	if alreadyClosed {
		<-c.closeComplete
		return
	}

	grp, _ := errgroup.WithContext(context.Background())
	for _, pool := range pools {
		pool := pool
		grp.Go(func() error {
			pool.shutdown()
			return nil
		})
	}
	_ = grp.Wait()
	c.cancel()
	c.events.Close()
	c.closeOnce.Do(func() {
		close(c.closeComplete)
	})
}

// EventsDropped reports how many lifecycle events were discarded because
// the sink could not keep up.
func (c *Client) EventsDropped() uint64 {
	return c.events.Dropped()
}

func (c *Client) publishConn(eventType events.Type, addr string) {
	c.events.Publish(events.Event{
		Type: eventType,
		Host: addr,
		Time: c.clock.Now(),
	})
}

func (c *Client) completePending(addr string, pr *pendingRequest, value any) {
	if !pr.fut.Complete(value) {
		return
	}
	c.events.Publish(events.Event{
		Type:      events.RequestSucceeded,
		Host:      addr,
		RequestID: pr.id,
		Elapsed:   c.clock.Since(pr.submitted),
		Time:      c.clock.Now(),
	})
}

func (c *Client) failPending(addr string, pr *pendingRequest, cause future.Cause) {
	if !pr.fut.Fail(cause) {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"host":       addr,
		"request_id": pr.id,
		"cause":      cause.String(),
	}).Debug("request failed")
	c.events.Publish(events.Event{
		Type:      events.RequestFailed,
		Host:      addr,
		RequestID: pr.id,
		Cause:     cause,
		Elapsed:   c.clock.Since(pr.submitted),
		Time:      c.clock.Now(),
	})
}
