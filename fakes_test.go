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

package asynchttp_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asynchttp/asynchttp/events"
	"github.com/asynchttp/asynchttp/transport"
)

// fakeTransport simulates connection behavior without any network I/O so
// scheduling can be tested deterministically. Connects with no configured
// delay or error complete synchronously, which means timers are armed by
// the time Execute returns.
type fakeTransport struct {
	mu           sync.Mutex
	connectDelay time.Duration
	connectErr   error
	neverConnect bool
	latency      time.Duration
	response     any
	closeConn    bool
	neverRespond bool
	writeErr     error

	live    int
	maxLive int
	opened  int
	closed  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{response: "ok"}
}

func (t *fakeTransport) Connect(_ context.Context, _ string, _ transport.ConnectOptions, h transport.Handler) {
	if t.neverConnect {
		return
	}
	finish := func() {
		if t.connectErr != nil {
			h.OnConnectError(t.connectErr)
			return
		}
		t.mu.Lock()
		t.live++
		t.opened++
		if t.live > t.maxLive {
			t.maxLive = t.live
		}
		t.mu.Unlock()
		h.OnConnected(&fakeChannel{transport: t, handler: h})
	}
	if t.connectDelay > 0 {
		time.AfterFunc(t.connectDelay, finish)
		return
	}
	finish()
}

func (t *fakeTransport) liveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *fakeTransport) openedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened
}

func (t *fakeTransport) maxLiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxLive
}

type fakeChannel struct {
	transport *fakeTransport
	handler   transport.Handler
	done      atomic.Bool
}

func (c *fakeChannel) Send(_ []byte, _ transport.ResponseProcessor) {
	t := c.transport
	if t.writeErr != nil {
		c.handler.OnWriteError(t.writeErr)
		return
	}
	if t.neverRespond {
		return
	}
	deliver := func() {
		if c.done.Load() {
			return
		}
		c.handler.OnResponse(t.response, t.closeConn)
	}
	if t.latency > 0 {
		time.AfterFunc(t.latency, deliver)
		return
	}
	go deliver()
}

func (c *fakeChannel) Close() {
	if c.done.CompareAndSwap(false, true) {
		t := c.transport
		t.mu.Lock()
		t.live--
		t.closed++
		t.mu.Unlock()
		c.handler.OnClosed()
	}
}

// recordingSink captures every published event for post-hoc assertions.
// Reads are only reliable after Terminate has drained the dispatcher.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Event(evt events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) count(eventType events.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, evt := range s.events {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

// startTestServer runs a minimal HTTP/1.1 server on a loopback listener for
// end-to-end tests through the real transport. It serves every connection
// until the client closes it or the test ends.
func startTestServer(t *testing.T, handler func(req *http.Request) string) (host string, port int) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() {
		_ = listener.Close()
	})
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					req, err := http.ReadRequest(reader)
					if err != nil {
						return
					}
					body := handler(req)
					_, err = fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	addr := listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}
