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
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/asynchttp/asynchttp/future"
	"github.com/asynchttp/asynchttp/transport"
	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"
)

// Request describes a single HTTP exchange. A Request is owned by the
// caller until it is passed to [Client.Execute]; the client does not retain
// it afterwards, so a Request value may be reused for later submissions.
type Request struct {
	// Method is the HTTP method. Defaults to GET.
	Method string
	// Path is the request target, optionally including a query string.
	// Defaults to "/".
	Path string
	// Header holds additional request headers. Header names and values are
	// validated at submission; a request carrying an invalid header fails
	// with [future.CauseWriteFailed].
	Header http.Header
	// Body is the request body, if any.
	Body []byte
	// Timeout overrides the client's default inactivity timeout for this
	// request. Zero means use the default.
	Timeout time.Duration
	// Processor overrides the response codec for this request. If nil, the
	// client's HTTP/1.1 codec is used.
	Processor transport.ResponseProcessor
}

// encode renders the request into its HTTP/1.1 wire form. When acceptGzip
// is set and the request does not already negotiate an encoding, an
// "Accept-Encoding: gzip" header is attached.
func (r *Request) encode(hostPort string, acceptGzip bool) ([]byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	path := r.Path
	if path == "" {
		path = "/"
	}
	target, err := url.ParseRequestURI(path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}

	header := make(http.Header, len(r.Header)+1)
	for name, values := range r.Header {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("invalid header name %q", name)
		}
		for _, value := range values {
			if !httpguts.ValidHeaderFieldValue(value) {
				return nil, fmt.Errorf("invalid value for header %q", name)
			}
		}
		header[name] = append([]string(nil), values...)
	}
	if acceptGzip && header.Get("Accept-Encoding") == "" {
		header.Set("Accept-Encoding", "gzip")
	}

	wireReq := &http.Request{
		Method:        method,
		URL:           target,
		Host:          hostPort,
		Header:        header,
		ContentLength: int64(len(r.Body)),
	}
	if len(r.Body) > 0 {
		wireReq.Body = io.NopCloser(bytes.NewReader(r.Body))
	}
	var buf bytes.Buffer
	if err := wireReq.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pendingRequest is a submitted request in flight through the scheduling
// pipeline: the encoded payload, its result future, and the effective
// timeout. It lives in a host pool's queue or in a connection's slot, never
// both.
type pendingRequest struct {
	id        uuid.UUID
	payload   []byte
	proc      transport.ResponseProcessor
	timeout   time.Duration
	fut       *future.Future
	submitted time.Time
}
