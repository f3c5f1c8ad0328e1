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
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

// HTTPResponse is the decoded form of an HTTP/1.1 response produced by
// HTTPCodec. The body is fully buffered; chunked framing and, when enabled,
// gzip content encoding have already been removed.
type HTTPResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// HTTPCodec is a ResponseProcessor that parses HTTP/1.1 responses using
// [http.ReadResponse] and buffers the whole body before reporting the
// response as complete.
type HTTPCodec struct {
	// Decompress enables transparent decoding of gzip-encoded bodies.
	Decompress bool
	// MaxBodyBytes caps the buffered body size. Zero means the default of
	// 16 MB.
	MaxBodyBytes int64
}

var _ ResponseProcessor = (*HTTPCodec)(nil)

const defaultMaxBodyBytes = 16 << 20

// ReadResponse implements ResponseProcessor.
func (c *HTTPCodec) ReadResponse(r *bufio.Reader) (any, bool, error) {
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	gzipped := c.Decompress && strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip")
	if gzipped {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, false, err
		}
		defer gz.Close()
		body = gz
	}
	limit := c.MaxBodyBytes
	if limit == 0 {
		limit = defaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(body, limit))
	if err != nil {
		return nil, false, err
	}

	decoded := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}
	if gzipped {
		decoded.Header = decoded.Header.Clone()
		decoded.Header.Del("Content-Encoding")
		decoded.Header.Del("Content-Length")
	}
	closeConn := resp.Close || strings.EqualFold(resp.Header.Get("Connection"), "close")
	return decoded, closeConn, nil
}
