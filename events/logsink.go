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

package events

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger logrus.FieldLogger
}

// NewLogSink returns a sink logging to the given logger.
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{logger: logger}
}

var _ Sink = (*LogSink)(nil)

// Event implements Sink.
func (s *LogSink) Event(evt Event) {
	fields := logrus.Fields{"host": evt.Host}
	if evt.RequestID != uuid.Nil {
		fields["request_id"] = evt.RequestID
		fields["elapsed"] = evt.Elapsed
	}
	entry := s.logger.WithFields(fields)
	switch evt.Type {
	case RequestFailed:
		entry.WithField("cause", evt.Cause.String()).Warn("request failed")
	case RequestSucceeded:
		entry.Debug("request succeeded")
	case ConnectionOpened:
		entry.Debug("connection opened")
	case ConnectionClosed:
		entry.Debug("connection closed")
	}
}
