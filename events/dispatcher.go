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
	"sync"
	"sync/atomic"
)

const defaultDispatcherBuffer = 256

// Dispatcher decouples event production from sink consumption. Publish is
// non-blocking: if the buffer is full the event is dropped and counted. A
// single goroutine delivers events to the wrapped sink in publish order.
type Dispatcher struct {
	sink    Sink
	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Uint64

	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher delivering to sink. A buffer of zero
// means the default of 256 events.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultDispatcherBuffer
	}
	d := &Dispatcher{
		sink:   sink,
		events: make(chan Event, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues the event for delivery. It never blocks; the event is
// dropped when the buffer is full or the dispatcher is closed.
func (d *Dispatcher) Publish(evt Event) {
	select {
	case <-d.stop:
		d.dropped.Add(1)
		return
	default:
	}
	select {
	case d.events <- evt:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer was
// full or the dispatcher was closed.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops the dispatcher after draining events already buffered. It
// blocks until delivery has finished.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.stop)
	})
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case evt := <-d.events:
			d.sink.Event(evt)
		case <-d.stop:
			for {
				select {
				case evt := <-d.events:
					d.sink.Event(evt)
				default:
					return
				}
			}
		}
	}
}
