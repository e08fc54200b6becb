// Licensed to LinDB under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. LinDB licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package worker implements the wake channel and worker handle: the
// controller-side record of one live worker goroutine, and the shared
// counter pair plus channel pair ("message port") that connects it to the
// controller.
package worker

import (
	"errors"

	"go.uber.org/atomic"

	"github.com/lindb/taskpool/pkg/task"
)

// ErrChannelFull is returned by post when the wake channel's buffer is
// saturated, the Go analogue of the source's "send failure" on the
// underlying message port.
var ErrChannelFull = errors.New("worker: wake channel send buffer is full")

// taskEnvelope is the controller→worker request shape.
type taskEnvelope struct {
	taskID     uint64
	payload    any
	moduleName string
	transfer   []*task.TransferableBuffer
	abort      <-chan struct{}
}

// taskResponse is the worker→controller response shape.
type taskResponse struct {
	taskID uint64
	result any
	err    error
}

// wakeChannel is the shared two-counter region plus the bidirectional
// "message port" pair. request_count/response_count are the two 32-bit
// atomic lanes described by the wire protocol; the buffered Go channels
// are this implementation's message port, with a channel send standing in
// for the port send + Atomics.notify wake.
type wakeChannel struct {
	requestCount  atomic.Uint32
	responseCount atomic.Uint32

	// lastSeenResponseCount is touched only by the controller goroutine; it
	// is never written by the worker side.
	lastSeenResponseCount uint32

	toWorker   chan taskEnvelope
	fromWorker chan taskResponse
}

func newWakeChannel(capacity int) *wakeChannel {
	if capacity < 1 {
		capacity = 1
	}
	return &wakeChannel{
		toWorker:   make(chan taskEnvelope, capacity),
		fromWorker: make(chan taskResponse, capacity),
	}
}

// post sends env to the worker and bumps request_count. The channel send
// itself is the wake notification: a worker goroutine blocked on receive
// wakes as soon as the value is enqueued.
func (w *wakeChannel) post(env taskEnvelope) error {
	select {
	case w.toWorker <- env:
		w.requestCount.Inc()
		return nil
	default:
		return ErrChannelFull
	}
}

// respond is called from the worker goroutine: it bumps response_count
// before enqueuing so the counter is visible no later than the port
// message, matching the ordering guarantee in the concurrency model.
func (w *wakeChannel) respond(resp taskResponse) {
	w.responseCount.Inc()
	w.fromWorker <- resp
}

// hasPendingResponses reports whether response_count has advanced since
// the controller last observed it — the fast-path trigger condition.
func (w *wakeChannel) hasPendingResponses() bool {
	return w.responseCount.Load() != w.lastSeenResponseCount
}

// drainNonBlocking performs a non-blocking receive loop over fromWorker,
// the Go analogue of a non-blocking port receive, and returns everything
// currently buffered. lastSeenResponseCount advances only by the number of
// responses actually received, so a response whose counter bump is already
// visible but whose enqueue is still in progress is picked up by a later
// poll.
func (w *wakeChannel) drainNonBlocking() []taskResponse {
	var out []taskResponse
	for {
		select {
		case resp := <-w.fromWorker:
			out = append(out, resp)
		default:
			w.lastSeenResponseCount += uint32(len(out))
			return out
		}
	}
}

// inFlight returns request_count - response_count, the live in-flight
// count at any quiescent point.
func (w *wakeChannel) inFlight() uint32 {
	return w.requestCount.Load() - w.responseCount.Load()
}
