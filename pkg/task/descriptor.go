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

// Package task defines the submission-facing types: the task descriptor
// (the unit of work that flows through the scheduler), its completion
// future, the worker-side module registry, and the transferable buffer tag.
package task

import (
	"context"
	"sync"
	"time"
)

// Future is the pending result of a submitted task. It resolves exactly
// once, whether the task completed normally, was aborted, or its worker
// was torn down.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the task completes or ctx is done, whichever comes
// first.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed once the task completes, for callers that
// want to select on it alongside other events.
func (f *Future) Done() <-chan struct{} { return f.done }

// complete resolves the future exactly once; subsequent calls are no-ops.
func (f *Future) complete(result any, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Descriptor is a single submission's record as it flows from queueing
// through dispatch to completion. The completion callback (delivered via
// the returned Future) fires exactly once per descriptor: on success,
// remote error, thread termination, or abort.
type Descriptor struct {
	ID         uint64
	Payload    any
	Transfer   []*TransferableBuffer
	ModuleName string

	// Abort is an optional single-shot cancellation signal. A non-nil
	// channel makes this descriptor "abortable": §4.3 step 5 requires it to
	// occupy a worker exclusively.
	Abort <-chan struct{}

	CreatedAt time.Time
	StartedAt time.Time

	// OwningWorkerID is a weak back-reference: the id of the worker handle
	// that owns this descriptor's task_map entry, or "" before dispatch.
	// It is a plain string rather than a pointer to the worker handle to
	// keep task decoupled from worker and avoid a co-owning cycle; the
	// worker handle is the sole owning reference (via its task_map).
	OwningWorkerID string

	future *Future
}

// NewDescriptor creates a Descriptor ready for admission. id must be
// unique and monotonically increasing across the pool's lifetime.
func NewDescriptor(id uint64, payload any, moduleName string, transfer []*TransferableBuffer, abort <-chan struct{}) *Descriptor {
	return &Descriptor{
		ID:         id,
		Payload:    payload,
		Transfer:   transfer,
		ModuleName: moduleName,
		Abort:      abort,
		CreatedAt:  time.Now(),
		future:     newFuture(),
	}
}

// Abortable reports whether this descriptor carries a cancellation hook.
func (d *Descriptor) Abortable() bool { return d.Abort != nil }

// Future returns the descriptor's completion future.
func (d *Descriptor) Future() *Future { return d.future }

// MarkDispatched stamps StartedAt and records the owning worker, per the
// "dispatched" lifecycle transition in the data model.
func (d *Descriptor) MarkDispatched(workerID string) {
	d.StartedAt = time.Now()
	d.OwningWorkerID = workerID
}

// Complete resolves the descriptor's future exactly once. Safe to call
// multiple times; only the first call has effect.
func (d *Descriptor) Complete(result any, err error) {
	d.future.complete(result, err)
}
