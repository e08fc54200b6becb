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

package task

import (
	"errors"
	"sync"
)

// ErrNotTransferable is returned by Move when given a value that does not
// implement Transferable.
var ErrNotTransferable = errors.New("task: value is not transferable")

// Transferable is implemented by buffer-like values whose backing storage
// can be handed off to a worker instead of copied, modeling the wire
// protocol's transfer list.
type Transferable interface {
	// detach clears the receiver's own view of the buffer and returns the
	// bytes that move to the worker. Idempotent: a second call returns an
	// empty slice.
	detach() []byte
}

// TransferableBuffer is a buffer-backed Transferable. Submitting it in a
// transfer list moves ownership of its bytes to the worker: the
// submitter-side buffer observably empties (len 0) once the move completes.
type TransferableBuffer struct {
	mu   sync.Mutex
	data []byte
}

// NewTransferableBuffer wraps b for transfer. b should not be read or
// written after transfer; use Bytes to check its state.
func NewTransferableBuffer(b []byte) *TransferableBuffer {
	return &TransferableBuffer{data: b}
}

// Bytes returns the buffer's current contents: the full payload before
// transfer, or a zero-length slice after.
func (t *TransferableBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

func (t *TransferableBuffer) detach() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.data
	t.data = []byte{}
	return out
}

// Movable is a tagged wrapper directing the submission surface to place its
// inner Transferable into the transfer list rather than cloning it.
type Movable struct {
	Transferable Transferable
}

// Move wraps v for zero-copy transfer. It fails synchronously (returns an
// error immediately, never a pending result) when v does not implement
// Transferable.
func Move(v any) (Movable, error) {
	t, ok := v.(Transferable)
	if !ok {
		return Movable{}, ErrNotTransferable
	}
	return Movable{Transferable: t}, nil
}
