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

// SubmitConfig collects the per-submission overrides a caller may attach
// to Submit via SubmitOption, mirroring the submission surface's optional
// fields (module name, transfer list, abort signal).
type SubmitConfig struct {
	ModuleName string
	Transfer   []*TransferableBuffer
	Abort      <-chan struct{}
}

// SubmitOption customizes a single submission.
type SubmitOption func(*SubmitConfig)

// WithModuleName overrides the pool's default module for this submission.
func WithModuleName(name string) SubmitOption {
	return func(c *SubmitConfig) { c.ModuleName = name }
}

// WithTransfer attaches a transfer list built from Move: each Movable's
// underlying buffer is detached (its source-side view zeroed) the moment
// the task is dispatched to a worker. Movables produced from a value that
// is not a *TransferableBuffer are silently dropped, since Move itself is
// the point where an unsupported value is rejected synchronously.
func WithTransfer(movables ...Movable) SubmitOption {
	return func(c *SubmitConfig) {
		for _, m := range movables {
			if buf, ok := m.Transferable.(*TransferableBuffer); ok {
				c.Transfer = append(c.Transfer, buf)
			}
		}
	}
}

// WithAbort makes the submission abortable: closing abort rejects it with
// ErrAborted, and if already dispatched, destroys its owning worker.
func WithAbort(abort <-chan struct{}) SubmitOption {
	return func(c *SubmitConfig) { c.Abort = abort }
}
