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

package worker

// ReadyPool is the two-set collection of worker handles: pending (spawned,
// not yet bootstrapped) and ready (eligible for selection). It is owned and
// mutated exclusively by the single controller goroutine, matching the
// concurrency model's single-threaded scheduler state.
type ReadyPool struct {
	maxPerItemUsage int
	pending         map[string]*Handle
	ready           map[string]*Handle
}

// NewReadyPool creates an empty ReadyPool bounded by maxPerItemUsage, the
// per-worker concurrency limit used to decide "available" edges.
func NewReadyPool(maxPerItemUsage int) *ReadyPool {
	return &ReadyPool{
		maxPerItemUsage: maxPerItemUsage,
		pending:         make(map[string]*Handle),
		ready:           make(map[string]*Handle),
	}
}

// Add registers a freshly spawned handle as pending.
func (p *ReadyPool) Add(h *Handle) {
	p.pending[h.ID] = h
}

// Promote moves a handle from pending to ready, called once its ready
// sentinel arrives.
func (p *ReadyPool) Promote(id string) {
	h, ok := p.pending[id]
	if !ok {
		return
	}
	delete(p.pending, id)
	p.ready[id] = h
}

// Remove deletes id from whichever set holds it (cancellation, error,
// idle-expiry, or shutdown teardown).
func (p *ReadyPool) Remove(id string) {
	delete(p.pending, id)
	delete(p.ready, id)
}

// Size returns |pending| + |ready|.
func (p *ReadyPool) Size() int { return len(p.pending) + len(p.ready) }

// ReadyCount returns |ready|.
func (p *ReadyPool) ReadyCount() int { return len(p.ready) }

// PendingCount returns |pending|.
func (p *ReadyPool) PendingCount() int { return len(p.pending) }

// ReadyHandles returns a snapshot slice of ready handles. Iteration order
// is map order (randomized by the runtime); callers needing a stable tie
// break should sort by ID.
func (p *ReadyPool) ReadyHandles() []*Handle {
	out := make([]*Handle, 0, len(p.ready))
	for _, h := range p.ready {
		out = append(out, h)
	}
	return out
}

// PendingHandles returns a snapshot slice of pending handles.
func (p *ReadyPool) PendingHandles() []*Handle {
	out := make([]*Handle, 0, len(p.pending))
	for _, h := range p.pending {
		out = append(out, h)
	}
	return out
}

// Get returns the handle for id from either set.
func (p *ReadyPool) Get(id string) (*Handle, bool) {
	if h, ok := p.ready[id]; ok {
		return h, true
	}
	h, ok := p.pending[id]
	return h, ok
}

// FindAvailable scans ready workers per §4.3: any worker at usage 0 is
// returned immediately; otherwise the one with the lowest positive usage
// strictly below the concurrency limit; otherwise nil. Ties are broken by
// map iteration order, matching the source's unspecified tie-break.
func (p *ReadyPool) FindAvailable() *Handle {
	var best *Handle
	bestUsage := Unbounded
	for _, h := range p.ready {
		usage := h.CurrentUsage()
		if usage == 0 {
			return h
		}
		if usage < p.maxPerItemUsage && usage < bestUsage {
			best = h
			bestUsage = usage
		}
	}
	return best
}

// MaxPerItemUsage returns the configured per-worker concurrency limit.
func (p *ReadyPool) MaxPerItemUsage() int { return p.maxPerItemUsage }
