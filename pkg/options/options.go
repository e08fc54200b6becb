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

// Package options normalizes and validates the caller-supplied pool
// configuration: the autoscale band, queue bound, per-worker concurrency
// limit, and worker-construction passthrough fields from spec.md §6.
package options

import (
	"fmt"
	"math"
	"runtime"
	"time"
)

// queueKind distinguishes the three ways max_queue can be specified.
type queueKind int

const (
	queueExplicit queueKind = iota
	queueAuto
	queueUnbounded
)

// QueueLimit represents the max_queue option, which accepts an explicit
// non-negative count, the literal "auto" (max_threads^2), or an unbounded
// queue (the caller's "Infinity").
type QueueLimit struct {
	kind queueKind
	n    int
}

// ExplicitQueueLimit bounds the queue at exactly n entries. n == 0 means
// "reject rather than queue" per §6.
func ExplicitQueueLimit(n int) QueueLimit { return QueueLimit{kind: queueExplicit, n: n} }

// AutoQueueLimit resolves to max_threads^2 once MaxThreads is known.
func AutoQueueLimit() QueueLimit { return QueueLimit{kind: queueAuto} }

// UnboundedQueueLimit never rejects for queue length alone.
func UnboundedQueueLimit() QueueLimit { return QueueLimit{kind: queueUnbounded} }

// Resolve returns the effective max_queue given the pool's max_threads.
func (q QueueLimit) Resolve(maxThreads int) int {
	switch q.kind {
	case queueAuto:
		return maxThreads * maxThreads
	case queueUnbounded:
		return math.MaxInt32
	default:
		return q.n
	}
}

// IsZero reports whether this limit resolves to 0 regardless of
// max_threads, i.e. "reject rather than queue".
func (q QueueLimit) IsZero() bool { return q.kind == queueExplicit && q.n == 0 }

// Options is the caller-supplied, pre-normalization configuration. The
// zero value is valid and resolves entirely to defaults.
type Options struct {
	ModuleName               string
	MinThreads               *int
	MaxThreads               *int
	IdleTimeout              time.Duration
	MaxQueue                 *QueueLimit
	ConcurrentTasksPerWorker int
	UseAtomics               *bool

	// Passthrough worker-construction fields. The source's OS-process-level
	// knobs (execArgv, resourceLimits) have no literal Go equivalent for a
	// goroutine-backed worker. They are copied into Normalized unchanged;
	// the pool does not pass them to the workers it spawns, and nothing
	// else reads them.
	ResourceLimits map[string]string
	Argv           []string
	Env            map[string]string
	ExecArgv       []string
	WorkerData     any
}

// Normalized is the validated, fully defaulted configuration the scheduler
// operates on.
type Normalized struct {
	ModuleName               string
	MinThreads               int
	MaxThreads               int
	IdleTimeout              time.Duration
	MaxQueue                 int
	ConcurrentTasksPerWorker int
	UseAtomics               bool

	ResourceLimits map[string]string
	Argv           []string
	Env            map[string]string
	ExecArgv       []string
	WorkerData     any
}

func defaultMinThreads() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

func defaultMaxThreads() int {
	n := int(float64(runtime.NumCPU()) * 1.5)
	if n < 1 {
		n = 1
	}
	return n
}

// Normalize validates opts and fills in defaults, per §6's construction
// rule: non-numeric, negative, or mutually inconsistent values are
// rejected, and min_threads > max_threads fails construction.
func Normalize(opts Options) (Normalized, error) {
	n := Normalized{
		ModuleName:               opts.ModuleName,
		IdleTimeout:              opts.IdleTimeout,
		ConcurrentTasksPerWorker: opts.ConcurrentTasksPerWorker,
		ResourceLimits:           opts.ResourceLimits,
		Argv:                     opts.Argv,
		Env:                      opts.Env,
		ExecArgv:                 opts.ExecArgv,
		WorkerData:               opts.WorkerData,
		UseAtomics:               true,
	}

	if opts.MinThreads != nil {
		n.MinThreads = *opts.MinThreads
	} else {
		n.MinThreads = defaultMinThreads()
	}
	if n.MinThreads < 0 {
		return Normalized{}, fmt.Errorf("options: min_threads must be >= 0, got %d", n.MinThreads)
	}

	if opts.MaxThreads != nil {
		n.MaxThreads = *opts.MaxThreads
	} else {
		n.MaxThreads = defaultMaxThreads()
	}
	if n.MaxThreads < 1 {
		return Normalized{}, fmt.Errorf("options: max_threads must be >= 1, got %d", n.MaxThreads)
	}

	if n.MinThreads > n.MaxThreads {
		return Normalized{}, fmt.Errorf("options: min_threads (%d) must not exceed max_threads (%d)", n.MinThreads, n.MaxThreads)
	}

	if n.ConcurrentTasksPerWorker <= 0 {
		n.ConcurrentTasksPerWorker = 1
	}

	if n.IdleTimeout < 0 {
		return Normalized{}, fmt.Errorf("options: idle_timeout must be >= 0, got %s", n.IdleTimeout)
	}
	if n.IdleTimeout == 0 {
		n.IdleTimeout = 4 * time.Second
	}

	if opts.UseAtomics != nil {
		n.UseAtomics = *opts.UseAtomics
	}

	queueLimit := AutoQueueLimit()
	if opts.MaxQueue != nil {
		queueLimit = *opts.MaxQueue
	}
	n.MaxQueue = queueLimit.Resolve(n.MaxThreads)
	if n.MaxQueue < 0 {
		return Normalized{}, fmt.Errorf("options: max_queue must be >= 0, got %d", n.MaxQueue)
	}

	return n, nil
}
