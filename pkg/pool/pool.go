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

// Package pool implements the scheduler: autoscale, queue admission,
// worker selection, dispatch, cancellation, drain, and histogram
// recording.
package pool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/lindb/common/pkg/logger"

	"github.com/lindb/taskpool/pkg/histogram"
	"github.com/lindb/taskpool/pkg/options"
	"github.com/lindb/taskpool/pkg/perrors"
	"github.com/lindb/taskpool/pkg/task"
	"github.com/lindb/taskpool/pkg/worker"
)

//go:generate mockgen -source=./pool.go -destination=./pool_mock.go -package=pool

// EventSink is the collaborator event surface: a drain signal whenever
// the queue empties, and a stray-error signal for worker failures that
// have no owning descriptor to blame.
type EventSink interface {
	OnSubmit()
	OnDrain()
	OnError(err error)
}

// NoopEventSink discards every event; used when the caller supplies none.
type NoopEventSink struct{}

func (NoopEventSink) OnSubmit()     {}
func (NoopEventSink) OnDrain()      {}
func (NoopEventSink) OnError(error) {}

// Stats is the observability snapshot: queue size (clamped for
// still-warming-up workers), completed count, elapsed duration, latency
// histograms, and instantaneous utilization.
type Stats struct {
	QueueSize   int
	Completed   uint64
	Duration    time.Duration
	Wait        histogram.Snapshot
	Run         histogram.Snapshot
	Utilization float64
	Workers     int
	MinThreads  int
	MaxThreads  int
}

// Scheduler is the submission-facing interface implemented by *Pool,
// extracted so callers can depend on an interface and tests can supply a
// mock (see pool_mock.go).
type Scheduler interface {
	Submit(ctx context.Context, payload any, opts ...task.SubmitOption) *task.Future
	Stats() Stats
	Destroy(ctx context.Context) error
}

// Pool is the scheduler and worker-lifecycle engine. All of its mutable
// state (queue, ready pool, histograms, counters) is touched only by the
// single goroutine running loop; external callers communicate with it by
// posting closures on cmds, the Go analogue of a single-threaded
// cooperative controller.
type Pool struct {
	cfg      options.Normalized
	registry *task.Registry
	sink     EventSink
	logger   logger.Logger

	readyPool *worker.ReadyPool
	queue     []*task.Descriptor

	nextTaskID   atomic.Uint64
	nextWorkerID atomic.Uint64

	completed uint64
	waitHist  *histogram.Histogram
	runHist   *histogram.Histogram
	startTime time.Time

	startingUp                 bool
	workerFailsDuringBootstrap bool
	inProcessPendingMessages   bool
	queueWasNonEmpty           bool

	cmds           chan func()
	responseSignal chan string
	closeCh        chan struct{}
}

// New constructs a Pool and fills it to MinThreads before returning.
func New(opts options.Options, registry *task.Registry, sink EventSink) (*Pool, error) {
	cfg, err := options.Normalize(opts)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = NoopEventSink{}
	}
	p := &Pool{
		cfg:            cfg,
		registry:       registry,
		sink:           sink,
		logger:         logger.GetLogger("Pool", "default"),
		readyPool:      worker.NewReadyPool(cfg.ConcurrentTasksPerWorker),
		cmds:           make(chan func(), 256),
		responseSignal: make(chan string, 256),
		closeCh:        make(chan struct{}),
		waitHist:       histogram.New(),
		runHist:        histogram.New(),
		startTime:      time.Now(),
	}
	go p.loop()

	done := make(chan struct{})
	p.cmds <- func() {
		p.startingUp = true
		for i := 0; i < cfg.MinThreads; i++ {
			h := p.spawnWorker()
			// During initial fill there is no work yet to post, so a
			// freshly spawned handle may be promoted immediately without
			// waiting on the real bootstrap round trip.
			p.readyPool.Promote(h.ID)
		}
		p.startingUp = false
		close(done)
	}
	<-done
	return p, nil
}

func (p *Pool) loop() {
	for {
		select {
		case cmd := <-p.cmds:
			cmd()
		case id := <-p.responseSignal:
			if p.cfg.UseAtomics {
				p.drainAll()
			} else {
				p.drainWorker(id)
			}
		case <-p.closeCh:
			return
		}
	}
}

// Submit enqueues or dispatches a task and returns its completion future
// immediately; the future resolves once the task completes, is rejected
// at admission, or is aborted.
func (p *Pool) Submit(ctx context.Context, payload any, opts ...task.SubmitOption) *task.Future {
	cfg := task.SubmitConfig{ModuleName: p.cfg.ModuleName}
	for _, o := range opts {
		o(&cfg)
	}

	d := task.NewDescriptor(p.nextTaskID.Inc(), payload, cfg.ModuleName, cfg.Transfer, cfg.Abort)

	if cfg.Abort != nil {
		go p.watchAbort(d, cfg.Abort)
	}

	select {
	case p.cmds <- func() { p.sink.OnSubmit(); p.admit(d) }:
	case <-p.closeCh:
		d.Complete(nil, perrors.ErrThreadTermination)
	case <-ctx.Done():
		d.Complete(nil, ctx.Err())
	}
	return d.Future()
}

func (p *Pool) watchAbort(d *task.Descriptor, abort <-chan struct{}) {
	select {
	case <-abort:
		select {
		case p.cmds <- func() { p.handleAbort(d) }:
		case <-p.closeCh:
		}
	case <-d.Future().Done():
	}
}

// admit implements the submission admission algorithm, in order:
// validate the module name, prefer the queue once non-empty, otherwise
// find the least-loaded ready worker, discard it if the task is
// abortable and the worker has load, speculatively grow the pool, and
// finally dispatch or queue or reject.
func (p *Pool) admit(d *task.Descriptor) {
	if d.ModuleName == "" {
		d.Complete(nil, perrors.ErrFilenameNotProvided)
		return
	}

	if len(p.queue) > 0 {
		if len(p.queue) >= p.effectiveQueueCapacity() {
			if p.cfg.MaxQueue == 0 {
				d.Complete(nil, perrors.ErrNoTaskQueueAvailable)
			} else {
				d.Complete(nil, perrors.ErrTaskQueueAtLimit)
			}
			return
		}
		if p.readyPool.Size() < p.cfg.MaxThreads {
			p.spawnWorker()
		}
		p.pushQueue(d)
		return
	}

	selected := p.readyPool.FindAvailable()
	if selected != nil && selected.CurrentUsage() > 0 && d.Abortable() {
		selected = nil
	}

	spawnedNew := false
	if (selected == nil || selected.CurrentUsage() > 0) && p.readyPool.Size() < p.cfg.MaxThreads {
		p.spawnWorker()
		spawnedNew = true
	}

	if selected == nil {
		if p.cfg.MaxQueue <= 0 && !spawnedNew {
			d.Complete(nil, perrors.ErrNoTaskQueueAvailable)
			return
		}
		p.pushQueue(d)
		return
	}

	p.dispatch(selected, d)
}

func (p *Pool) pushQueue(d *task.Descriptor) {
	p.queue = append(p.queue, d)
	p.queueWasNonEmpty = true
}

// effectiveQueueCapacity is max_queue plus the absorption capacity of
// workers still warming up: a submission that arrives while new workers
// are pending may be admitted against capacity that will exist by the
// time it would be dispatched.
func (p *Pool) effectiveQueueCapacity() int {
	return p.cfg.MaxQueue + p.readyPool.PendingCount()*p.cfg.ConcurrentTasksPerWorker
}

// dispatch posts d to h now: records the wait-time sample and posts the
// envelope (Post itself stamps started_at).
func (p *Pool) dispatch(h *worker.Handle, d *task.Descriptor) {
	p.waitHist.UpdateSince(d.CreatedAt)
	_ = h.Post(d)
	p.drainWorker(h.ID)
}

// onResponse removes the completed descriptor from its worker, records
// the run-time sample, resolves the descriptor, and re-triggers
// on_worker_available for the freed capacity.
func (p *Pool) onResponse(h *worker.Handle, resp worker.Response) {
	d, ok := h.Lookup(resp.TaskID)
	if !ok {
		return
	}
	h.Remove(resp.TaskID)
	p.completed++
	p.runHist.UpdateSince(d.StartedAt)
	d.Complete(resp.Result, resp.Err)
	p.onWorkerAvailable(h)
}

// onWorkerAvailable is the edge-triggered handler fired when a worker's
// usage drops, or a pending worker becomes ready. It dispatches at most
// one queued descriptor per invocation; remaining queued work drains over
// subsequent edges rather than in a loop here.
func (p *Pool) onWorkerAvailable(h *worker.Handle) {
	if len(p.queue) > 0 && h.CurrentUsage() < p.cfg.ConcurrentTasksPerWorker {
		d := p.queue[0]
		// An abortable task may only land on an otherwise-idle worker
		// (the same exclusivity rule admit's selection step applies),
		// so it stays queued until h's usage drops to zero.
		if !(d.Abortable() && h.CurrentUsage() > 0) {
			p.queue = p.queue[1:]
			p.dispatch(h, d)
		}
	}

	if len(p.queue) == 0 {
		p.maybeEmitDrain()
	}

	if h.TaskMapLen() == 0 && p.readyPool.Size() > p.cfg.MinThreads {
		p.armIdleTimer(h)
	}
}

func (p *Pool) maybeEmitDrain() {
	if p.queueWasNonEmpty {
		p.queueWasNonEmpty = false
		p.sink.OnDrain()
	}
}

func (p *Pool) armIdleTimer(h *worker.Handle) {
	id := h.ID
	timer := time.AfterFunc(p.cfg.IdleTimeout, func() {
		select {
		case p.cmds <- func() { p.onIdleTimeout(id) }:
		case <-p.closeCh:
		}
	})
	h.SetIdleTimer(timer)
}

func (p *Pool) onIdleTimeout(id string) {
	h, ok := p.readyPool.Get(id)
	if !ok {
		return
	}
	if h.TaskMapLen() == 0 && p.readyPool.Size() > p.cfg.MinThreads {
		p.readyPool.Remove(id)
		h.Destroy()
	}
}

// handleAbort resolves d with ErrAborted before any teardown side effect,
// so abort always wins its race against normal completion and against
// thread-termination collateral from a subsequent worker destroy.
func (p *Pool) handleAbort(d *task.Descriptor) {
	d.Complete(nil, perrors.ErrAborted)

	if d.OwningWorkerID != "" {
		h, ok := p.readyPool.Get(d.OwningWorkerID)
		if ok {
			p.readyPool.Remove(h.ID)
			h.Destroy()
			p.ensureMinimumWorkers()
		}
		return
	}

	p.removeFromQueueByIdentity(d)
}

func (p *Pool) removeFromQueueByIdentity(d *task.Descriptor) {
	for i, q := range p.queue {
		if q == d {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}

// spawnWorker creates a new pending worker handle and wires its ready and
// failure signals back into the controller's command stream.
func (p *Pool) spawnWorker() *worker.Handle {
	id := fmt.Sprintf("worker-%d", p.nextWorkerID.Inc())
	h := worker.NewHandle(worker.Config{
		ID:          id,
		Registry:    p.registry.Clone(),
		Concurrency: p.cfg.ConcurrentTasksPerWorker,
		Notify:      p.responseSignal,
	})
	p.readyPool.Add(h)
	p.watchWorker(h)
	return h
}

func (p *Pool) watchWorker(h *worker.Handle) {
	go func() {
		select {
		case <-h.ReadyCh():
			select {
			case p.cmds <- func() { p.onWorkerReady(h.ID) }:
			case <-p.closeCh:
			}
		case <-p.closeCh:
		}
	}()
	go func() {
		select {
		case err := <-h.FailureCh():
			select {
			case p.cmds <- func() { p.onWorkerFailed(h.ID, err) }:
			case <-p.closeCh:
			}
		case <-p.closeCh:
		}
	}()
}

func (p *Pool) onWorkerReady(id string) {
	h, ok := p.readyPool.Get(id)
	if !ok {
		return
	}
	if !h.Ready() {
		cause := h.BootstrapErr()
		if cause == nil {
			cause = fmt.Errorf("pool: worker failed to bootstrap")
		}
		p.onWorkerFailed(id, cause)
		return
	}
	p.readyPool.Promote(id)
	p.onWorkerAvailable(h)
}

// onWorkerFailed handles a fatal worker error: snapshot (via
// TaskMapLen), resolve any responses the worker already posted with their
// own result, remove and destroy the handle (which completes any
// descriptors it still owned with thread_termination), replenish the
// floor or latch the sticky bootstrap-failure flag, and surface the
// error on the event sink if no descriptor absorbed it.
func (p *Pool) onWorkerFailed(id string, cause error) {
	h, ok := p.readyPool.Get(id)
	if !ok {
		return
	}
	wasReady := h.Ready()
	remaining := h.TaskMapLen()

	for _, resp := range h.ProcessPendingMessages() {
		if d, found := h.Lookup(resp.TaskID); found {
			h.Remove(resp.TaskID)
			p.completed++
			p.runHist.UpdateSince(d.StartedAt)
			d.Complete(resp.Result, resp.Err)
		}
	}

	p.readyPool.Remove(id)
	h.Destroy()

	if remaining == 0 {
		p.sink.OnError(cause)
	}

	if wasReady {
		if !p.workerFailsDuringBootstrap {
			p.ensureMinimumWorkers()
		}
	} else {
		p.workerFailsDuringBootstrap = true
	}
}

func (p *Pool) ensureMinimumWorkers() {
	for p.readyPool.Size() < p.cfg.MinThreads {
		h := p.spawnWorker()
		if p.startingUp {
			p.readyPool.Promote(h.ID)
		}
	}
}

// drainAll is the fast-path response poll: it scans every worker and
// drains whichever have pending responses, guarded against reentry.
// Skipped in favor of drainWorker when UseAtomics is disabled.
func (p *Pool) drainAll() {
	if p.inProcessPendingMessages {
		return
	}
	p.inProcessPendingMessages = true
	defer func() { p.inProcessPendingMessages = false }()

	handles := p.readyPool.ReadyHandles()
	handles = append(handles, p.readyPool.PendingHandles()...)
	for _, h := range handles {
		p.drainWorkerHandle(h)
	}
}

func (p *Pool) drainWorker(id string) {
	h, ok := p.readyPool.Get(id)
	if !ok {
		return
	}
	p.drainWorkerHandle(h)
}

func (p *Pool) drainWorkerHandle(h *worker.Handle) {
	for _, resp := range h.ProcessPendingMessages() {
		p.onResponse(h, resp)
	}
}

// Stats returns a point-in-time observability snapshot.
func (p *Pool) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case p.cmds <- func() { reply <- p.statsLocked() }:
		return <-reply
	case <-p.closeCh:
		return Stats{}
	}
}

func (p *Pool) statsLocked() Stats {
	pendingCapacity := p.readyPool.PendingCount() * p.cfg.ConcurrentTasksPerWorker
	queueSize := len(p.queue) - pendingCapacity
	if queueSize < 0 {
		queueSize = 0
	}

	duration := time.Since(p.startTime)
	runSnap := p.runHist.Snapshot()
	var utilization float64
	if duration > 0 && p.cfg.MaxThreads > 0 {
		utilization = (float64(runSnap.Mean) * float64(runSnap.Count)) / (float64(duration) * float64(p.cfg.MaxThreads))
	}

	return Stats{
		QueueSize:   queueSize,
		Completed:   p.completed,
		Duration:    duration,
		Wait:        p.waitHist.Snapshot(),
		Run:         runSnap,
		Utilization: utilization,
		Workers:     p.readyPool.Size(),
		MinThreads:  p.cfg.MinThreads,
		MaxThreads:  p.cfg.MaxThreads,
	}
}

// Destroy fails every queued descriptor, tears down every live worker in
// parallel, and stops the controller loop.
func (p *Pool) Destroy(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case p.cmds <- func() {
		for _, d := range p.queue {
			d.Complete(nil, perrors.ErrThreadTermination)
		}
		p.queue = nil

		handles := p.readyPool.ReadyHandles()
		handles = append(handles, p.readyPool.PendingHandles()...)

		g := new(errgroup.Group)
		for _, h := range handles {
			h := h
			g.Go(func() error {
				h.Destroy()
				return nil
			})
		}
		_ = g.Wait()

		close(p.closeCh)
		close(done)
	}:
	case <-p.closeCh:
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
