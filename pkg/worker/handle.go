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

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/lindb/common/pkg/logger"

	"github.com/lindb/taskpool/pkg/perrors"
	"github.com/lindb/taskpool/pkg/task"
)

//go:generate mockgen -source=./handle.go -destination=./handle_mock.go -package worker

// Unbounded represents "infinite" usage: an abortable task monopolizes its
// worker, so current_usage reports a value no ordinary concurrency limit
// can ever exceed.
const Unbounded = math.MaxInt32

// FatalError marks a task-level error as worker-fatal: the task's own
// error is still forwarded verbatim to its submitter, but the worker
// itself is considered dead and is torn down and replaced by the
// controller, the Go analogue of an uncaught exception escaping the
// underlying thread rather than the task handler.
type FatalError struct{ Err error }

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// Handle is the controller-side record of one live worker goroutine: its
// wake channel, its in-flight task map, its idle timer, and its
// pending-to-ready gate. It owns every Descriptor in its task map; a
// Descriptor only ever holds the Handle's ID, never a reference back to it.
type Handle struct {
	ID       string
	registry *task.Registry

	wake    *wakeChannel
	taskMap map[uint64]*task.Descriptor

	ready   atomic.Bool
	readyCh chan struct{}

	// refd models the message port's ref-count: true while the worker has
	// in-flight work and should keep the process alive, false once idle.
	// Go has no equivalent of uv_unref, so this is tracked explicitly and
	// consulted by callers that decide whether an idle pool may exit.
	refd atomic.Bool

	idleTimer  Timer
	idleTimerC <-chan struct{}

	stopCh  chan struct{}
	stopped atomic.Bool

	// notify is the pool's shared response signal: execute pings it
	// (non-blocking, by worker ID) after every respond, the Go analogue of
	// the "normal event pathway" that lets the controller avoid polling
	// workers with nothing to report.
	notify chan<- string

	// failureCh carries worker-fatal errors (see FatalError) to the
	// controller, distinct from the ordinary per-task response path.
	failureCh chan error

	bootstrapFn  func() error
	bootstrapErr error

	logger logger.Logger
}

// Timer is the minimal interface Handle needs from an idle-retirement
// timer, satisfied by *time.Timer and swappable in tests.
type Timer interface {
	Stop() bool
}

// Config bounds a Handle's wake-channel capacity to the per-worker
// concurrency limit, since a worker is never posted more tasks than that.
type Config struct {
	ID          string
	Registry    *task.Registry
	Concurrency int

	// Notify, if set, receives this worker's ID (non-blocking) whenever a
	// response is posted, waking the pool's controller loop.
	Notify chan<- string

	// Bootstrap, if set, runs before the ready sentinel fires and models
	// the source's module-resolution startup failing. A non-nil error
	// leaves the handle permanently un-ready; its cause is available via
	// BootstrapErr.
	Bootstrap func() error
}

// NewHandle spawns a worker goroutine pending readiness, and a second
// goroutine that bootstraps it (resolves its module table) and emits the
// ready sentinel. Per §4.2, during initial pool fill a caller may treat a
// freshly spawned handle as ready immediately since there is no work yet
// to post; NewHandle itself always waits for the real bootstrap signal.
func NewHandle(cfg Config) *Handle {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	h := &Handle{
		ID:          id,
		registry:    cfg.Registry,
		wake:        newWakeChannel(concurrency),
		taskMap:     make(map[uint64]*task.Descriptor),
		readyCh:     make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		notify:      cfg.Notify,
		failureCh:   make(chan error, 1),
		bootstrapFn: cfg.Bootstrap,
		logger:      logger.GetLogger("Worker", id),
	}
	go h.bootstrap()
	go h.loop()
	return h
}

// bootstrap models the worker's module-resolution startup; a goroutine
// worker has nothing analogous to script evaluation, so it normally
// completes immediately and emits the ready sentinel. If Config.Bootstrap
// was supplied and fails, the ready sentinel still fires (so the
// controller notices) but Ready remains false.
func (h *Handle) bootstrap() {
	if h.bootstrapFn != nil {
		if err := h.bootstrapFn(); err != nil {
			h.bootstrapErr = err
			select {
			case h.readyCh <- struct{}{}:
			default:
			}
			return
		}
	}
	h.ready.Store(true)
	select {
	case h.readyCh <- struct{}{}:
	default:
	}
}

// Ready reports whether the worker has emitted its ready sentinel.
func (h *Handle) Ready() bool { return h.ready.Load() }

// BootstrapErr returns the error returned by Config.Bootstrap, if any.
func (h *Handle) BootstrapErr() error { return h.bootstrapErr }

// FailureCh delivers worker-fatal errors reported by task handlers that
// return a *FatalError.
func (h *Handle) FailureCh() <-chan error { return h.failureCh }

// ReadyCh returns the channel the ready sentinel is delivered on, at most
// once.
func (h *Handle) ReadyCh() <-chan struct{} { return h.readyCh }

func (h *Handle) loop() {
	for {
		select {
		case env := <-h.wake.toWorker:
			h.execute(env)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Handle) execute(env taskEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			err := perrors.FromRecover(r)
			h.logger.Error("panic executing task", logger.Error(err), logger.Stack())
			h.wake.respond(taskResponse{taskID: env.taskID, err: err})
			h.signalNotify()
		}
	}()

	handler, err := h.registry.Resolve(env.moduleName)
	if err != nil {
		h.wake.respond(taskResponse{taskID: env.taskID, err: err})
		h.signalNotify()
		return
	}

	ctx := context.Background()
	if env.abort != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-env.abort:
				cancel()
			case <-stop:
			}
		}()
		defer cancel()
	}

	result, err := handler(ctx, env.payload, env.transfer)
	h.wake.respond(taskResponse{taskID: env.taskID, result: result, err: err})
	h.signalNotify()

	var fatal *FatalError
	if errors.As(err, &fatal) {
		select {
		case h.failureCh <- fatal:
		default:
		}
	}
}

// signalNotify pings the pool's shared response signal, if configured.
func (h *Handle) signalNotify() {
	if h.notify == nil {
		return
	}
	select {
	case h.notify <- h.ID:
	default:
	}
}

// Post sends d's envelope to the worker. On success d is recorded in the
// task map, stamped dispatched, and the handle is marked referenced. On
// send failure d completes immediately with the send error and is never
// recorded.
func (h *Handle) Post(d *task.Descriptor) error {
	if _, exists := h.taskMap[d.ID]; exists {
		panic("worker: descriptor already posted to this handle")
	}

	for _, t := range d.Transfer {
		t.detach()
	}

	if err := h.wake.post(taskEnvelope{
		taskID:     d.ID,
		payload:    d.Payload,
		moduleName: d.ModuleName,
		transfer:   d.Transfer,
		abort:      d.Abort,
	}); err != nil {
		d.Complete(nil, perrors.Wrap(perrors.KindInvalidTransfer, "failed to post task", err))
		return err
	}

	h.taskMap[d.ID] = d
	d.MarkDispatched(h.ID)
	h.refd.Store(true)
	h.clearIdleTimer()
	return nil
}

// Destroy terminates the worker goroutine, closes the wake channel's
// consuming loop, clears the idle timer, and completes every descriptor
// still in the task map with a thread_termination error.
func (h *Handle) Destroy() {
	if h.stopped.Swap(true) {
		return
	}
	close(h.stopCh)
	h.clearIdleTimer()

	pending := h.taskMap
	h.taskMap = make(map[uint64]*task.Descriptor)
	for _, d := range pending {
		d.Complete(nil, perrors.ErrThreadTermination)
	}
}

// CurrentUsage returns Unbounded if the worker holds exactly one
// abortable descriptor (it monopolizes the worker), otherwise the number
// of in-flight descriptors.
func (h *Handle) CurrentUsage() int {
	if len(h.taskMap) == 1 {
		for _, d := range h.taskMap {
			if d.Abortable() {
				return Unbounded
			}
		}
	}
	return len(h.taskMap)
}

// TaskMapLen returns the number of descriptors currently owned by this
// worker.
func (h *Handle) TaskMapLen() int { return len(h.taskMap) }

// Lookup returns the descriptor for taskID, if this worker owns it.
func (h *Handle) Lookup(taskID uint64) (*task.Descriptor, bool) {
	d, ok := h.taskMap[taskID]
	return d, ok
}

// Remove deletes taskID from the task map (called once its response has
// been delivered) and unrefs the handle if it is now fully idle.
func (h *Handle) Remove(taskID uint64) {
	delete(h.taskMap, taskID)
	if len(h.taskMap) == 0 {
		h.refd.Store(false)
	}
}

// Refd reports whether the handle currently has in-flight work keeping it
// "referenced" (the unref/ref analogue described in §5).
func (h *Handle) Refd() bool { return h.refd.Load() }

// ProcessPendingMessages is the wake channel's fast-path poll: if
// response_count has advanced since last observed, it drains every
// buffered response non-blockingly. Returns nil if there was nothing new.
func (h *Handle) ProcessPendingMessages() []Response {
	if !h.wake.hasPendingResponses() {
		return nil
	}
	raw := h.wake.drainNonBlocking()
	if len(raw) == 0 {
		return nil
	}
	out := make([]Response, 0, len(raw))
	for _, r := range raw {
		out = append(out, Response{TaskID: r.taskID, Result: r.result, Err: r.err})
	}
	return out
}

// Response is the controller-facing view of a drained taskResponse.
type Response struct {
	TaskID uint64
	Result any
	Err    error
}

// SetIdleTimer records an armed idle-retirement timer, stopping any
// previous one. A subsequent Post or Destroy stops it.
func (h *Handle) SetIdleTimer(t Timer) {
	h.clearIdleTimer()
	h.idleTimer = t
}

func (h *Handle) clearIdleTimer() {
	if h.idleTimer != nil {
		h.idleTimer.Stop()
		h.idleTimer = nil
	}
}

// InFlight returns request_count - response_count for this worker's wake
// channel.
func (h *Handle) InFlight() uint32 { return h.wake.inFlight() }
