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

package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lindb/taskpool/pkg/options"
	"github.com/lindb/taskpool/pkg/perrors"
	"github.com/lindb/taskpool/pkg/task"
)

func intp(n int) *int { return &n }

func newTestRegistry() *task.Registry {
	r := task.NewRegistry()
	r.Register("double", func(_ context.Context, payload any, _ []*task.TransferableBuffer) (any, error) {
		return payload.(int) * 2, nil
	})
	r.Register("fail", func(context.Context, any, []*task.TransferableBuffer) (any, error) {
		return nil, errors.New("task failed")
	})
	r.Register("block", func(ctx context.Context, _ any, _ []*task.TransferableBuffer) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r.Register("release", func(_ context.Context, payload any, _ []*task.TransferableBuffer) (any, error) {
		<-payload.(chan struct{})
		return nil, nil
	})
	return r
}

type recordingSink struct {
	mu      sync.Mutex
	submits int
	drains  int
	errs    []error
}

func (s *recordingSink) OnSubmit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
}

func (s *recordingSink) OnDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drains++
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) drainCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drains
}

func (s *recordingSink) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

func mustWait(t *testing.T, f *task.Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

func TestPool_SubmitDispatchesAndCompletes(t *testing.T) {
	p, err := New(options.Options{
		ModuleName: "double",
		MinThreads: intp(1),
		MaxThreads: intp(2),
	}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	f := p.Submit(context.Background(), 21)
	result, err := mustWait(t, f)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestPool_MissingModuleNameRejected(t *testing.T) {
	p, err := New(options.Options{MinThreads: intp(1), MaxThreads: intp(1)}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	f := p.Submit(context.Background(), 1)
	_, err = mustWait(t, f)
	assert.True(t, perrors.Is(err, perrors.KindFilenameNotProvided))
}

func TestPool_TaskErrorForwardedVerbatim(t *testing.T) {
	p, err := New(options.Options{ModuleName: "fail", MinThreads: intp(1), MaxThreads: intp(1)}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	f := p.Submit(context.Background(), nil)
	_, err = mustWait(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task failed")
}

func TestPool_QueueFullRejects(t *testing.T) {
	zero := options.ExplicitQueueLimit(0)
	p, err := New(options.Options{
		ModuleName: "block",
		MinThreads: intp(1),
		MaxThreads: intp(1),
		MaxQueue:   &zero,
	}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	f1 := p.Submit(context.Background(), nil)
	time.Sleep(20 * time.Millisecond) // let f1 occupy the single worker

	f2 := p.Submit(context.Background(), nil)
	_, err = mustWait(t, f2)
	assert.True(t, perrors.Is(err, perrors.KindNoTaskQueueAvailable))

	_ = f1
}

func TestPool_DrainFiresWhenQueueEmpties(t *testing.T) {
	explicit := options.ExplicitQueueLimit(4)
	sink := &recordingSink{}
	p, err := New(options.Options{
		ModuleName: "double",
		MinThreads: intp(1),
		MaxThreads: intp(1),
		MaxQueue:   &explicit,
	}, newTestRegistry(), sink)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	var futures []*task.Future
	for i := 0; i < 3; i++ {
		futures = append(futures, p.Submit(context.Background(), i))
	}
	for _, f := range futures {
		_, _ = mustWait(t, f)
	}

	assert.Eventually(t, func() bool { return sink.drainCount() > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, sink.submitCount())
}

func TestPool_AbortBeforeDispatchRemovesFromQueue(t *testing.T) {
	explicit := options.ExplicitQueueLimit(4)
	p, err := New(options.Options{
		ModuleName: "block",
		MinThreads: intp(1),
		MaxThreads: intp(1),
		MaxQueue:   &explicit,
	}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	occupy := p.Submit(context.Background(), nil)
	time.Sleep(20 * time.Millisecond)

	abort := make(chan struct{})
	queued := p.Submit(context.Background(), nil, task.WithAbort(abort))
	close(abort)

	_, err = mustWait(t, queued)
	assert.True(t, perrors.Is(err, perrors.KindAborted))

	_ = occupy
}

func TestPool_AbortDispatchedTaskDestroysWorker(t *testing.T) {
	p, err := New(options.Options{
		ModuleName: "block",
		MinThreads: intp(1),
		MaxThreads: intp(2),
	}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	abort := make(chan struct{})
	f := p.Submit(context.Background(), nil, task.WithAbort(abort))
	time.Sleep(20 * time.Millisecond)
	close(abort)

	_, err = mustWait(t, f)
	assert.True(t, perrors.Is(err, perrors.KindAborted))
}

func TestPool_DestroyCompletesQueuedAndInFlight(t *testing.T) {
	explicit := options.ExplicitQueueLimit(4)
	p, err := New(options.Options{
		ModuleName: "block",
		MinThreads: intp(1),
		MaxThreads: intp(1),
		MaxQueue:   &explicit,
	}, newTestRegistry(), nil)
	require.NoError(t, err)

	inFlight := p.Submit(context.Background(), nil)
	time.Sleep(20 * time.Millisecond)
	queued := p.Submit(context.Background(), nil)

	require.NoError(t, p.Destroy(context.Background()))

	_, err = mustWait(t, inFlight)
	assert.True(t, perrors.Is(err, perrors.KindThreadTermination))
	_, err = mustWait(t, queued)
	assert.True(t, perrors.Is(err, perrors.KindThreadTermination))
}

func TestPool_StatsReportsCompletedAndWorkers(t *testing.T) {
	p, err := New(options.Options{ModuleName: "double", MinThreads: intp(1), MaxThreads: intp(2)}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	for i := 0; i < 5; i++ {
		f := p.Submit(context.Background(), i)
		_, _ = mustWait(t, f)
	}

	stats := p.Stats()
	assert.Equal(t, uint64(5), stats.Completed)
	assert.GreaterOrEqual(t, stats.Workers, 1)
	assert.Equal(t, 1, stats.MinThreads)
	assert.Equal(t, 2, stats.MaxThreads)
}

func TestPool_AbortableQueuedTaskWaitsForFullyIdleWorker(t *testing.T) {
	explicit := options.ExplicitQueueLimit(4)
	p, err := New(options.Options{
		ModuleName:               "release",
		MinThreads:               intp(1),
		MaxThreads:               intp(1),
		ConcurrentTasksPerWorker: 2,
		MaxQueue:                 &explicit,
	}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	release1 := make(chan struct{})
	release2 := make(chan struct{})
	t1 := p.Submit(context.Background(), release1)
	time.Sleep(20 * time.Millisecond) // let t1 occupy the sole worker

	t2 := p.Submit(context.Background(), release2)
	time.Sleep(20 * time.Millisecond) // let t2 land on the same worker (usage=2)

	// Tb is abortable; its abort channel is never closed in this test, so it
	// must complete only by being dispatched and run to completion.
	tb := p.Submit(context.Background(), 21, task.WithModuleName("double"), task.WithAbort(make(chan struct{})))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, p.Stats().QueueSize)

	close(release1)
	time.Sleep(20 * time.Millisecond)
	// Worker still holds t2 (usage=1); Tb must stay queued rather than share
	// the worker with a non-abortable in-flight task.
	assert.Equal(t, 1, p.Stats().QueueSize)

	close(release2)
	result, err := mustWait(t, tb)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 0, p.Stats().QueueSize)

	_, err = mustWait(t, t1)
	require.NoError(t, err)
	_, err = mustWait(t, t2)
	require.NoError(t, err)
}

func TestPool_ConcurrentSubmitIsSafe(t *testing.T) {
	p, err := New(options.Options{ModuleName: "double", MinThreads: intp(2), MaxThreads: intp(4)}, newTestRegistry(), nil)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			f := p.Submit(context.Background(), n)
			result, err := mustWait(t, f)
			assert.NoError(t, err)
			assert.Equal(t, n*2, result)
		}(i)
	}
	wg.Wait()
}
