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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptor_LifecycleFields(t *testing.T) {
	d := NewDescriptor(1, map[string]int{"n": 2}, "double", nil, nil)
	assert.False(t, d.Abortable())
	assert.Zero(t, d.StartedAt)
	assert.Empty(t, d.OwningWorkerID)

	d.MarkDispatched("worker-1")
	assert.Equal(t, "worker-1", d.OwningWorkerID)
	assert.False(t, d.StartedAt.IsZero())
}

func TestDescriptor_Abortable(t *testing.T) {
	abort := make(chan struct{})
	d := NewDescriptor(1, nil, "m", nil, abort)
	assert.True(t, d.Abortable())
}

func TestDescriptor_CompleteExactlyOnce(t *testing.T) {
	d := NewDescriptor(1, nil, "m", nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			d.Complete(n, nil)
		}(i)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := d.Future().Wait(ctx)
	require.NoError(t, err)
	assert.NotNil(t, result)

	// a second explicit completion must not change the resolved value.
	d.Complete(999, errors.New("too late"))
	result2, err2 := d.Future().Wait(ctx)
	assert.Equal(t, result, result2)
	assert.Equal(t, err, err2)
}

func TestFuture_WaitContextCanceled(t *testing.T) {
	d := NewDescriptor(1, nil, "m", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Future().Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
