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

package histogram

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistogram_UpdateDuration(t *testing.T) {
	h := New()
	snap := h.Snapshot()
	assert.Equal(t, uint64(0), snap.Count)

	for i := 1; i <= 100; i++ {
		h.UpdateDuration(time.Duration(i) * time.Millisecond)
	}

	assert.Equal(t, uint64(100), h.Count())
	snap = h.Snapshot()
	assert.Equal(t, uint64(100), snap.Count)
	assert.True(t, snap.Min <= time.Millisecond)
	assert.True(t, snap.Max >= 99*time.Millisecond)
	assert.True(t, snap.P99 >= snap.P90)
	assert.True(t, snap.P90 >= snap.P50)
	assert.True(t, snap.Mean > 0)
}

func TestHistogram_UpdateSince(t *testing.T) {
	h := New()
	start := time.Now().Add(-5 * time.Millisecond)
	h.UpdateSince(start)
	assert.Equal(t, uint64(1), h.Count())
}

func TestHistogram_ConcurrentUpdates(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h.UpdateDuration(time.Duration(n) * time.Microsecond)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, uint64(50), h.Count())
}

func TestHistogram_EmptyMean(t *testing.T) {
	h := New()
	assert.Equal(t, time.Duration(0), h.Mean())
}
