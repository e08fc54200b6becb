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

package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }
func boolp(b bool) *bool { return &b }

func TestNormalize_Defaults(t *testing.T) {
	n, err := Normalize(Options{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n.MinThreads, 1)
	assert.GreaterOrEqual(t, n.MaxThreads, n.MinThreads)
	assert.Equal(t, 1, n.ConcurrentTasksPerWorker)
	assert.True(t, n.UseAtomics)
	assert.Equal(t, n.MaxThreads*n.MaxThreads, n.MaxQueue)
}

func TestNormalize_MinExceedsMaxRejected(t *testing.T) {
	_, err := Normalize(Options{MinThreads: intp(8), MaxThreads: intp(2)})
	assert.Error(t, err)
}

func TestNormalize_NegativeMinRejected(t *testing.T) {
	_, err := Normalize(Options{MinThreads: intp(-1)})
	assert.Error(t, err)
}

func TestNormalize_MaxThreadsZeroRejected(t *testing.T) {
	_, err := Normalize(Options{MaxThreads: intp(0)})
	assert.Error(t, err)
}

func TestNormalize_MaxQueueAuto(t *testing.T) {
	lim := AutoQueueLimit()
	n, err := Normalize(Options{MaxThreads: intp(4), MaxQueue: &lim})
	require.NoError(t, err)
	assert.Equal(t, 16, n.MaxQueue)
}

func TestNormalize_MaxQueueZeroRejectsRatherThanQueue(t *testing.T) {
	lim := ExplicitQueueLimit(0)
	n, err := Normalize(Options{MaxThreads: intp(2), MaxQueue: &lim})
	require.NoError(t, err)
	assert.Equal(t, 0, n.MaxQueue)
	assert.True(t, lim.IsZero())
}

func TestNormalize_MaxQueueUnbounded(t *testing.T) {
	lim := UnboundedQueueLimit()
	n, err := Normalize(Options{MaxThreads: intp(4), MaxQueue: &lim})
	require.NoError(t, err)
	assert.Greater(t, n.MaxQueue, 1<<20)
}

func TestNormalize_UseAtomicsDisabled(t *testing.T) {
	n, err := Normalize(Options{UseAtomics: boolp(false)})
	require.NoError(t, err)
	assert.False(t, n.UseAtomics)
}

func TestNormalize_NegativeIdleTimeoutRejected(t *testing.T) {
	_, err := Normalize(Options{IdleTimeout: -1})
	assert.Error(t, err)
}
