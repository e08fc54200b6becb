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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/lindb/taskpool/pkg/pool"
)

func TestCollector_RecordSubmittedAndRejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSubmitted()
	c.RecordSubmitted()
	c.RecordRejected("task_queue_at_limit")

	assert.InDelta(t, 2, testutil.ToFloat64(c.submitted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.rejected.WithLabelValues("task_queue_at_limit")), 0)
}

func TestCollector_ObserveTracksCompletedDelta(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Observe(pool.Stats{Completed: 3, Workers: 2})
	assert.InDelta(t, 3, testutil.ToFloat64(c.completed), 0)

	c.Observe(pool.Stats{Completed: 5, Workers: 2})
	assert.InDelta(t, 5, testutil.ToFloat64(c.completed), 0)
}

func TestCollector_SetHostStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetHostStats(42.5, 60.1)
	assert.InDelta(t, 42.5, testutil.ToFloat64(c.cpuPercent), 0.001)
	assert.InDelta(t, 60.1, testutil.ToFloat64(c.memPercent), 0.001)
}
