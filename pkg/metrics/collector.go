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

// Package metrics bridges the scheduler's internal counters and
// histograms, plus host load samples, onto Prometheus collectors exposed
// at /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lindb/taskpool/pkg/pool"
)

// Collector holds every Prometheus metric the pool and the host sampler
// report. Rejections are split by kind so alerting can distinguish a
// saturated queue from a worker-less pool.
type Collector struct {
	submitted prometheus.Counter
	rejected  *prometheus.CounterVec
	completed prometheus.Counter

	queueSize  prometheus.Gauge
	workers    prometheus.Gauge
	minThreads prometheus.Gauge
	maxThreads prometheus.Gauge

	waitSeconds prometheus.Histogram
	runSeconds  prometheus.Histogram

	cpuPercent prometheus.Gauge
	memPercent prometheus.Gauge

	// completedMu guards lastCompleted, the last Stats.Completed value
	// Observe converted into a counter delta. prometheus.Counter exposes
	// no Get, so the running total is tracked here instead.
	completedMu   sync.Mutex
	lastCompleted uint64
}

// NewCollector builds a Collector and registers every metric with reg.
// Passing prometheus.NewRegistry() keeps tests isolated from the global
// default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskpool_submitted_total",
			Help: "Total number of tasks submitted to the pool.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpool_rejected_total",
			Help: "Total number of tasks rejected at admission, by reason.",
		}, []string{"kind"}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskpool_completed_total",
			Help: "Total number of tasks that ran to completion, successfully or not.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpool_queue_size",
			Help: "Current number of tasks waiting for a worker.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpool_workers",
			Help: "Current number of live workers, ready or pending.",
		}),
		minThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpool_min_threads",
			Help: "Configured lower bound of the autoscale band.",
		}),
		maxThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpool_max_threads",
			Help: "Configured upper bound of the autoscale band.",
		}),
		waitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskpool_wait_seconds",
			Help:    "Time a task spent queued before dispatch.",
			Buckets: prometheus.DefBuckets,
		}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskpool_run_seconds",
			Help:    "Time a task spent executing on a worker.",
			Buckets: prometheus.DefBuckets,
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpool_host_cpu_percent",
			Help: "Host CPU utilization percent, sampled by sysmon.",
		}),
		memPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskpool_host_memory_percent",
			Help: "Host memory utilization percent, sampled by sysmon.",
		}),
	}

	reg.MustRegister(
		c.submitted, c.rejected, c.completed,
		c.queueSize, c.workers, c.minThreads, c.maxThreads,
		c.waitSeconds, c.runSeconds,
		c.cpuPercent, c.memPercent,
	)
	return c
}

// RecordSubmitted increments the submission counter.
func (c *Collector) RecordSubmitted() { c.submitted.Inc() }

// RecordRejected increments the rejection counter for the given error
// kind (see perrors.Kind.String).
func (c *Collector) RecordRejected(kind string) { c.rejected.WithLabelValues(kind).Inc() }

// Observe snapshots s onto the gauges and histograms. Histograms are
// cumulative in Prometheus, so only the latest sample's percentiles are
// representative; callers that want the running distribution should rely
// on Prometheus's own bucket aggregation rather than s.Wait/s.Run.
func (c *Collector) Observe(s pool.Stats) {
	c.queueSize.Set(float64(s.QueueSize))
	c.workers.Set(float64(s.Workers))
	c.minThreads.Set(float64(s.MinThreads))
	c.maxThreads.Set(float64(s.MaxThreads))

	c.completedMu.Lock()
	delta := s.Completed - c.lastCompleted
	c.lastCompleted = s.Completed
	c.completedMu.Unlock()
	if delta > 0 {
		c.completed.Add(float64(delta))
	}

	if s.Wait.Count > 0 {
		c.waitSeconds.Observe(s.Wait.Mean.Seconds())
	}
	if s.Run.Count > 0 {
		c.runSeconds.Observe(s.Run.Mean.Seconds())
	}
}

// SetHostStats records the latest CPU and memory utilization samples.
func (c *Collector) SetHostStats(cpuPercent, memPercent float64) {
	c.cpuPercent.Set(cpuPercent)
	c.memPercent.Set(memPercent)
}

// CPUPercentGauge exposes the host CPU gauge so callers in other packages
// can assert on it in tests via testutil.ToFloat64.
func (c *Collector) CPUPercentGauge() prometheus.Gauge { return c.cpuPercent }
