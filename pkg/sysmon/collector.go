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

// Package sysmon periodically samples host CPU and memory utilization and
// reports them onto the pool's metrics collector, giving operators a
// signal for "the host, not just the pool, is saturated."
package sysmon

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/lindb/common/pkg/logger"

	"github.com/lindb/taskpool/pkg/metrics"
)

// GetCPUPercent returns the host's overall CPU utilization percent since
// the previous call (no blocking sample window). Exposed as a package func
// so it can be substituted in Collector.CPUStatGetter.
func GetCPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// Collector samples host load on a fixed interval until its context is
// canceled. CPUStatGetter and MemoryStatGetter are overridable for
// testing failure paths without touching the real host.
type Collector struct {
	ctx      context.Context
	interval time.Duration
	metrics  *metrics.Collector
	logger   logger.Logger

	CPUStatGetter    func() (float64, error)
	MemoryStatGetter func() (*mem.VirtualMemoryStat, error)
}

// NewCollector creates a Collector that reports onto m every interval
// until ctx is done.
func NewCollector(ctx context.Context, interval time.Duration, m *metrics.Collector) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		ctx:              ctx,
		interval:         interval,
		metrics:          m,
		logger:           logger.GetLogger("Sysmon", "Collector"),
		CPUStatGetter:    GetCPUPercent,
		MemoryStatGetter: mem.VirtualMemory,
	}
}

// Run blocks, sampling on each tick until the collector's context is
// done.
func (c *Collector) Run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	cpuPercent, err := c.CPUStatGetter()
	if err != nil {
		c.logger.Error("collect cpu stat", logger.Error(err))
		return
	}
	memStat, err := c.MemoryStatGetter()
	if err != nil {
		c.logger.Error("collect memory stat", logger.Error(err))
		return
	}
	c.metrics.SetHostStats(cpuPercent, memStat.UsedPercent)
}
