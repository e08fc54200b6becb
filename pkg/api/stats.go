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

// Package api exposes the pool's admin HTTP surface: point-in-time stats
// and a liveness probe.
package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/lindb/common/pkg/http"

	"github.com/lindb/taskpool/pkg/pool"
)

var (
	StatsPath   = "/state/pool"
	HealthzPath = "/state/healthz"
)

var errNoWorkers = errors.New("api: pool has no live workers")

// statsView is the wire shape returned by StatsPath, translating internal
// time.Duration histogram fields to millisecond floats for easy charting.
type statsView struct {
	QueueSize   int     `json:"queueSize"`
	Completed   uint64  `json:"completed"`
	DurationMs  float64 `json:"durationMs"`
	Workers     int     `json:"workers"`
	MinThreads  int     `json:"minThreads"`
	MaxThreads  int     `json:"maxThreads"`
	Utilization float64 `json:"utilization"`
	WaitP50Ms   float64 `json:"waitP50Ms"`
	WaitP90Ms   float64 `json:"waitP90Ms"`
	WaitP99Ms   float64 `json:"waitP99Ms"`
	RunP50Ms    float64 `json:"runP50Ms"`
	RunP90Ms    float64 `json:"runP90Ms"`
	RunP99Ms    float64 `json:"runP99Ms"`
}

// StatsAPI exposes the scheduler's observability snapshot over HTTP.
type StatsAPI struct {
	scheduler pool.Scheduler
}

// NewStatsAPI creates a StatsAPI backed by scheduler.
func NewStatsAPI(scheduler pool.Scheduler) *StatsAPI {
	return &StatsAPI{scheduler: scheduler}
}

// Register adds the pool stats and health routes.
func (api *StatsAPI) Register(route gin.IRoutes) {
	route.GET(StatsPath, api.GetStats)
	route.GET(HealthzPath, api.Healthz)
}

// GetStats returns the scheduler's current Stats snapshot.
func (api *StatsAPI) GetStats(c *gin.Context) {
	s := api.scheduler.Stats()
	http.OK(c, statsView{
		QueueSize:   s.QueueSize,
		Completed:   s.Completed,
		DurationMs:  float64(s.Duration.Milliseconds()),
		Workers:     s.Workers,
		MinThreads:  s.MinThreads,
		MaxThreads:  s.MaxThreads,
		Utilization: s.Utilization,
		WaitP50Ms:   float64(s.Wait.P50.Milliseconds()),
		WaitP90Ms:   float64(s.Wait.P90.Milliseconds()),
		WaitP99Ms:   float64(s.Wait.P99.Milliseconds()),
		RunP50Ms:    float64(s.Run.P50.Milliseconds()),
		RunP90Ms:    float64(s.Run.P90.Milliseconds()),
		RunP99Ms:    float64(s.Run.P99.Milliseconds()),
	})
}

// Healthz reports liveness: at least one worker present.
func (api *StatsAPI) Healthz(c *gin.Context) {
	s := api.scheduler.Stats()
	if s.Workers == 0 {
		http.Error(c, errNoWorkers)
		return
	}
	http.OK(c, gin.H{"status": "ok"})
}
