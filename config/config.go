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

// Package config holds the on-disk/env-overridable configuration for the
// taskpool daemon: the pool's autoscale band, the admin HTTP server, and
// the host-load sampling interval.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v7"

	"github.com/lindb/common/pkg/logger"
	"github.com/lindb/common/pkg/ltoml"

	"github.com/lindb/taskpool/pkg/options"
)

// PoolConfig mirrors options.Options as file/env configuration. MaxQueue
// is a string so "auto" and "unbounded" are expressible in TOML, resolved
// via ResolveQueueLimit.
type PoolConfig struct {
	ModuleName               string         `env:"MODULE_NAME" toml:"module-name"`
	MinThreads               int            `env:"MIN_THREADS" toml:"min-threads"`
	MaxThreads               int            `env:"MAX_THREADS" toml:"max-threads"`
	IdleTimeout              ltoml.Duration `env:"IDLE_TIMEOUT" toml:"idle-timeout"`
	MaxQueue                 string         `env:"MAX_QUEUE" toml:"max-queue"`
	ConcurrentTasksPerWorker int            `env:"CONCURRENT_TASKS_PER_WORKER" toml:"concurrent-tasks-per-worker"`
	UseAtomics               bool           `env:"USE_ATOMICS" toml:"use-atomics"`
}

// TOML returns PoolConfig's toml config string.
func (p *PoolConfig) TOML() string {
	return fmt.Sprintf(`
## Pool related configuration.
[pool]
## registered module name used when a submission does not name one.
## Default: %s
## Env: TASKPOOL_POOL_MODULE_NAME
module-name = "%s"
## lower bound of the autoscale band, workers are never destroyed below it.
## Default: %d
## Env: TASKPOOL_POOL_MIN_THREADS
min-threads = %d
## upper bound of the autoscale band; 0 selects 1.5x the CPU count.
## Default: %d
## Env: TASKPOOL_POOL_MAX_THREADS
max-threads = %d
## how long a worker with no in-flight tasks waits before being retired.
## Default: %s
## Env: TASKPOOL_POOL_IDLE_TIMEOUT
idle-timeout = "%s"
## "auto" (max-threads^2), "unbounded", or an explicit non-negative count.
## Default: %s
## Env: TASKPOOL_POOL_MAX_QUEUE
max-queue = "%s"
## number of tasks that may be in flight on a single worker at once; the
## worker runs its posted tasks one at a time, in posting order.
## Default: %d
## Env: TASKPOOL_POOL_CONCURRENT_TASKS_PER_WORKER
concurrent-tasks-per-worker = %d
## opportunistically drain every worker's responses on any wake signal,
## instead of only the signaling worker's.
## Default: %v
## Env: TASKPOOL_POOL_USE_ATOMICS
use-atomics = %v`,
		p.ModuleName, p.ModuleName,
		p.MinThreads, p.MinThreads,
		p.MaxThreads, p.MaxThreads,
		p.IdleTimeout.String(), p.IdleTimeout.String(),
		p.MaxQueue, p.MaxQueue,
		p.ConcurrentTasksPerWorker, p.ConcurrentTasksPerWorker,
		p.UseAtomics, p.UseAtomics,
	)
}

// ResolveQueueLimit translates MaxQueue's textual form into an
// options.QueueLimit.
func (p *PoolConfig) ResolveQueueLimit() (options.QueueLimit, error) {
	switch p.MaxQueue {
	case "", "auto":
		return options.AutoQueueLimit(), nil
	case "unbounded":
		return options.UnboundedQueueLimit(), nil
	default:
		var n int
		if _, err := fmt.Sscanf(p.MaxQueue, "%d", &n); err != nil {
			return options.QueueLimit{}, fmt.Errorf("config: invalid pool.max-queue %q: %w", p.MaxQueue, err)
		}
		return options.ExplicitQueueLimit(n), nil
	}
}

// ToOptions builds an options.Options from the normalized pool config.
func (p *PoolConfig) ToOptions() (options.Options, error) {
	limit, err := p.ResolveQueueLimit()
	if err != nil {
		return options.Options{}, err
	}
	minThreads := p.MinThreads
	var maxThreads *int
	if p.MaxThreads > 0 {
		n := p.MaxThreads
		maxThreads = &n
	}
	useAtomics := p.UseAtomics
	return options.Options{
		ModuleName:               p.ModuleName,
		MinThreads:               &minThreads,
		MaxThreads:               maxThreads,
		IdleTimeout:              time.Duration(p.IdleTimeout),
		MaxQueue:                 &limit,
		ConcurrentTasksPerWorker: p.ConcurrentTasksPerWorker,
		UseAtomics:               &useAtomics,
	}, nil
}

// ServerConfig is the admin HTTP server's listen address and timeouts.
type ServerConfig struct {
	Host         string         `env:"HOST" toml:"host"`
	Port         int            `env:"PORT" toml:"port"`
	ReadTimeout  ltoml.Duration `env:"READ_TIMEOUT" toml:"read-timeout"`
	WriteTimeout ltoml.Duration `env:"WRITE_TIMEOUT" toml:"write-timeout"`
}

// TOML returns ServerConfig's toml config string.
func (s *ServerConfig) TOML() string {
	return fmt.Sprintf(`
## Admin HTTP server related configuration.
[server]
## bind address for the stats/health/metrics endpoints.
## Default: %s
## Env: TASKPOOL_SERVER_HOST
host = "%s"
## bind port for the stats/health/metrics endpoints.
## Default: %d
## Env: TASKPOOL_SERVER_PORT
port = %d
## Default: %s
## Env: TASKPOOL_SERVER_READ_TIMEOUT
read-timeout = "%s"
## Default: %s
## Env: TASKPOOL_SERVER_WRITE_TIMEOUT
write-timeout = "%s"`,
		s.Host, s.Host,
		s.Port, s.Port,
		s.ReadTimeout.String(), s.ReadTimeout.String(),
		s.WriteTimeout.String(), s.WriteTimeout.String(),
	)
}

// Addr returns the host:port listen address.
func (s *ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Monitor configures the host CPU/memory sampler (pkg/sysmon).
type Monitor struct {
	ReportInterval ltoml.Duration `env:"REPORT_INTERVAL" toml:"report-interval"`
}

// TOML returns Monitor's toml config string.
func (m *Monitor) TOML() string {
	return fmt.Sprintf(`
## Host load monitor related configuration.
[monitor]
## monitor won't start when interval is set to 0.
## Default: %s
## Env: TASKPOOL_MONITOR_REPORT_INTERVAL
report-interval = "%s"`,
		m.ReportInterval.String(),
		m.ReportInterval.String(),
	)
}

// Config is the taskpool daemon's top-level configuration.
type Config struct {
	Pool    PoolConfig     `envPrefix:"POOL_" toml:"pool"`
	Server  ServerConfig   `envPrefix:"SERVER_" toml:"server"`
	Monitor Monitor        `envPrefix:"MONITOR_" toml:"monitor"`
	Logging logger.Setting `envPrefix:"LOGGING_" toml:"logging"`
}

// TOML returns Config's full toml config string.
func (c *Config) TOML() string {
	return fmt.Sprintf(`%s
%s
%s
%s`,
		c.Pool.TOML(),
		c.Server.TOML(),
		c.Monitor.TOML(),
		c.Logging.TOML("TASKPOOL"),
	)
}

// NewDefaultConfig returns a Config with every field defaulted.
func NewDefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			ModuleName:               "worker",
			MinThreads:               0,
			MaxThreads:               0,
			IdleTimeout:              ltoml.Duration(4 * time.Second),
			MaxQueue:                 "auto",
			ConcurrentTasksPerWorker: 1,
			UseAtomics:               true,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         9100,
			ReadTimeout:  ltoml.Duration(10 * time.Second),
			WriteTimeout: ltoml.Duration(10 * time.Second),
		},
		Monitor: Monitor{
			ReportInterval: ltoml.Duration(10 * time.Second),
		},
		Logging: *logger.NewDefaultSetting(),
	}
}

// Load reads path as TOML into a default Config, then overlays TASKPOOL_*
// environment variables on top.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "TASKPOOL_"}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}
