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

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lindb/common/pkg/logger"
	"github.com/lindb/common/pkg/ltoml"

	"github.com/lindb/taskpool/config"
	"github.com/lindb/taskpool/internal/builtin"
	"github.com/lindb/taskpool/pkg/api"
	"github.com/lindb/taskpool/pkg/metrics"
	"github.com/lindb/taskpool/pkg/pool"
	"github.com/lindb/taskpool/pkg/sysmon"
	"github.com/lindb/taskpool/pkg/task"
)

const (
	cfgName        = "taskpool.toml"
	logFileName    = "taskpoold.log"
	defaultCfgFile = currentDir + cfgName
)

var cfgFile string

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool with its admin HTTP server",
	}
	serveCmd.AddCommand(runServeCmd, initConfigCmd)
	runServeCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file path, default is %s", defaultCfgFile))
	return serveCmd
}

var runServeCmd = &cobra.Command{
	Use:   "run",
	Short: "run the pool and block until terminated",
	RunE:  serve,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "create a new default config file",
	RunE: func(_ *cobra.Command, _ []string) error {
		path := cfgFile
		if path == "" {
			path = defaultCfgFile
		}
		if err := checkExistenceOf(path); err != nil {
			return err
		}
		return ltoml.WriteConfig(path, config.NewDefaultConfig().TOML())
	},
}

func serve(_ *cobra.Command, _ []string) error {
	ctx := newCtxWithSignals()

	path := cfgFile
	if path == "" {
		path = defaultCfgFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitLogger(cfg.Logging, logFileName); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	registry := task.NewRegistry()
	builtin.Register(registry)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	opts, err := cfg.Pool.ToOptions()
	if err != nil {
		return fmt.Errorf("resolve pool options: %w", err)
	}
	sink := &metricsEventSink{collector: collector}
	p, err := pool.New(opts, registry, sink)
	if err != nil {
		return fmt.Errorf("start pool: %w", err)
	}
	defer func() { _ = p.Destroy(context.Background()) }()

	monCtx, cancelMon := context.WithCancel(ctx)
	defer cancelMon()
	if cfg.Monitor.ReportInterval > 0 {
		hostCollector := sysmon.NewCollector(monCtx, time.Duration(cfg.Monitor.ReportInterval), collector)
		go hostCollector.Run()
		go reportStatsLoop(monCtx, p, collector, time.Duration(cfg.Monitor.ReportInterval))
	}

	router := gin.New()
	router.Use(gin.Recovery(), cors.Default())
	api.NewStatsAPI(p).Register(router.Group("/"))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// metricsEventSink bridges pool.Pool's submit/drain/error events onto the
// collector; drains carry no metric of their own.
type metricsEventSink struct {
	collector *metrics.Collector
}

func (s *metricsEventSink) OnSubmit() { s.collector.RecordSubmitted() }

func (s *metricsEventSink) OnDrain() {}

func (s *metricsEventSink) OnError(error) {
	s.collector.RecordRejected("worker_failure")
}

func reportStatsLoop(ctx context.Context, p *pool.Pool, collector *metrics.Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.Observe(p.Stats())
		}
	}
}
