/*
Copyright 2022 The Tripflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/shared/util"
	"github.com/tripflow/tripflow/pkg/stream"
)

// DefaultPort is the port the metrics server listens on unless
// overridden with an option.
const DefaultPort = 2469

// metricsServer runs an HTTP server to:
// 1. Expose metrics;
// 2. Serve an endpoint to execute health checks
type metricsServer struct {
	pipelineName string
	port         int
	lagReaders   map[string]stream.LagReader
	// refreshInterval is how often pending information is refreshed
	refreshInterval time.Duration
	// Functions that health check executes
	healthCheckExecutors []func() error
}

type Option func(*metricsServer)

// WithPort overrides the listen port
func WithPort(port int) Option {
	return func(m *metricsServer) {
		m.port = port
	}
}

// WithLagReaders sets the lag readers
func WithLagReaders(r map[string]stream.LagReader) Option {
	return func(m *metricsServer) {
		m.lagReaders = r
	}
}

// WithRefreshInterval sets how often to refresh the pending information
func WithRefreshInterval(d time.Duration) Option {
	return func(m *metricsServer) {
		m.refreshInterval = d
	}
}

// WithHealthCheckExecutor appends a health check executor
func WithHealthCheckExecutor(f func() error) Option {
	return func(m *metricsServer) {
		m.healthCheckExecutors = append(m.healthCheckExecutors, f)
	}
}

// NewMetricsOptions returns a metrics server option list for the given
// health checkers and lag readers.
func NewMetricsOptions(ctx context.Context, healthCheckers []HealthChecker, readers []stream.LagReader) []Option {
	var metricsOpts []Option
	if util.LookupEnvStringOr("TRIPFLOW_HEALTHCHECK_DISABLED", "false") != "true" {
		for _, hc := range healthCheckers {
			hc := hc
			metricsOpts = append(metricsOpts, WithHealthCheckExecutor(func() error {
				cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				return hc.IsHealthy(cctx)
			}))
		}
	}
	lagReaders := make(map[string]stream.LagReader)
	for _, reader := range readers {
		lagReaders[reader.GetName()] = reader
	}
	if len(lagReaders) > 0 {
		metricsOpts = append(metricsOpts, WithLagReaders(lagReaders))
	}
	return metricsOpts
}

// NewMetricsServer returns a Prometheus metrics server instance, which can
// be used to start an HTTP service to expose Prometheus metrics.
func NewMetricsServer(pipelineName string, opts ...Option) *metricsServer {
	m := new(metricsServer)
	m.pipelineName = pipelineName
	m.port = DefaultPort
	m.refreshInterval = 5 * time.Second // Default refresh interval
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// exposePendingMetrics refreshes the pending gauge for each feed until the
// context is cancelled.
func (ms *metricsServer) exposePendingMetrics(ctx context.Context) {
	log := logging.FromContext(ctx)
	ticker := time.NewTicker(ms.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for name, reader := range ms.lagReaders {
				if pending, err := reader.Pending(ctx); err != nil {
					log.Debugw("Failed to get pending messages", zap.String(LabelFeed, name), zap.Error(err))
				} else if pending != stream.PendingNotAvailable {
					PendingMessages.WithLabelValues(ms.pipelineName, name).Set(float64(pending))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Start function starts the HTTP service to expose metrics, it returns a shutdown function and an error if any
func (ms *metricsServer) Start(ctx context.Context) (func(ctx context.Context) error, error) {
	log := logging.FromContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, ex := range ms.healthCheckExecutors {
			if err := ex(); err != nil {
				log.Errorw("Failed to execute health check", zap.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	pprofEnabled := os.Getenv("TRIPFLOW_DEBUG") == "true" || os.Getenv("TRIPFLOW_PPROF") == "true"
	if pprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		log.Info("Not enabling pprof debug endpoints")
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", ms.port),
		Handler: mux,
	}

	if len(ms.lagReaders) > 0 {
		go ms.exposePendingMetrics(ctx)
	}

	go func() {
		log.Info("Starting metrics HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Failed to listen-and-serve on HTTP", zap.Error(err))
		}
		log.Info("Metrics server shutdown")
	}()
	return httpServer.Shutdown, nil
}
