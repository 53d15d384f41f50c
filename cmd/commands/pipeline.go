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

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tripflow/tripflow"
	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/daemon"
	metricspkg "github.com/tripflow/tripflow/pkg/metrics"
	"github.com/tripflow/tripflow/pkg/pipeline"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/shared/signals"
)

func NewPipelineCommand() *cobra.Command {

	var (
		configFile string
	)
	command := &cobra.Command{
		Use:   "pipeline",
		Short: "Start the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger().Named("pipeline")

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			ctx := logging.WithLogger(signals.SetupSignalHandler(), logger)
			return runPipeline(ctx, cfg)
		},
	}
	command.Flags().StringVar(&configFile, "config", "/etc/tripflow/pipeline.yaml", "Path to the pipeline configuration file")
	return command
}

func runPipeline(ctx context.Context, cfg *config.Config) error {
	log := logging.FromContext(ctx)
	v := tripflow.GetVersion()
	metricspkg.BuildInfo.WithLabelValues(v.Version, v.Platform).Set(1)
	log.Infow("Starting tripflow", "version", v.Version, "pipeline", cfg.PipelineName)

	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		return err
	}

	metricsOpts := metricspkg.NewMetricsOptions(ctx, []metricspkg.HealthChecker{p}, p.LagReaders())
	metricsOpts = append(metricsOpts, metricspkg.WithPort(cfg.Metrics.Port))
	ms := metricspkg.NewMetricsServer(cfg.PipelineName, metricsOpts...)
	if shutdown, err := ms.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server, error: %w", err)
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return daemon.NewServer(p, cfg.Daemon.Address).Run(gctx)
	})
	g.Go(func() error {
		stopped := p.Start()
		select {
		case <-gctx.Done():
			log.Info("SIGTERM, exiting...")
			p.Stop()
			<-stopped
		case <-stopped:
		}
		return p.Err()
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Exited...")
	return nil
}
