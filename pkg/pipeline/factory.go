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

package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tripflow/tripflow/pkg/config"
	"github.com/tripflow/tripflow/pkg/sinks"
	"github.com/tripflow/tripflow/pkg/sinks/blackhole"
	kafkasink "github.com/tripflow/tripflow/pkg/sinks/kafka"
	logsink "github.com/tripflow/tripflow/pkg/sinks/logger"
	pgsink "github.com/tripflow/tripflow/pkg/sinks/postgres"
	redissink "github.com/tripflow/tripflow/pkg/sinks/redis"
	"github.com/tripflow/tripflow/pkg/sources"
	"github.com/tripflow/tripflow/pkg/sources/generator"
	kafkasource "github.com/tripflow/tripflow/pkg/sources/kafka"
	natssource "github.com/tripflow/tripflow/pkg/sources/nats"
	"github.com/tripflow/tripflow/pkg/stream"
)

// buildSource returns the reader of one feed based on which source is
// set in its config.
func buildSource(ctx context.Context, pipelineName string, feed stream.Feed, cfg config.FeedConfig, logger *zap.SugaredLogger) (sources.Sourcer, error) {
	switch {
	case cfg.Kafka != nil:
		return kafkasource.NewKafkaSource(ctx, pipelineName, feed, cfg.Kafka, kafkasource.WithLogger(logger))
	case cfg.Nats != nil:
		return natssource.New(ctx, pipelineName, feed, cfg.Nats, natssource.WithLogger(logger))
	case cfg.Generator != nil:
		return generator.NewMemGen(ctx, pipelineName, feed, cfg.Generator, generator.WithLogger(logger))
	default:
		return nil, fmt.Errorf("invalid source spec for feed %q", feed.String())
	}
}

// buildSinker returns the writer based on which sink is set in the
// config.
func buildSinker(ctx context.Context, pipelineName string, cfg config.SinkConfig, logger *zap.SugaredLogger) (sinks.Sinker, error) {
	switch {
	case cfg.Postgres != nil:
		return pgsink.NewToPostgres(ctx, pipelineName, cfg.Postgres, pgsink.WithLogger(logger))
	case cfg.Kafka != nil:
		return kafkasink.NewToKafka(pipelineName, cfg.Kafka, kafkasink.WithLogger(logger))
	case cfg.Redis != nil:
		return redissink.NewRedisSink(pipelineName, cfg.Redis, redissink.WithLogger(logger))
	case cfg.Log != nil:
		return logsink.NewToLog(pipelineName, logsink.WithLogger(logger))
	case cfg.Blackhole != nil:
		return blackhole.NewBlackhole(ctx, pipelineName)
	}
	return nil, fmt.Errorf("invalid sink spec")
}
