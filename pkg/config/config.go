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

// Package config holds the pipeline configuration. It is read once at
// startup and never reloaded, so a bad file fails fast instead of
// flipping behavior mid-stream.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StrategyWindowed = "windowed"
	StrategyRunning  = "running"
)

// Config is the full pipeline configuration.
type Config struct {
	// PipelineName labels logs and metrics of this deployment.
	PipelineName string `json:"pipelineName"`
	// Partitions is the number of join/reduce partitions. Records are
	// routed by key hash, so this fixes the parallelism of the
	// stateful stages.
	Partitions int `json:"partitions"`
	// BatchSize is the max number of messages read from a feed per
	// epoch.
	BatchSize int `json:"batchSize"`
	// ZonesFile points at the GeoJSON neighborhood polygons.
	ZonesFile string `json:"zonesFile"`

	Rides   FeedConfig    `json:"rides"`
	Fares   FeedConfig    `json:"fares"`
	Reduce  ReduceConfig  `json:"reduce"`
	Sink    SinkConfig    `json:"sink"`
	Retry   RetryConfig   `json:"retry"`
	Daemon  DaemonConfig  `json:"daemon"`
	Metrics MetricsConfig `json:"metrics"`
}

// FeedConfig describes one input feed. Exactly one source must be set.
type FeedConfig struct {
	// Lateness is the watermark allowance for this feed. Records
	// older than max event time minus lateness are considered late.
	Lateness  time.Duration    `json:"lateness"`
	Kafka     *KafkaSource     `json:"kafka,omitempty"`
	Nats      *NatsSource      `json:"nats,omitempty"`
	Generator *GeneratorSource `json:"generator,omitempty"`
}

type KafkaSource struct {
	Brokers       []string `json:"brokers"`
	Topic         string   `json:"topic"`
	ConsumerGroup string   `json:"consumerGroup"`
	// Config is raw sarama YAML overriding the client defaults.
	Config string `json:"config,omitempty"`
}

type NatsSource struct {
	// URL to connect to NATS cluster, multiple urls could be separated by comma.
	URL string `json:"url"`
	// Subject holds the name of the subject onto which messages are published.
	Subject string `json:"subject"`
	// Queue is used for queue subscription.
	Queue string `json:"queue"`
}

type GeneratorSource struct {
	// RPU is the number of ride/fare pairs emitted per tick.
	RPU int64 `json:"rpu"`
	// Duration is the tick interval.
	Duration time.Duration `json:"duration"`
}

// ReduceConfig selects and parameterizes the aggregation strategy.
type ReduceConfig struct {
	Strategy     string        `json:"strategy"`
	WindowLength time.Duration `json:"windowLength"`
	// ZoneIdleTimeout drops running-strategy zones not updated for
	// this long in event time. Zero keeps zones forever.
	ZoneIdleTimeout time.Duration `json:"zoneIdleTimeout"`
}

// SinkConfig describes the output destination. Exactly one must be set.
type SinkConfig struct {
	Postgres  *PostgresSink  `json:"postgres,omitempty"`
	Kafka     *KafkaSink     `json:"kafka,omitempty"`
	Redis     *RedisSink     `json:"redis,omitempty"`
	Log       *LogSink       `json:"log,omitempty"`
	Blackhole *BlackholeSink `json:"blackhole,omitempty"`
}

type PostgresSink struct {
	URL string `json:"url"`
	// Table defaults to trip_aggregates.
	Table string `json:"table"`
}

type KafkaSink struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type RedisSink struct {
	Addr string `json:"addr"`
	// KeyPrefix defaults to the pipeline name.
	KeyPrefix string `json:"keyPrefix"`
}

type LogSink struct{}

type BlackholeSink struct{}

// RetryConfig bounds sink write retries.
type RetryConfig struct {
	// Steps is the max number of attempts per write, including the
	// first one.
	Steps int `json:"steps"`
	// Interval is the initial backoff, doubled per attempt.
	Interval time.Duration `json:"interval"`
}

type DaemonConfig struct {
	// Address the daemon HTTP server listens on.
	Address string `json:"address"`
}

type MetricsConfig struct {
	// Port the prometheus and health server listens on.
	Port int `json:"port"`
}

// Load reads the configuration file at path, applies TRIPFLOW_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRIPFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration file. %w", err)
	}
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipelineName", "tripflow")
	v.SetDefault("partitions", 4)
	v.SetDefault("batchSize", 500)
	v.SetDefault("rides.lateness", 90*time.Second)
	v.SetDefault("fares.lateness", 90*time.Second)
	v.SetDefault("reduce.strategy", StrategyWindowed)
	v.SetDefault("reduce.windowLength", 2*time.Minute)
	v.SetDefault("reduce.zoneIdleTimeout", 24*time.Hour)
	v.SetDefault("retry.steps", 5)
	v.SetDefault("retry.interval", 100*time.Millisecond)
	v.SetDefault("daemon.address", ":2470")
	v.SetDefault("metrics.port", 2469)
}

// Validate returns the first problem that would make the pipeline
// misbehave at runtime. It is called before any processing starts.
func (c *Config) Validate() error {
	if c.PipelineName == "" {
		return fmt.Errorf("pipelineName must not be empty")
	}
	if c.Partitions < 1 {
		return fmt.Errorf("partitions must be at least 1, got %d", c.Partitions)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batchSize must be at least 1, got %d", c.BatchSize)
	}
	if c.ZonesFile == "" {
		return fmt.Errorf("zonesFile must point at a GeoJSON file")
	}
	if err := c.Rides.validate(); err != nil {
		return fmt.Errorf("invalid rides feed: %w", err)
	}
	if err := c.Fares.validate(); err != nil {
		return fmt.Errorf("invalid fares feed: %w", err)
	}
	switch c.Reduce.Strategy {
	case StrategyWindowed:
		if c.Reduce.WindowLength <= 0 {
			return fmt.Errorf("reduce.windowLength must be positive for the windowed strategy")
		}
	case StrategyRunning:
		if c.Reduce.ZoneIdleTimeout < 0 {
			return fmt.Errorf("reduce.zoneIdleTimeout must not be negative")
		}
	default:
		return fmt.Errorf("unknown reduce.strategy %q", c.Reduce.Strategy)
	}
	if err := c.Sink.validate(); err != nil {
		return fmt.Errorf("invalid sink: %w", err)
	}
	if c.Retry.Steps < 1 {
		return fmt.Errorf("retry.steps must be at least 1, got %d", c.Retry.Steps)
	}
	if c.Retry.Interval <= 0 {
		return fmt.Errorf("retry.interval must be positive")
	}
	if c.Daemon.Address == "" {
		return fmt.Errorf("daemon.address must not be empty")
	}
	if c.Metrics.Port < 1 {
		return fmt.Errorf("metrics.port must be positive, got %d", c.Metrics.Port)
	}
	return nil
}

func (f FeedConfig) validate() error {
	if f.Lateness < 0 {
		return fmt.Errorf("lateness must not be negative")
	}
	sources := 0
	if f.Kafka != nil {
		sources++
		if len(f.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka source needs at least one broker")
		}
		if f.Kafka.Topic == "" {
			return fmt.Errorf("kafka source needs a topic")
		}
		if f.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka source needs a consumer group")
		}
	}
	if f.Nats != nil {
		sources++
		if f.Nats.URL == "" || f.Nats.Subject == "" {
			return fmt.Errorf("nats source needs a url and a subject")
		}
	}
	if f.Generator != nil {
		sources++
		if f.Generator.RPU < 1 || f.Generator.Duration <= 0 {
			return fmt.Errorf("generator source needs a positive rpu and duration")
		}
	}
	if sources != 1 {
		return fmt.Errorf("exactly one source must be configured, got %d", sources)
	}
	return nil
}

func (s SinkConfig) validate() error {
	sinks := 0
	if s.Postgres != nil {
		sinks++
		if s.Postgres.URL == "" {
			return fmt.Errorf("postgres sink needs a connection url")
		}
	}
	if s.Kafka != nil {
		sinks++
		if len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
			return fmt.Errorf("kafka sink needs brokers and a topic")
		}
	}
	if s.Redis != nil {
		sinks++
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis sink needs an address")
		}
	}
	if s.Log != nil {
		sinks++
	}
	if s.Blackhole != nil {
		sinks++
	}
	if sinks != 1 {
		return fmt.Errorf("exactly one sink must be configured, got %d", sinks)
	}
	return nil
}
