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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelVersion   = "version"
	LabelPlatform  = "platform"
	LabelPipeline  = "pipeline"
	LabelFeed      = "feed"
	LabelPartition = "partition"
	LabelSink      = "sink"
	LabelReason    = "reason"
	LabelStrategy  = "strategy"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A metric with a constant value '1', labeled by tripflow binary version and platform",
	}, []string{LabelVersion, LabelPlatform})
)

// Pipeline epoch metrics
var (
	// EpochProcessingTime observes the end to end processing time of one epoch
	EpochProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: "pipeline",
		Name:      "epoch_processing_time",
		Help:      "Processing times of one full epoch (100 microseconds to 20 minutes)",
		Buckets:   prometheus.ExponentialBucketsRange(100, 60000000*20, 10),
	}, []string{LabelPipeline})

	// ReadMessagesCount is used to indicate the number of total messages read from a feed
	ReadMessagesCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pipeline",
		Name:      "read_total",
		Help:      "Total number of Messages Read",
	}, []string{LabelPipeline, LabelFeed})

	// ReadBytesCount is to indicate the number of bytes read from a feed
	ReadBytesCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pipeline",
		Name:      "read_bytes_total",
		Help:      "Total number of bytes read",
	}, []string{LabelPipeline, LabelFeed})

	// ReadMessagesError is used to indicate the number of read errors per feed
	ReadMessagesError = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pipeline",
		Name:      "read_error_total",
		Help:      "Total number of Read Errors",
	}, []string{LabelPipeline, LabelFeed})

	// AckMessagesCount is used to indicate the number of messages acknowledged back to a feed
	AckMessagesCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pipeline",
		Name:      "ack_total",
		Help:      "Total number of Messages Acknowledged",
	}, []string{LabelPipeline, LabelFeed})

	// AckMessageError is used to indicate ack failures per feed
	AckMessageError = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pipeline",
		Name:      "ack_error_total",
		Help:      "Total number of Acknowledge Errors",
	}, []string{LabelPipeline, LabelFeed})

	// WatermarkDelay is the wall-clock lag of a feed watermark
	WatermarkDelay = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pipeline",
		Name:      "watermark_delay_seconds",
		Help:      "Seconds between now and the current feed watermark",
	}, []string{LabelPipeline, LabelFeed})

	// PendingMessages is the transport-reported backlog of a feed
	PendingMessages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pipeline",
		Name:      "pending_messages",
		Help:      "Total number of pending messages behind a feed consumer",
	}, []string{LabelPipeline, LabelFeed})
)
