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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	metricspkg "github.com/tripflow/tripflow/pkg/metrics"
)

var (
	// decodeErrorsCount counts malformed records dropped per feed,
	// partitioned by the decode failure reason
	decodeErrorsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pipeline",
		Name:      "decode_error_total",
		Help:      "Total number of malformed records dropped at decode",
	}, []string{metricspkg.LabelPipeline, metricspkg.LabelFeed, metricspkg.LabelReason})

	// rowsWrittenCount counts aggregate rows successfully written to the sink
	rowsWrittenCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pipeline",
		Name:      "rows_written_total",
		Help:      "Total number of aggregate rows written to the sink",
	}, []string{metricspkg.LabelPipeline, metricspkg.LabelSink})

	// sinkRetriesCount counts sink write attempts that had to be retried
	sinkRetriesCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "pipeline",
		Name:      "sink_retry_total",
		Help:      "Total number of retried sink writes",
	}, []string{metricspkg.LabelPipeline, metricspkg.LabelSink})
)
