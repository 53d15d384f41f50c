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

package reduce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	metricspkg "github.com/tripflow/tripflow/pkg/metrics"
)

// windowsClosed is used to indicate the number of windows finalized by the watermark
var windowsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "windows_closed_total",
	Help:      "Total number of windows finalized",
}, []string{metricspkg.LabelPipeline, metricspkg.LabelPartition})

// rowsEmitted is used to indicate the number of aggregate rows emitted
var rowsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "rows_emitted_total",
	Help:      "Total number of aggregate rows emitted",
}, []string{metricspkg.LabelPipeline, metricspkg.LabelPartition, metricspkg.LabelStrategy})

// zonesEvicted is used to indicate the number of idle zone states dropped
var zonesEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "reduce",
	Name:      "zones_evicted_total",
	Help:      "Total number of idle zone states dropped",
}, []string{metricspkg.LabelPipeline, metricspkg.LabelPartition})
