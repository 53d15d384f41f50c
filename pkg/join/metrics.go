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

package join

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	metricspkg "github.com/tripflow/tripflow/pkg/metrics"
)

// tripsMatched is used to indicate the number of trips emitted
var tripsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "join",
	Name:      "matched_total",
	Help:      "Total number of trips emitted",
}, []string{metricspkg.LabelPipeline, metricspkg.LabelPartition})

// recordsDropped is used to indicate the number of records dropped without a match
var recordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "join",
	Name:      "dropped_total",
	Help:      "Total number of records dropped without a match, by reason",
}, []string{metricspkg.LabelPipeline, metricspkg.LabelPartition, metricspkg.LabelReason})

// duplicatesIgnored is used to indicate the number of duplicate arrivals ignored
var duplicatesIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "join",
	Name:      "duplicate_total",
	Help:      "Total number of duplicate arrivals ignored",
}, []string{metricspkg.LabelPipeline, metricspkg.LabelPartition})
