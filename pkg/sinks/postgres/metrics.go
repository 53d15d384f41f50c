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

package postgres

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	metricspkg "github.com/tripflow/tripflow/pkg/metrics"
)

// postgresSinkWriteCount is used to indicate the number of rows written to postgres
var postgresSinkWriteCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "postgres_sink",
	Name:      "write_total",
	Help:      "Total number of rows written to the postgres sink",
}, []string{metricspkg.LabelPipeline})

// postgresSinkWriteErrors is used to indicate the number of errors while writing to postgres
var postgresSinkWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "postgres_sink",
	Name:      "write_error_total",
	Help:      "Total number of write errors",
}, []string{metricspkg.LabelPipeline})
