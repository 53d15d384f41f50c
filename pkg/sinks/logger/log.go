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

package logger

import (
	"context"
	"log"

	"go.uber.org/zap"

	metricspkg "github.com/tripflow/tripflow/pkg/metrics"
	"github.com/tripflow/tripflow/pkg/reduce"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/sinks"
)

// ToLog prints the output to a log sink.
type ToLog struct {
	name         string
	pipelineName string
	logger       *zap.SugaredLogger
}

type Option func(*ToLog) error

func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *ToLog) error {
		t.logger = log
		return nil
	}
}

// NewToLog returns ToLog type.
func NewToLog(pipelineName string, opts ...Option) (*ToLog, error) {
	toLog := &ToLog{
		name:         "log",
		pipelineName: pipelineName,
	}
	for _, o := range opts {
		if err := o(toLog); err != nil {
			return nil, err
		}
	}
	if toLog.logger == nil {
		toLog.logger = logging.NewLogger()
	}
	return toLog, nil
}

// GetName returns the name.
func (t *ToLog) GetName() string {
	return t.name
}

// Write writes to the log.
func (t *ToLog) Write(_ context.Context, rows []reduce.Row) []error {
	prefix := "(" + t.GetName() + ")"
	for _, row := range rows {
		logSinkWriteCount.With(map[string]string{metricspkg.LabelPipeline: t.pipelineName}).Inc()
		switch row.Kind {
		case reduce.WindowRow:
			log.Println(prefix, " Window - ", row.WindowStart.UnixMilli(), "-", row.WindowEnd.UnixMilli(),
				" Zone - ", row.Zone, " Rides - ", row.RideCount, " Fare - ", row.TotalFare, " Tip - ", row.TotalTip)
		default:
			log.Println(prefix, " Zone - ", row.Zone, " Rides - ", row.RideCount,
				" AvgFare - ", row.AvgFare, " UpdatedAt - ", row.UpdatedAt.UnixMilli())
		}
	}
	return make([]error, len(rows))
}

func (t *ToLog) Close() error {
	return nil
}

var _ sinks.Sinker = (*ToLog)(nil)
