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

package blackhole

import (
	"context"

	"go.uber.org/zap"

	metricspkg "github.com/tripflow/tripflow/pkg/metrics"
	"github.com/tripflow/tripflow/pkg/reduce"
	"github.com/tripflow/tripflow/pkg/shared/logging"
	"github.com/tripflow/tripflow/pkg/sinks"
)

// Blackhole is a sink to emulate /dev/null, used to benchmark the
// stages upstream of the write path.
type Blackhole struct {
	name         string
	pipelineName string
	logger       *zap.SugaredLogger
}

// NewBlackhole returns a new Blackhole sink.
func NewBlackhole(ctx context.Context, pipelineName string) (*Blackhole, error) {
	return &Blackhole{
		name:         "blackhole",
		pipelineName: pipelineName,
		logger:       logging.FromContext(ctx),
	}, nil
}

// GetName returns the name.
func (b *Blackhole) GetName() string {
	return b.name
}

// Write writes to the blackhole.
func (b *Blackhole) Write(_ context.Context, rows []reduce.Row) []error {
	sinkWriteCount.With(map[string]string{metricspkg.LabelPipeline: b.pipelineName}).Add(float64(len(rows)))

	return make([]error, len(rows))
}

func (b *Blackhole) Close() error {
	return nil
}

var _ sinks.Sinker = (*Blackhole)(nil)
