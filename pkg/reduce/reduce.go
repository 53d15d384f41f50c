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

// Package reduce aggregates joined trips per zone. Two interchangeable
// strategies exist: Windowed folds trips into tumbling window buckets
// finalized by the watermark, Running keeps one ever-updating state
// per zone and emits on every trip. The strategy is chosen at pipeline
// construction time.
package reduce

import (
	"fmt"
	"time"

	"github.com/tripflow/tripflow/pkg/join"
	"github.com/tripflow/tripflow/pkg/watermark"
)

// Kind marks what kind of aggregate a Row carries.
type Kind int16

const (
	// WindowRow is a finalized tumbling window aggregate.
	WindowRow Kind = 1 << iota
	// ZoneRow is a running per-zone state update.
	ZoneRow
)

func (k Kind) String() string {
	switch k {
	case WindowRow:
		return "window"
	case ZoneRow:
		return "zone"
	default:
		return "unknown"
	}
}

// Row is one aggregate output row handed to a sink. WindowStart,
// WindowEnd, TotalFare and TotalTip are set on window rows; AvgFare and
// UpdatedAt on zone rows.
type Row struct {
	Kind        Kind      `json:"kind"`
	WindowStart time.Time `json:"windowStart,omitempty"`
	WindowEnd   time.Time `json:"windowEnd,omitempty"`
	Zone        string    `json:"zone"`
	RideCount   int64     `json:"rideCount"`
	TotalFare   float64   `json:"totalFare,omitempty"`
	TotalTip    float64   `json:"totalTip,omitempty"`
	AvgFare     float64   `json:"avgFare,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// Aggregator is one aggregation strategy over joined trips of a key
// partition. Add and OnWatermark must be called from the partition's
// owning goroutine.
type Aggregator interface {
	GetName() string
	// Add folds one trip into the strategy state and returns the rows
	// it emits immediately, if any.
	Add(trip *join.Trip) []Row
	// OnWatermark finalizes whatever the watermark allows and returns
	// the emitted rows.
	OnWatermark(wm watermark.Watermark) []Row
}

// Strategy names accepted by New.
const (
	StrategyWindowed = "windowed"
	StrategyRunning  = "running"
)

// Options carries the strategy settings shared by all partitions.
type Options struct {
	// WindowLength is the tumbling window size of the windowed strategy.
	WindowLength time.Duration
	// ZoneIdleTimeout drops running zone states not updated for this
	// long, measured in event time. Zero disables eviction.
	ZoneIdleTimeout time.Duration
}

// New builds the aggregator of one partition for the named strategy.
func New(strategy string, pipelineName string, partitionIdx int, opts Options) (Aggregator, error) {
	switch strategy {
	case StrategyWindowed:
		if opts.WindowLength <= 0 {
			return nil, fmt.Errorf("windowed strategy requires a positive window length")
		}
		return NewWindowed(pipelineName, partitionIdx, opts.WindowLength), nil
	case StrategyRunning:
		return NewRunning(pipelineName, partitionIdx, opts.ZoneIdleTimeout), nil
	default:
		return nil, fmt.Errorf("unknown aggregator strategy %q", strategy)
	}
}
