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

package watermark

import (
	"math"
	"time"

	"go.uber.org/atomic"
)

// Tracker keeps the max observed event time of one feed partition and
// derives the partition watermark as max seen minus the lateness
// allowance. Safe for concurrent use.
type Tracker struct {
	name     string
	lateness time.Duration
	// maxSeen is the max observed event time in unix millis,
	// math.MinInt64 until the first observation.
	maxSeen *atomic.Int64
}

// NewTracker returns a tracker for one feed partition.
func NewTracker(name string, lateness time.Duration) *Tracker {
	return &Tracker{
		name:     name,
		lateness: lateness,
		maxSeen:  atomic.NewInt64(math.MinInt64),
	}
}

// GetName returns the name of the tracked partition.
func (t *Tracker) GetName() string {
	return t.name
}

// Observe records one event time. Out-of-order event times never move
// the tracker backwards.
func (t *Tracker) Observe(eventTime time.Time) {
	ms := eventTime.UnixMilli()
	for {
		cur := t.maxSeen.Load()
		if ms <= cur {
			return
		}
		if t.maxSeen.CompareAndSwap(cur, ms) {
			return
		}
	}
}

// Current returns the partition watermark, InitialWatermark until the
// first observation.
func (t *Tracker) Current() Watermark {
	cur := t.maxSeen.Load()
	if cur == math.MinInt64 {
		return InitialWatermark
	}
	return Watermark(time.UnixMilli(cur).Add(-t.lateness))
}
