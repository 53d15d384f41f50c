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
)

// Fetcher reduces the partition trackers of one feed to a single feed
// watermark. The reduction runs once per epoch so every partition sees
// the same value.
type Fetcher struct {
	feed     string
	trackers []*Tracker
}

// NewFetcher returns a fetcher over the given partition trackers.
func NewFetcher(feed string, trackers ...*Tracker) *Fetcher {
	return &Fetcher{feed: feed, trackers: trackers}
}

// GetName returns the feed name.
func (f *Fetcher) GetName() string {
	return f.feed
}

// GetWatermark returns the lowest watermark across all partition
// trackers of the feed.
func (f *Fetcher) GetWatermark() Watermark {
	var epoch int64 = math.MaxInt64
	for _, t := range f.trackers {
		if wm := t.Current().UnixMilli(); wm < epoch {
			epoch = wm
		}
	}
	if epoch == math.MaxInt64 {
		return InitialWatermark
	}
	return Watermark(time.UnixMilli(epoch))
}

// GetHeadWatermark returns the highest watermark across all partition
// trackers, used for reporting only.
func (f *Fetcher) GetHeadWatermark() Watermark {
	var epoch int64 = math.MinInt64
	for _, t := range f.trackers {
		if wm := t.Current().UnixMilli(); wm > epoch {
			epoch = wm
		}
	}
	if epoch == math.MinInt64 {
		return InitialWatermark
	}
	return Watermark(time.UnixMilli(epoch))
}
