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

// Package watermark bounds how long the join and window stages wait for
// late records. Each feed partition tracks its own max event time; the
// feed watermark is the minimum across partitions, computed once per
// epoch and passed down to the stages that evict on it.
package watermark

import "time"

// Watermark is the monotonically increasing event-time lower bound: no
// record with an earlier event time is expected once it is published.
type Watermark time.Time

// InitialWatermark is the watermark before any event was observed.
var InitialWatermark = Watermark(time.UnixMilli(-1))

func (w Watermark) String() string {
	var location, _ = time.LoadLocation("UTC")
	var t = time.Time(w).In(location)
	return t.Format(time.RFC3339Nano)
}

func (w Watermark) UnixMilli() int64 {
	return time.Time(w).UnixMilli()
}

func (w Watermark) After(t time.Time) bool {
	return time.Time(w).After(t)
}

func (w Watermark) AfterWatermark(compare Watermark) bool {
	return w.After(time.Time(compare))
}

func (w Watermark) Before(t time.Time) bool {
	return time.Time(w).Before(t)
}

func (w Watermark) BeforeWatermark(compare Watermark) bool {
	return w.Before(time.Time(compare))
}

func (w Watermark) Add(t time.Duration) time.Time {
	return time.Time(w).Add(t)
}

// Min returns the earlier of two watermarks.
func Min(a, b Watermark) Watermark {
	if a.BeforeWatermark(b) {
		return a
	}
	return b
}
