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
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tripflow/tripflow/pkg/join"
	"github.com/tripflow/tripflow/pkg/watermark"
	"github.com/tripflow/tripflow/pkg/window"
)

// windowState is the accumulator of one (window, zone) bucket.
type windowState struct {
	rideCount int64
	totalFare float64
	totalTip  float64
}

// Windowed groups trips by (tumbling window of pickup time, pickup
// zone). A bucket is emitted and discarded exactly once, when the
// watermark passes its window end.
type Windowed struct {
	pipelineName   string
	partitionLabel string

	windower *window.Fixed
	// buckets maps active window -> zone -> accumulated sums.
	buckets map[window.ID]map[string]*windowState
}

// NewWindowed returns the windowed strategy for one partition.
func NewWindowed(pipelineName string, partitionIdx int, length time.Duration) *Windowed {
	return &Windowed{
		pipelineName:   pipelineName,
		partitionLabel: strconv.Itoa(partitionIdx),
		windower:       window.NewFixed(length),
		buckets:        make(map[window.ID]map[string]*windowState),
	}
}

// GetName returns the strategy name.
func (w *Windowed) GetName() string {
	return StrategyWindowed
}

// Add folds one trip into its (window, zone) bucket. Windowed emits
// nothing until the watermark closes a window.
func (w *Windowed) Add(trip *join.Trip) []Row {
	win := w.windower.AssignWindow(trip.EventTime())
	w.windower.InsertWindow(win)
	zones, ok := w.buckets[win]
	if !ok {
		zones = make(map[string]*windowState)
		w.buckets[win] = zones
	}
	st, ok := zones[trip.Zone()]
	if !ok {
		st = new(windowState)
		zones[trip.Zone()] = st
	}
	st.rideCount++
	st.totalFare += trip.Fare.FareAmount
	st.totalTip += trip.Fare.TipAmount
	return nil
}

// OnWatermark finalizes every window whose end the watermark has
// passed and returns their rows. Zones within one window are emitted
// in lexical order so output is stable.
func (w *Windowed) OnWatermark(wm watermark.Watermark) []Row {
	closed := w.windower.RemoveWindows(time.Time(wm))
	if len(closed) == 0 {
		return nil
	}
	var rows []Row
	for _, win := range closed {
		zones := w.buckets[win]
		delete(w.buckets, win)
		names := make([]string, 0, len(zones))
		for name := range zones {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := zones[name]
			rows = append(rows, Row{
				Kind:        WindowRow,
				WindowStart: win.Start,
				WindowEnd:   win.End,
				Zone:        name,
				RideCount:   st.rideCount,
				TotalFare:   st.totalFare,
				TotalTip:    st.totalTip,
			})
		}
		windowsClosed.WithLabelValues(w.pipelineName, w.partitionLabel).Inc()
	}
	rowsEmitted.WithLabelValues(w.pipelineName, w.partitionLabel, StrategyWindowed).Add(float64(len(rows)))
	return rows
}

// ActiveWindows returns how many windows are still open.
func (w *Windowed) ActiveWindows() int {
	return w.windower.Len()
}

var _ Aggregator = (*Windowed)(nil)

// String is used in debug logs.
func (w *Windowed) String() string {
	return fmt.Sprintf("windowed{partition=%s windows=%d}", w.partitionLabel, w.windower.Len())
}
