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
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tripflow/tripflow/pkg/join"
	"github.com/tripflow/tripflow/pkg/watermark"
)

// ZoneState is the running aggregate of one zone.
type ZoneState struct {
	Zone      string    `json:"zone"`
	AvgFare   float64   `json:"avgFare"`
	RideCount int64     `json:"rideCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// applyTrip is the pure state update. It returns the next state and
// never mutates the old one, so replays and concurrent partitions
// cannot observe half-applied updates.
func applyTrip(old ZoneState, trip *join.Trip) ZoneState {
	n := old.RideCount
	updatedAt := trip.EventTime()
	if old.UpdatedAt.After(updatedAt) {
		updatedAt = old.UpdatedAt
	}
	return ZoneState{
		Zone:      trip.Zone(),
		AvgFare:   (old.AvgFare*float64(n) + trip.Fare.FareAmount) / float64(n+1),
		RideCount: n + 1,
		UpdatedAt: updatedAt,
	}
}

// Running keeps one state per zone across the unbounded stream and
// emits the updated state on every trip. Zones idle longer than the
// configured timeout, in event time, are dropped on watermark advance
// so the table cannot grow without bound.
type Running struct {
	pipelineName   string
	partitionLabel string
	idleTimeout    time.Duration

	// lock guards zones: Add and OnWatermark run on the owning
	// goroutine, Snapshot is served to the daemon from anywhere.
	lock  sync.RWMutex
	zones map[string]ZoneState
}

// NewRunning returns the running strategy for one partition.
// idleTimeout zero disables zone eviction.
func NewRunning(pipelineName string, partitionIdx int, idleTimeout time.Duration) *Running {
	return &Running{
		pipelineName:   pipelineName,
		partitionLabel: strconv.Itoa(partitionIdx),
		idleTimeout:    idleTimeout,
		zones:          make(map[string]ZoneState),
	}
}

// GetName returns the strategy name.
func (r *Running) GetName() string {
	return StrategyRunning
}

// Add applies one trip to its zone state and emits the updated state.
func (r *Running) Add(trip *join.Trip) []Row {
	r.lock.Lock()
	next := applyTrip(r.zones[trip.Zone()], trip)
	r.zones[trip.Zone()] = next
	r.lock.Unlock()
	rowsEmitted.WithLabelValues(r.pipelineName, r.partitionLabel, StrategyRunning).Inc()
	return []Row{{
		Kind:      ZoneRow,
		Zone:      next.Zone,
		RideCount: next.RideCount,
		AvgFare:   next.AvgFare,
		UpdatedAt: next.UpdatedAt,
	}}
}

// OnWatermark drops zones that have been idle longer than the timeout.
// It never emits rows: eviction is retention, not output.
func (r *Running) OnWatermark(wm watermark.Watermark) []Row {
	if r.idleTimeout == 0 {
		return nil
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	evicted := 0
	for zone, st := range r.zones {
		if wm.After(st.UpdatedAt.Add(r.idleTimeout)) {
			delete(r.zones, zone)
			evicted++
		}
	}
	if evicted > 0 {
		zonesEvicted.WithLabelValues(r.pipelineName, r.partitionLabel).Add(float64(evicted))
	}
	return nil
}

// Snapshot returns a copy of all zone states, sorted by zone name.
func (r *Running) Snapshot() []ZoneState {
	r.lock.RLock()
	defer r.lock.RUnlock()
	states := make([]ZoneState, 0, len(r.zones))
	for _, st := range r.zones {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Zone < states[j].Zone })
	return states
}

var _ Aggregator = (*Running)(nil)
