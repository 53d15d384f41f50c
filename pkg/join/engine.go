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

// Package join correlates the ride and fare feeds into trips. Records
// are buffered per side until the counterpart arrives; the joint
// watermark evicts records that can no longer match.
package join

import (
	"fmt"
	"strconv"

	"go.uber.org/atomic"

	"github.com/tripflow/tripflow/pkg/decode"
	"github.com/tripflow/tripflow/pkg/watermark"
)

// Engine matches ride and fare records of one key partition. Offer and
// Advance must be called from the partition's owning goroutine; Stats
// may be read from anywhere.
type Engine struct {
	pipelineName   string
	partitionIdx   int
	partitionLabel string

	rides   map[TripKey]Ride
	fares   map[TripKey]decode.FareEvent
	matched map[TripKey]struct{}
	lastWM  watermark.Watermark

	bufferedRides  *atomic.Int64
	bufferedFares  *atomic.Int64
	matchedTotal   *atomic.Int64
	droppedTotal   *atomic.Int64
	duplicateTotal *atomic.Int64
}

// Stats is a point-in-time view of one engine partition.
type Stats struct {
	BufferedRides  int64 `json:"bufferedRides"`
	BufferedFares  int64 `json:"bufferedFares"`
	MatchedTotal   int64 `json:"matchedTotal"`
	DroppedTotal   int64 `json:"droppedTotal"`
	DuplicateTotal int64 `json:"duplicateTotal"`
}

// NewEngine returns an empty engine for one key partition.
func NewEngine(pipelineName string, partitionIdx int) *Engine {
	return &Engine{
		pipelineName:   pipelineName,
		partitionIdx:   partitionIdx,
		partitionLabel: strconv.Itoa(partitionIdx),
		rides:          make(map[TripKey]Ride),
		fares:          make(map[TripKey]decode.FareEvent),
		matched:        make(map[TripKey]struct{}),
		lastWM:         watermark.InitialWatermark,
		bufferedRides:  atomic.NewInt64(0),
		bufferedFares:  atomic.NewInt64(0),
		matchedTotal:   atomic.NewInt64(0),
		droppedTotal:   atomic.NewInt64(0),
		duplicateTotal: atomic.NewInt64(0),
	}
}

// GetName returns the name of the engine partition.
func (e *Engine) GetName() string {
	return fmt.Sprintf("join-%d", e.partitionIdx)
}

// OfferRide offers one enriched ride. It returns the matched trip, or
// nil if the ride was buffered or dropped.
func (e *Engine) OfferRide(ride Ride) *Trip {
	key := KeyOfRide(&ride.RideEvent)
	if !e.admit(key) {
		return nil
	}
	if fare, ok := e.fares[key]; ok {
		delete(e.fares, key)
		e.bufferedFares.Dec()
		return e.emit(key, ride, fare)
	}
	if _, ok := e.rides[key]; ok {
		e.duplicate()
		return nil
	}
	e.rides[key] = ride
	e.bufferedRides.Inc()
	return nil
}

// OfferFare offers one fare event. It returns the matched trip, or nil
// if the fare was buffered or dropped.
func (e *Engine) OfferFare(fare decode.FareEvent) *Trip {
	key := KeyOfFare(&fare)
	if !e.admit(key) {
		return nil
	}
	if ride, ok := e.rides[key]; ok {
		delete(e.rides, key)
		e.bufferedRides.Dec()
		return e.emit(key, ride, fare)
	}
	if _, ok := e.fares[key]; ok {
		e.duplicate()
		return nil
	}
	e.fares[key] = fare
	e.bufferedFares.Inc()
	return nil
}

// admit rejects keys that already produced a trip and keys whose pickup
// time is behind the joint watermark. The watermark check keeps a late
// pair from matching again after its tombstone was evicted.
func (e *Engine) admit(key TripKey) bool {
	if _, ok := e.matched[key]; ok {
		e.duplicate()
		return false
	}
	if e.lastWM.After(key.Time()) {
		e.droppedTotal.Inc()
		recordsDropped.WithLabelValues(e.pipelineName, e.partitionLabel, "late").Inc()
		return false
	}
	return true
}

func (e *Engine) emit(key TripKey, ride Ride, fare decode.FareEvent) *Trip {
	e.matched[key] = struct{}{}
	e.matchedTotal.Inc()
	tripsMatched.WithLabelValues(e.pipelineName, e.partitionLabel).Inc()
	return &Trip{Ride: ride, Fare: fare}
}

func (e *Engine) duplicate() {
	e.duplicateTotal.Inc()
	duplicatesIgnored.WithLabelValues(e.pipelineName, e.partitionLabel).Inc()
}

// Advance applies the joint watermark: buffered records that can no
// longer match are evicted without emission, and tombstones of matched
// keys behind the watermark are forgotten. Returns the number of
// records evicted.
func (e *Engine) Advance(wm watermark.Watermark) int {
	if wm.AfterWatermark(e.lastWM) {
		e.lastWM = wm
	}
	evicted := 0
	for key := range e.rides {
		if e.lastWM.After(key.Time()) {
			delete(e.rides, key)
			e.bufferedRides.Dec()
			evicted++
		}
	}
	for key := range e.fares {
		if e.lastWM.After(key.Time()) {
			delete(e.fares, key)
			e.bufferedFares.Dec()
			evicted++
		}
	}
	for key := range e.matched {
		if e.lastWM.After(key.Time()) {
			delete(e.matched, key)
		}
	}
	if evicted > 0 {
		e.droppedTotal.Add(int64(evicted))
		recordsDropped.WithLabelValues(e.pipelineName, e.partitionLabel, "evicted").Add(float64(evicted))
	}
	return evicted
}

// Stats returns the current counters of the partition.
func (e *Engine) Stats() Stats {
	return Stats{
		BufferedRides:  e.bufferedRides.Load(),
		BufferedFares:  e.bufferedFares.Load(),
		MatchedTotal:   e.matchedTotal.Load(),
		DroppedTotal:   e.droppedTotal.Load(),
		DuplicateTotal: e.duplicateTotal.Load(),
	}
}
