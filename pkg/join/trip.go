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

package join

import (
	"time"

	"github.com/tripflow/tripflow/pkg/decode"
)

// Ride is a decoded ride event enriched with its zone names.
type Ride struct {
	decode.RideEvent
	PickupZone  string
	DropoffZone string
}

// Trip is one matched ride and fare pair. Built only on a successful
// join, at most once per TripKey, and immutable afterwards.
type Trip struct {
	Ride Ride
	Fare decode.FareEvent
}

// Key returns the join key of the trip.
func (t *Trip) Key() TripKey {
	return KeyOfRide(&t.Ride.RideEvent)
}

// EventTime returns the trip event time, which is the pickup time.
func (t *Trip) EventTime() time.Time {
	return t.Ride.PickupTime
}

// Zone returns the zone the trip is aggregated under, which is the
// pickup zone.
func (t *Trip) Zone() string {
	return t.Ride.PickupZone
}
