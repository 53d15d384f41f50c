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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripflow/tripflow/pkg/decode"
	"github.com/tripflow/tripflow/pkg/watermark"
)

var pickup = time.Date(2013, 1, 1, 12, 0, 0, 0, time.UTC)

func testRide(medallion, hack, vendor string, pickupTime time.Time) Ride {
	return Ride{
		RideEvent: decode.RideEvent{
			Medallion:    medallion,
			HackLicense:  hack,
			VendorID:     vendor,
			PickupTime:   pickupTime,
			TripDistance: 3.1,
		},
		PickupZone:  "SoHo",
		DropoffZone: "Midtown",
	}
}

func testFare(medallion, hack, vendor string, pickupTime time.Time) decode.FareEvent {
	return decode.FareEvent{
		Medallion:   medallion,
		HackLicense: hack,
		VendorID:    vendor,
		PickupTime:  pickupTime,
		PaymentType: "CSH",
		FareAmount:  6.5,
		TipAmount:   1.0,
		TotalAmount: 7.5,
	}
}

func TestKey(t *testing.T) {
	ride := testRide("1", "2", "CMT", pickup)
	fare := testFare("1", "2", "CMT", pickup)
	rk := KeyOfRide(&ride.RideEvent)
	fk := KeyOfFare(&fare)
	assert.Equal(t, rk, fk)
	assert.Equal(t, rk.Hash(), fk.Hash())
	assert.Equal(t, pickup.Unix(), rk.Time().Unix())
	assert.Equal(t, fmt.Sprintf("1/2/CMT/%d", pickup.Unix()), rk.String())

	other := KeyOfFare(&decode.FareEvent{Medallion: "1", HackLicense: "2", VendorID: "VTS", PickupTime: pickup})
	assert.NotEqual(t, rk, other)
	assert.NotEqual(t, rk.Hash(), other.Hash())
}

func TestEngine_MatchEitherOrder(t *testing.T) {
	// ride first
	e := NewEngine("test-pipeline", 0)
	assert.Nil(t, e.OfferRide(testRide("1", "2", "CMT", pickup)))
	trip := e.OfferFare(testFare("1", "2", "CMT", pickup))
	require.NotNil(t, trip)
	assert.Equal(t, "1", trip.Ride.Medallion)
	assert.Equal(t, 6.5, trip.Fare.FareAmount)
	assert.Equal(t, "SoHo", trip.Zone())
	assert.True(t, trip.EventTime().Equal(pickup))

	// fare first
	e = NewEngine("test-pipeline", 0)
	assert.Nil(t, e.OfferFare(testFare("1", "2", "CMT", pickup)))
	trip = e.OfferRide(testRide("1", "2", "CMT", pickup))
	require.NotNil(t, trip)
	assert.Equal(t, "1", trip.Fare.Medallion)
	assert.Equal(t, "Midtown", trip.Ride.DropoffZone)
	assert.Equal(t, KeyOfFare(&trip.Fare), trip.Key())
}

func TestEngine_AtMostOncePerKey(t *testing.T) {
	e := NewEngine("test-pipeline", 0)
	e.OfferRide(testRide("1", "2", "CMT", pickup))
	require.NotNil(t, e.OfferFare(testFare("1", "2", "CMT", pickup)))

	// replaying either side of an already matched key emits nothing
	assert.Nil(t, e.OfferRide(testRide("1", "2", "CMT", pickup)))
	assert.Nil(t, e.OfferFare(testFare("1", "2", "CMT", pickup)))

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.MatchedTotal)
	assert.Equal(t, int64(2), stats.DuplicateTotal)
	assert.Equal(t, int64(0), stats.BufferedRides)
	assert.Equal(t, int64(0), stats.BufferedFares)
}

func TestEngine_DuplicateUnmatchedKeepsFirst(t *testing.T) {
	e := NewEngine("test-pipeline", 0)
	first := testRide("1", "2", "CMT", pickup)
	first.TripDistance = 1.0
	second := testRide("1", "2", "CMT", pickup)
	second.TripDistance = 2.0

	assert.Nil(t, e.OfferRide(first))
	assert.Nil(t, e.OfferRide(second))
	assert.Equal(t, int64(1), e.Stats().BufferedRides)
	assert.Equal(t, int64(1), e.Stats().DuplicateTotal)

	trip := e.OfferFare(testFare("1", "2", "CMT", pickup))
	require.NotNil(t, trip)
	assert.Equal(t, 1.0, trip.Ride.TripDistance)
}

func TestEngine_LateSideDropped(t *testing.T) {
	e := NewEngine("test-pipeline", 0)
	e.Advance(watermark.Watermark(pickup.Add(time.Minute)))

	assert.Nil(t, e.OfferRide(testRide("1", "2", "CMT", pickup)))
	assert.Nil(t, e.OfferFare(testFare("1", "2", "CMT", pickup)))

	stats := e.Stats()
	assert.Equal(t, int64(0), stats.MatchedTotal)
	assert.Equal(t, int64(2), stats.DroppedTotal)
	assert.Equal(t, int64(0), stats.BufferedRides)
	assert.Equal(t, int64(0), stats.BufferedFares)
}

func TestEngine_Eviction(t *testing.T) {
	e := NewEngine("test-pipeline", 0)
	e.OfferRide(testRide("1", "2", "CMT", pickup))
	e.OfferFare(testFare("9", "9", "VTS", pickup.Add(time.Minute)))
	assert.Equal(t, int64(1), e.Stats().BufferedRides)
	assert.Equal(t, int64(1), e.Stats().BufferedFares)

	// watermark between the two pickups evicts only the older ride
	evicted := e.Advance(watermark.Watermark(pickup.Add(30 * time.Second)))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, int64(0), e.Stats().BufferedRides)
	assert.Equal(t, int64(1), e.Stats().BufferedFares)

	// the counterpart of the evicted ride arrives too late to match
	assert.Nil(t, e.OfferFare(testFare("1", "2", "CMT", pickup)))
	assert.Equal(t, int64(0), e.Stats().MatchedTotal)

	// the younger fare still matches
	trip := e.OfferRide(testRide("9", "9", "VTS", pickup.Add(time.Minute)))
	require.NotNil(t, trip)
}

func TestEngine_NoRematchAfterTombstoneEviction(t *testing.T) {
	e := NewEngine("test-pipeline", 0)
	e.OfferRide(testRide("1", "2", "CMT", pickup))
	require.NotNil(t, e.OfferFare(testFare("1", "2", "CMT", pickup)))

	e.Advance(watermark.Watermark(pickup.Add(time.Hour)))

	// the tombstone is gone, but a late duplicate pair must still not
	// produce a second trip
	assert.Nil(t, e.OfferRide(testRide("1", "2", "CMT", pickup)))
	assert.Nil(t, e.OfferFare(testFare("1", "2", "CMT", pickup)))
	assert.Equal(t, int64(1), e.Stats().MatchedTotal)
}

func TestEngine_WatermarkNeverRegresses(t *testing.T) {
	e := NewEngine("test-pipeline", 0)
	e.Advance(watermark.Watermark(pickup.Add(time.Minute)))
	e.Advance(watermark.Watermark(pickup.Add(-time.Hour)))

	// still behind the first watermark, so a record at pickup is late
	assert.Nil(t, e.OfferRide(testRide("1", "2", "CMT", pickup)))
	assert.Equal(t, int64(1), e.Stats().DroppedTotal)
}
