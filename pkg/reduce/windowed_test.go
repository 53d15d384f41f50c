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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripflow/tripflow/pkg/decode"
	"github.com/tripflow/tripflow/pkg/join"
	"github.com/tripflow/tripflow/pkg/watermark"
)

var baseTime = time.Date(2013, 1, 1, 12, 0, 0, 0, time.UTC)

func testTrip(zone string, fare, tip float64, eventTime time.Time) *join.Trip {
	return &join.Trip{
		Ride: join.Ride{
			RideEvent: decode.RideEvent{
				Medallion:   "m",
				HackLicense: "h",
				VendorID:    "CMT",
				PickupTime:  eventTime,
			},
			PickupZone:  zone,
			DropoffZone: "Midtown",
		},
		Fare: decode.FareEvent{
			Medallion:   "m",
			HackLicense: "h",
			VendorID:    "CMT",
			PickupTime:  eventTime,
			FareAmount:  fare,
			TipAmount:   tip,
		},
	}
}

func TestWindowed_SoHoScenario(t *testing.T) {
	w := NewWindowed("test-pipeline", 0, time.Minute)
	assert.Equal(t, StrategyWindowed, w.GetName())

	assert.Nil(t, w.Add(testTrip("SoHo", 10.0, 1.0, baseTime.Add(5*time.Second))))
	assert.Nil(t, w.Add(testTrip("SoHo", 20.0, 2.0, baseTime.Add(25*time.Second))))
	assert.Equal(t, 1, w.ActiveWindows())

	// watermark inside the window emits nothing
	assert.Nil(t, w.OnWatermark(watermark.Watermark(baseTime.Add(30*time.Second))))

	// watermark exactly at the window end still does not finalize
	assert.Nil(t, w.OnWatermark(watermark.Watermark(baseTime.Add(time.Minute))))

	rows := w.OnWatermark(watermark.Watermark(baseTime.Add(61 * time.Second)))
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, WindowRow, row.Kind)
	assert.True(t, row.WindowStart.Equal(baseTime))
	assert.True(t, row.WindowEnd.Equal(baseTime.Add(time.Minute)))
	assert.Equal(t, "SoHo", row.Zone)
	assert.Equal(t, int64(2), row.RideCount)
	assert.InDelta(t, 30.0, row.TotalFare, 1e-9)
	assert.InDelta(t, 3.0, row.TotalTip, 1e-9)

	// a bucket is emitted exactly once
	assert.Nil(t, w.OnWatermark(watermark.Watermark(baseTime.Add(2*time.Minute))))
	assert.Equal(t, 0, w.ActiveWindows())
}

func TestWindowed_GroupsByWindowAndZone(t *testing.T) {
	w := NewWindowed("test-pipeline", 0, time.Minute)

	w.Add(testTrip("SoHo", 10.0, 0, baseTime.Add(10*time.Second)))
	w.Add(testTrip("Harlem", 7.0, 0, baseTime.Add(20*time.Second)))
	w.Add(testTrip("SoHo", 5.0, 0, baseTime.Add(70*time.Second)))
	assert.Equal(t, 2, w.ActiveWindows())

	// close only the first window
	rows := w.OnWatermark(watermark.Watermark(baseTime.Add(61 * time.Second)))
	require.Len(t, rows, 2)
	// zones of one window come out in lexical order
	assert.Equal(t, "Harlem", rows[0].Zone)
	assert.Equal(t, int64(1), rows[0].RideCount)
	assert.InDelta(t, 7.0, rows[0].TotalFare, 1e-9)
	assert.Equal(t, "SoHo", rows[1].Zone)
	assert.InDelta(t, 10.0, rows[1].TotalFare, 1e-9)

	rows = w.OnWatermark(watermark.Watermark(baseTime.Add(3 * time.Minute)))
	require.Len(t, rows, 1)
	assert.Equal(t, "SoHo", rows[0].Zone)
	assert.InDelta(t, 5.0, rows[0].TotalFare, 1e-9)
}

func TestWindowed_BoundaryGoesRight(t *testing.T) {
	w := NewWindowed("test-pipeline", 0, time.Minute)

	// a trip exactly on the boundary belongs to the window starting there
	w.Add(testTrip("SoHo", 10.0, 0, baseTime.Add(time.Minute)))
	rows := w.OnWatermark(watermark.Watermark(baseTime.Add(61 * time.Second)))
	assert.Empty(t, rows)

	rows = w.OnWatermark(watermark.Watermark(baseTime.Add(121 * time.Second)))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].WindowStart.Equal(baseTime.Add(time.Minute)))
	assert.True(t, rows[0].WindowEnd.Equal(baseTime.Add(2*time.Minute)))
}

func TestWindowed_CountMatchesTripCount(t *testing.T) {
	w := NewWindowed("test-pipeline", 0, time.Minute)
	const n = 50
	var wantFare float64
	for i := 0; i < n; i++ {
		fare := float64(i) + 0.5
		wantFare += fare
		w.Add(testTrip("SoHo", fare, 0, baseTime.Add(time.Duration(i)*time.Second)))
	}
	rows := w.OnWatermark(watermark.Watermark(baseTime.Add(2 * time.Minute)))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(n), rows[0].RideCount)
	assert.InDelta(t, wantFare, rows[0].TotalFare, 1e-9)
}

func TestNew_StrategySelection(t *testing.T) {
	agg, err := New(StrategyWindowed, "test-pipeline", 0, Options{WindowLength: time.Minute})
	assert.NoError(t, err)
	assert.IsType(t, &Windowed{}, agg)

	agg, err = New(StrategyRunning, "test-pipeline", 0, Options{ZoneIdleTimeout: time.Hour})
	assert.NoError(t, err)
	assert.IsType(t, &Running{}, agg)

	_, err = New(StrategyWindowed, "test-pipeline", 0, Options{})
	assert.Error(t, err)

	_, err = New("bogus", "test-pipeline", 0, Options{})
	assert.Error(t, err)
}
