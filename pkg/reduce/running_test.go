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

	"github.com/tripflow/tripflow/pkg/watermark"
)

func TestRunning_AverageOverUpdates(t *testing.T) {
	r := NewRunning("test-pipeline", 0, 0)
	assert.Equal(t, StrategyRunning, r.GetName())

	fares := []float64{10.0, 4.5, 22.0, 7.25, 16.0}
	var sum float64
	for i, fare := range fares {
		sum += fare
		rows := r.Add(testTrip("SoHo", fare, 0, baseTime.Add(time.Duration(i)*time.Minute)))
		require.Len(t, rows, 1)
		row := rows[0]
		assert.Equal(t, ZoneRow, row.Kind)
		assert.Equal(t, "SoHo", row.Zone)
		assert.Equal(t, int64(i+1), row.RideCount)
		assert.InDelta(t, sum/float64(i+1), row.AvgFare, 1e-9)
	}
}

func TestRunning_ZonesAreIndependent(t *testing.T) {
	r := NewRunning("test-pipeline", 0, 0)

	r.Add(testTrip("SoHo", 10.0, 0, baseTime))
	r.Add(testTrip("Harlem", 40.0, 0, baseTime))
	rows := r.Add(testTrip("SoHo", 20.0, 0, baseTime.Add(time.Minute)))

	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].RideCount)
	assert.InDelta(t, 15.0, rows[0].AvgFare, 1e-9)

	states := r.Snapshot()
	require.Len(t, states, 2)
	// snapshot comes out sorted by zone
	assert.Equal(t, "Harlem", states[0].Zone)
	assert.Equal(t, int64(1), states[0].RideCount)
	assert.InDelta(t, 40.0, states[0].AvgFare, 1e-9)
	assert.Equal(t, "SoHo", states[1].Zone)
}

func TestRunning_IdleEviction(t *testing.T) {
	r := NewRunning("test-pipeline", 0, time.Hour)

	r.Add(testTrip("SoHo", 10.0, 0, baseTime))
	r.Add(testTrip("Harlem", 7.0, 0, baseTime.Add(2*time.Hour)))

	// SoHo went idle past the timeout, Harlem is still fresh
	assert.Nil(t, r.OnWatermark(watermark.Watermark(baseTime.Add(90*time.Minute))))
	states := r.Snapshot()
	require.Len(t, states, 1)
	assert.Equal(t, "Harlem", states[0].Zone)

	// a trip after eviction starts the zone over
	rows := r.Add(testTrip("SoHo", 99.0, 0, baseTime.Add(2*time.Hour)))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].RideCount)
	assert.InDelta(t, 99.0, rows[0].AvgFare, 1e-9)
}

func TestRunning_ZeroTimeoutKeepsEverything(t *testing.T) {
	r := NewRunning("test-pipeline", 0, 0)

	r.Add(testTrip("SoHo", 10.0, 0, baseTime))
	assert.Nil(t, r.OnWatermark(watermark.Watermark(baseTime.Add(240*time.Hour))))
	assert.Len(t, r.Snapshot(), 1)
}

func TestApplyTrip(t *testing.T) {
	old := ZoneState{Zone: "SoHo", AvgFare: 10.0, RideCount: 2, UpdatedAt: baseTime}
	next := applyTrip(old, testTrip("SoHo", 40.0, 0, baseTime.Add(time.Minute)))

	assert.Equal(t, int64(3), next.RideCount)
	assert.InDelta(t, 20.0, next.AvgFare, 1e-9)
	assert.True(t, next.UpdatedAt.Equal(baseTime.Add(time.Minute)))

	// the old state is untouched
	assert.Equal(t, int64(2), old.RideCount)
	assert.InDelta(t, 10.0, old.AvgFare, 1e-9)

	// an out of order trip still counts but cannot move UpdatedAt back
	next = applyTrip(next, testTrip("SoHo", 20.0, 0, baseTime.Add(-time.Hour)))
	assert.Equal(t, int64(4), next.RideCount)
	assert.True(t, next.UpdatedAt.Equal(baseTime.Add(time.Minute)))
}
