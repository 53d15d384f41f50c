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

package geo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Three zones around the origin: a plain square, a square with a square
// hole in the middle, and a two-part multipolygon.
const testZones = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"neighborhood": "SoHo"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]
      }
    },
    {
      "type": "Feature",
      "properties": {"neighborhood": "Midtown"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [
          [[10,10],[20,10],[20,20],[10,20],[10,10]],
          [[14,14],[16,14],[16,16],[14,16],[14,14]]
        ]
      }
    },
    {
      "type": "Feature",
      "properties": {"zone": "Rockaways"},
      "geometry": {
        "type": "MultiPolygon",
        "coordinates": [
          [[[30,0],[32,0],[32,2],[30,2],[30,0]]],
          [[[40,0],[42,0],[42,2],[40,2],[40,0]]]
        ]
      }
    },
    {
      "type": "Feature",
      "properties": {},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[50,0],[52,0],[52,2],[50,2],[50,0]]]
      }
    },
    {
      "type": "Feature",
      "properties": {"neighborhood": "Nowhere"},
      "geometry": {
        "type": "Point",
        "coordinates": [60, 0]
      }
    }
  ]
}`

func TestLookup(t *testing.T) {
	x, err := NewIndex([]byte(testZones))
	require.NoError(t, err)

	tests := []struct {
		name string
		lon  float64
		lat  float64
		want string
	}{
		{"inside square", 1.0, 1.0, "SoHo"},
		{"outside everything", -5.0, -5.0, UnknownZone},
		{"inside ring", 11.0, 11.0, "Midtown"},
		{"inside hole", 15.0, 15.0, UnknownZone},
		{"first part of multipolygon", 31.0, 1.0, "Rockaways"},
		{"second part of multipolygon", 41.0, 1.0, "Rockaways"},
		{"between multipolygon parts", 36.0, 1.0, UnknownZone},
		{"nameless feature is skipped", 51.0, 1.0, UnknownZone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, x.Lookup(tt.lon, tt.lat))
		})
	}
}

func TestZones(t *testing.T) {
	x, err := NewIndex([]byte(testZones))
	require.NoError(t, err)
	assert.Equal(t, []string{"SoHo", "Midtown", "Rockaways"}, x.Zones())
}

func TestNewIndex_Bad(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "not json"},
		{"no features", `{"type":"FeatureCollection","features":[]}`},
		{"bad coordinates", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"neighborhood":"x"},"geometry":{"type":"Polygon","coordinates":"nope"}}]}`},
		{"degenerate ring", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"neighborhood":"x"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,1]]]}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := NewIndex([]byte(tt.data))
			assert.Error(t, err)
			assert.Nil(t, x)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.json")
	require.NoError(t, os.WriteFile(path, []byte(testZones), 0644))
	x, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "SoHo", x.Lookup(0.5, 0.5))

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
