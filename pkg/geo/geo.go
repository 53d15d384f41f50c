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

// Package geo resolves coordinates to named zones. The index is built
// once at startup from a GeoJSON FeatureCollection and is read-only
// afterwards, so lookups are safe from any number of goroutines.
package geo

import (
	"fmt"
	"os"

	"github.com/golang/geo/s2"
)

// UnknownZone is returned for coordinates outside every known zone.
// Lookup never fails; enrichment must not take a record down.
const UnknownZone = "unknown"

type point struct {
	lon float64
	lat float64
}

// polygon is one outer ring with optional holes, plus a precomputed
// bound used to reject most candidates without ray casting.
type polygon struct {
	outer []point
	holes [][]point
	bound s2.Rect
}

type zone struct {
	name     string
	polygons []polygon
}

// Index holds all zone polygons.
type Index struct {
	zones []zone
}

// Load reads a GeoJSON file and builds the zone index.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone file %q: %w", path, err)
	}
	return NewIndex(data)
}

// Lookup returns the name of the zone containing the given coordinates,
// or UnknownZone if no zone contains them.
func (x *Index) Lookup(lon, lat float64) string {
	ll := s2.LatLngFromDegrees(lat, lon)
	for _, z := range x.zones {
		for _, p := range z.polygons {
			if !p.bound.ContainsLatLng(ll) {
				continue
			}
			if !pointInRing(lon, lat, p.outer) {
				continue
			}
			inHole := false
			for _, h := range p.holes {
				if pointInRing(lon, lat, h) {
					inHole = true
					break
				}
			}
			if !inHole {
				return z.name
			}
		}
	}
	return UnknownZone
}

// Zones returns the known zone names in index order.
func (x *Index) Zones() []string {
	names := make([]string, 0, len(x.zones))
	for _, z := range x.zones {
		names = append(names, z.name)
	}
	return names
}

// pointInRing checks ring containment by ray casting.
func pointInRing(lon, lat float64, ring []point) bool {
	if len(ring) < 3 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		if ((ring[i].lat > lat) != (ring[j].lat > lat)) &&
			(lon < (ring[j].lon-ring[i].lon)*(lat-ring[i].lat)/(ring[j].lat-ring[i].lat)+ring[i].lon) {
			inside = !inside
		}
		j = i
	}
	return inside
}
