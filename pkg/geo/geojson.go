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
	"fmt"

	"github.com/goccy/go-json"
	"github.com/golang/geo/s2"
)

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   geometry       `json:"geometry"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// NewIndex builds the zone index from GeoJSON bytes. Features without
// a usable name or an areal geometry are skipped.
func NewIndex(data []byte) (*Index, error) {
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse zone GeoJSON: %w", err)
	}
	x := new(Index)
	for i, f := range fc.Features {
		name := featureName(f.Properties)
		if name == "" {
			continue
		}
		switch f.Geometry.Type {
		case "Polygon":
			var rings [][][]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &rings); err != nil {
				return nil, fmt.Errorf("feature %d (%s): bad polygon coordinates: %w", i, name, err)
			}
			p, err := newPolygon(rings)
			if err != nil {
				return nil, fmt.Errorf("feature %d (%s): %w", i, name, err)
			}
			x.zones = append(x.zones, zone{name: name, polygons: []polygon{p}})
		case "MultiPolygon":
			var polys [][][][]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &polys); err != nil {
				return nil, fmt.Errorf("feature %d (%s): bad multipolygon coordinates: %w", i, name, err)
			}
			z := zone{name: name}
			for _, rings := range polys {
				p, err := newPolygon(rings)
				if err != nil {
					return nil, fmt.Errorf("feature %d (%s): %w", i, name, err)
				}
				z.polygons = append(z.polygons, p)
			}
			x.zones = append(x.zones, z)
		default:
			// Point, LineString etc. cannot contain coordinates.
			continue
		}
	}
	if len(x.zones) == 0 {
		return nil, fmt.Errorf("zone GeoJSON contains no usable polygon features")
	}
	return x, nil
}

// featureName extracts the zone name from feature properties.
func featureName(props map[string]any) string {
	for _, k := range []string{"neighborhood", "zone", "name"} {
		if v, ok := props[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func newPolygon(rings [][][]float64) (polygon, error) {
	if len(rings) == 0 {
		return polygon{}, fmt.Errorf("polygon has no rings")
	}
	outer := toRing(rings[0])
	if len(outer) < 3 {
		return polygon{}, fmt.Errorf("polygon outer ring has fewer than 3 vertices")
	}
	p := polygon{outer: outer, bound: s2.EmptyRect()}
	for _, r := range rings[1:] {
		p.holes = append(p.holes, toRing(r))
	}
	for _, pt := range p.outer {
		p.bound = p.bound.AddPoint(s2.LatLngFromDegrees(pt.lat, pt.lon))
	}
	return p, nil
}

func toRing(coords [][]float64) []point {
	ring := make([]point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		// GeoJSON positions are [lon, lat]
		ring = append(ring, point{lon: c[0], lat: c[1]})
	}
	return ring
}
