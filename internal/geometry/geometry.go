// Package geometry decodes and measures GeoJSON polygon boundaries.
//
// Boundaries arrive from mobile clients as GeoJSON Polygon objects and are
// stored verbatim in a JSON column; this package only validates shape and
// computes the derived centroid and area persisted alongside the boundary.
package geometry

import (
	"encoding/json"
	"fmt"
	"math"
)

const earthRadiusMeters = 6378137.0

// Polygon is a decoded GeoJSON Polygon. The first ring is the outer boundary;
// subsequent rings are holes. Coordinates are [longitude, latitude] pairs.
type Polygon struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// Decode parses and validates a GeoJSON Polygon document.
func Decode(raw []byte) (*Polygon, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty boundary")
	}

	var p Polygon
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed boundary: %w", err)
	}

	if p.Type != "Polygon" {
		return nil, fmt.Errorf("unsupported geometry type %q, expected Polygon", p.Type)
	}
	if len(p.Coordinates) == 0 {
		return nil, fmt.Errorf("polygon has no rings")
	}

	for i, ring := range p.Coordinates {
		if len(ring) < 4 {
			return nil, fmt.Errorf("ring %d has %d points, need at least 4", i, len(ring))
		}
		if ring[0] != ring[len(ring)-1] {
			return nil, fmt.Errorf("ring %d is not closed", i)
		}
		for j, pt := range ring {
			if pt[0] < -180 || pt[0] > 180 || pt[1] < -90 || pt[1] > 90 {
				return nil, fmt.Errorf("ring %d point %d out of range: [%g, %g]", i, j, pt[0], pt[1])
			}
		}
	}

	return &p, nil
}

// AreaSquareMeters computes the polygon area (outer ring minus holes) using
// the shoelace formula on an equirectangular projection anchored at the
// polygon's mean latitude. Accurate to well under a percent at field scale.
func (p *Polygon) AreaSquareMeters() float64 {
	lat0 := p.meanLatitude() * math.Pi / 180

	area := ringArea(p.Coordinates[0], lat0)
	for _, hole := range p.Coordinates[1:] {
		area -= ringArea(hole, lat0)
	}
	if area < 0 {
		area = -area
	}
	return area
}

// AreaHectares is AreaSquareMeters scaled to hectares.
func (p *Polygon) AreaHectares() float64 {
	return p.AreaSquareMeters() / 10000.0
}

// Centroid computes the area-weighted centroid of the outer ring and returns
// it as a [longitude, latitude] pair.
func (p *Polygon) Centroid() [2]float64 {
	ring := p.Coordinates[0]

	var a, cx, cy float64
	for i := 0; i < len(ring)-1; i++ {
		cross := ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
		a += cross
		cx += (ring[i][0] + ring[i+1][0]) * cross
		cy += (ring[i][1] + ring[i+1][1]) * cross
	}

	if a == 0 {
		// Degenerate ring, fall back to the vertex mean.
		var sx, sy float64
		n := len(ring) - 1
		for i := 0; i < n; i++ {
			sx += ring[i][0]
			sy += ring[i][1]
		}
		return [2]float64{sx / float64(n), sy / float64(n)}
	}

	return [2]float64{cx / (3 * a), cy / (3 * a)}
}

// CentroidJSON returns the centroid encoded as a JSON [lng, lat] array.
func (p *Polygon) CentroidJSON() []byte {
	c := p.Centroid()
	out, _ := json.Marshal(c)
	return out
}

func (p *Polygon) meanLatitude() float64 {
	ring := p.Coordinates[0]
	var sum float64
	n := len(ring) - 1
	for i := 0; i < n; i++ {
		sum += ring[i][1]
	}
	return sum / float64(n)
}

// ringArea is the planar shoelace area of one ring after projecting degrees
// to meters at reference latitude lat0 (radians).
func ringArea(ring [][2]float64, lat0 float64) float64 {
	mPerDegLat := earthRadiusMeters * math.Pi / 180
	mPerDegLng := mPerDegLat * math.Cos(lat0)

	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		x1, y1 := ring[i][0]*mPerDegLng, ring[i][1]*mPerDegLat
		x2, y2 := ring[i+1][0]*mPerDegLng, ring[i+1][1]*mPerDegLat
		sum += x1*y2 - x2*y1
	}
	return math.Abs(sum) / 2
}
