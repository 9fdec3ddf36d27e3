package geometry_test

import (
	"math"
	"testing"

	"github.com/agrostack/fieldsync/internal/geometry"
)

// square is roughly 100m x 100m near the equator
const square = `{
	"type": "Polygon",
	"coordinates": [[
		[36.8000, -1.3000],
		[36.8009, -1.3000],
		[36.8009, -1.3009],
		[36.8000, -1.3009],
		[36.8000, -1.3000]
	]]
}`

func TestDecodeValidPolygon(t *testing.T) {
	p, err := geometry.Decode([]byte(square))
	if err != nil {
		t.Fatalf("Failed to decode polygon: %v", err)
	}
	if p.Type != "Polygon" {
		t.Errorf("Expected type Polygon, got %s", p.Type)
	}
	if len(p.Coordinates) != 1 {
		t.Errorf("Expected 1 ring, got %d", len(p.Coordinates))
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"malformed", `{"type": "Poly`},
		{"wrong type", `{"type": "Point", "coordinates": [[ [0,0],[1,0],[1,1],[0,0] ]]}`},
		{"no rings", `{"type": "Polygon", "coordinates": []}`},
		{"short ring", `{"type": "Polygon", "coordinates": [[ [0,0],[1,0],[0,0] ]]}`},
		{"open ring", `{"type": "Polygon", "coordinates": [[ [0,0],[1,0],[1,1],[0,1] ]]}`},
		{"longitude out of range", `{"type": "Polygon", "coordinates": [[ [181,0],[1,0],[1,1],[181,0] ]]}`},
		{"latitude out of range", `{"type": "Polygon", "coordinates": [[ [0,-91],[1,0],[1,1],[0,-91] ]]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := geometry.Decode([]byte(tc.raw)); err == nil {
				t.Errorf("Expected decode error for %s", tc.name)
			}
		})
	}
}

func TestAreaOfSquare(t *testing.T) {
	p, err := geometry.Decode([]byte(square))
	if err != nil {
		t.Fatalf("Failed to decode polygon: %v", err)
	}

	// 0.0009 degrees is ~100.2m, so expect ~1.004 hectares
	got := p.AreaHectares()
	want := 1.004
	if math.Abs(got-want)/want > 0.02 {
		t.Errorf("Expected ~%g hectares, got %g", want, got)
	}
}

func TestAreaSubtractsHoles(t *testing.T) {
	withHole := `{
		"type": "Polygon",
		"coordinates": [
			[[36.8000, -1.3000],[36.8009, -1.3000],[36.8009, -1.3009],[36.8000, -1.3009],[36.8000, -1.3000]],
			[[36.8003, -1.3003],[36.8006, -1.3003],[36.8006, -1.3006],[36.8003, -1.3006],[36.8003, -1.3003]]
		]
	}`

	full, err := geometry.Decode([]byte(square))
	if err != nil {
		t.Fatalf("Failed to decode polygon: %v", err)
	}
	holed, err := geometry.Decode([]byte(withHole))
	if err != nil {
		t.Fatalf("Failed to decode polygon with hole: %v", err)
	}

	if holed.AreaSquareMeters() >= full.AreaSquareMeters() {
		t.Errorf("Expected hole to reduce area: full=%g holed=%g",
			full.AreaSquareMeters(), holed.AreaSquareMeters())
	}

	// The hole is a ninth of the outer square
	want := full.AreaSquareMeters() * 8 / 9
	got := holed.AreaSquareMeters()
	if math.Abs(got-want)/want > 0.01 {
		t.Errorf("Expected area ~%g, got %g", want, got)
	}
}

func TestCentroidOfSquare(t *testing.T) {
	p, err := geometry.Decode([]byte(square))
	if err != nil {
		t.Fatalf("Failed to decode polygon: %v", err)
	}

	c := p.Centroid()
	if math.Abs(c[0]-36.80045) > 1e-6 {
		t.Errorf("Expected centroid lng ~36.80045, got %g", c[0])
	}
	if math.Abs(c[1]-(-1.30045)) > 1e-6 {
		t.Errorf("Expected centroid lat ~-1.30045, got %g", c[1])
	}
}

func TestCentroidDegenerateRing(t *testing.T) {
	// All points on one line, zero signed area
	degenerate := `{"type": "Polygon", "coordinates": [[ [0,0],[1,1],[2,2],[0,0] ]]}`
	p, err := geometry.Decode([]byte(degenerate))
	if err != nil {
		t.Fatalf("Failed to decode polygon: %v", err)
	}

	c := p.Centroid()
	if math.Abs(c[0]-1) > 1e-9 || math.Abs(c[1]-1) > 1e-9 {
		t.Errorf("Expected vertex-mean fallback [1, 1], got %v", c)
	}
}
