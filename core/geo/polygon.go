package geo

import (
	"errors"
	"math/rand/v2"
)

// ErrDegeneratePolygon is returned when no point could be sampled inside a
// polygon within the attempt budget.
var ErrDegeneratePolygon = errors.New("geo: degenerate polygon")

// DefaultSampleAttempts bounds rejection sampling in RandomPointIn.
const DefaultSampleAttempts = 1000

// BBox is an axis aligned bounding box in degrees.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BBox) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// Polygon is an ordered ring of points. The closing vertex may be omitted.
type Polygon []Point

// Bounds returns the bounding box of the ring.
func (poly Polygon) Bounds() BBox {
	if len(poly) == 0 {
		return BBox{}
	}
	b := BBox{MinLon: poly[0].Lon, MaxLon: poly[0].Lon, MinLat: poly[0].Lat, MaxLat: poly[0].Lat}
	for _, p := range poly[1:] {
		if p.Lon < b.MinLon {
			b.MinLon = p.Lon
		}
		if p.Lon > b.MaxLon {
			b.MaxLon = p.Lon
		}
		if p.Lat < b.MinLat {
			b.MinLat = p.Lat
		}
		if p.Lat > b.MaxLat {
			b.MaxLat = p.Lat
		}
	}
	return b
}

// Contains reports whether p is strictly inside the polygon (ray casting).
func (poly Polygon) Contains(p Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

// RandomPointIn samples uniformly inside poly by rejection from its bounding
// box. After maxAttempts misses it fails with ErrDegeneratePolygon.
func RandomPointIn(rng *rand.Rand, poly Polygon, maxAttempts int) (Point, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultSampleAttempts
	}
	if len(poly) < 3 {
		return Point{}, ErrDegeneratePolygon
	}
	b := poly.Bounds()
	for i := 0; i < maxAttempts; i++ {
		p := Point{
			Lon: b.MinLon + rng.Float64()*(b.MaxLon-b.MinLon),
			Lat: b.MinLat + rng.Float64()*(b.MaxLat-b.MinLat),
		}
		if poly.Contains(p) {
			return p, nil
		}
	}
	return Point{}, ErrDegeneratePolygon
}
