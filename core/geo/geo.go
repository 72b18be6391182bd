package geo

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius used by every spherical formula.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lon float64 `json:"lon" bson:"lon"`
	Lat float64 `json:"lat" bson:"lat"`
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Haversine returns the great-circle distance between a and b in kilometers.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial compass bearing from one point to another in
// degrees within [0,360).
func Bearing(from, to Point) float64 {
	lat1 := toRadians(from.Lat)
	lat2 := toRadians(to.Lat)
	dLon := toRadians(to.Lon - from.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeHeading(toDegrees(math.Atan2(y, x)))
}

// Destination solves the forward great-circle problem: starting at p and
// travelling distanceKm along headingDeg.
func Destination(p Point, headingDeg, distanceKm float64) Point {
	lat1 := toRadians(p.Lat)
	lon1 := toRadians(p.Lon)
	brg := toRadians(headingDeg)
	ang := distanceKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(
		math.Sin(brg)*math.Sin(ang)*math.Cos(lat1),
		math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2),
	)
	return Point{Lon: toDegrees(lon2), Lat: toDegrees(lat2)}
}

// Advance moves p along heading at speedKmh for the elapsed duration.
func Advance(p Point, headingDeg, speedKmh float64, elapsed time.Duration) Point {
	if speedKmh <= 0 || elapsed <= 0 {
		return p
	}
	return Destination(p, headingDeg, speedKmh*elapsed.Hours())
}

// PlanarDistance is the Euclidean distance between raw coordinates in degrees.
// It is a proxy only: it ignores latitude scaling and is not a geodesic.
func PlanarDistance(a, b Point) float64 {
	dx := b.Lon - a.Lon
	dy := b.Lat - a.Lat
	return math.Sqrt(dx*dx + dy*dy)
}

// NormalizeHeading maps any angle to [0,360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// AdjustHeading turns current toward target by the shortest angle, limited to
// maxTurn degrees.
func AdjustHeading(current, target, maxTurn float64) float64 {
	diff := math.Mod(target-current+180, 360)
	if diff < 0 {
		diff += 360
	}
	diff -= 180
	if maxTurn >= 0 && math.Abs(diff) > maxTurn {
		diff = math.Copysign(maxTurn, diff)
	}
	return NormalizeHeading(current + diff)
}
