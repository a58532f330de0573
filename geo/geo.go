// Package geo provides the location filtering primitives used by the public
// feed: a cheap bounding-box pre-filter for SQL range queries and the
// haversine distance used as the authoritative in-range test.
package geo

import "math"

const (
	// EarthRadiusMeters is the mean Earth radius used for haversine
	EarthRadiusMeters = 6371000.0

	// metersPerDegree approximates one degree of latitude
	metersPerDegree = 111320.0
)

// BoundingBox is a lat/lon rectangle around a center point
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// NewBoundingBox approximates a radius around (lat, lon) in degrees. It
// over-covers on purpose: callers over-fetch and post-filter with
// HaversineDistanceMeters. The fixed degrees-per-meter constant degrades
// near the poles; fine for a single-city deployment.
func NewBoundingBox(lat, lon, radiusMeters float64) BoundingBox {
	latDelta := radiusMeters / metersPerDegree
	lonDelta := radiusMeters / (metersPerDegree * math.Cos(lat*math.Pi/180.0))

	return BoundingBox{
		MinLat: lat - latDelta,
		MaxLat: lat + latDelta,
		MinLon: lon - lonDelta,
		MaxLon: lon + lonDelta,
	}
}

// Contains reports whether the point falls inside the box
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// HaversineDistanceMeters returns the great-circle distance between two
// points in meters. The intermediate value is clamped to [0,1] so the
// square roots stay stable for antipodal and near-zero distances.
func HaversineDistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dPhi := (lat2 - lat1) * math.Pi / 180.0
	dLambda := (lon2 - lon1) * math.Pi / 180.0

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}
