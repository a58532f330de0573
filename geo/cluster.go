package geo

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// Viewport is the visible map rectangle sent by a map client
type Viewport struct {
	LatMin float64 `json:"latmin"`
	LonMin float64 `json:"lonmin"`
	LatMax float64 `json:"latmax"`
	LonMax float64 `json:"lonmax"`
}

// MapPoint is one location-tagged record to cluster
type MapPoint struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Cluster is a group of points sharing an s2 cell at the chosen level. The
// pin is the centroid of the member points.
type Cluster struct {
	CellID    uint64     `json:"cell_id"`
	Count     int        `json:"count"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Points    []MapPoint `json:"points,omitempty"`
}

const (
	expectedCells = 16
	minLevel      = 2
	maxLevel      = 18
	// clusters smaller than this are returned as raw points
	minPointsToCluster = 3
)

// CellLevelForViewport finds the s2 cell level at which the viewport is
// covered by roughly expectedCells cells.
func CellLevelForViewport(vp Viewport) int {
	minLL := s2.LatLngFromDegrees(vp.LatMin, vp.LonMin)
	maxLL := s2.LatLngFromDegrees(vp.LatMax, vp.LonMax)

	rect := s2.Rect{
		Lat: r1.Interval{Lo: minLL.Lat.Radians(), Hi: maxLL.Lat.Radians()},
		Lng: s1.Interval{Lo: minLL.Lng.Radians(), Hi: maxLL.Lng.Radians()},
	}

	vpArea := rect.Area()
	centerLat := (vp.LatMin + vp.LatMax) / 2
	centerLon := (vp.LonMin + vp.LonMax) / 2
	center := s2.CellIDFromLatLng(s2.LatLngFromDegrees(centerLat, centerLon))

	for lv := maxLevel; lv >= minLevel; lv-- {
		cell := s2.CellFromCellID(center.Parent(lv))
		if vpArea/cell.ApproxArea() < expectedCells {
			return lv
		}
	}
	return minLevel
}

// ClusterViewport buckets points by their s2 cell at the viewport's level.
// Dense cells collapse to a count with a centroid pin; sparse cells keep
// their individual points so the map can render them directly.
func ClusterViewport(vp Viewport, points []MapPoint) []Cluster {
	level := CellLevelForViewport(vp)

	buckets := make(map[s2.CellID][]MapPoint)
	for _, p := range points {
		if p.Latitude < vp.LatMin || p.Latitude > vp.LatMax ||
			p.Longitude < vp.LonMin || p.Longitude > vp.LonMax {
			continue
		}
		cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Latitude, p.Longitude)).Parent(level)
		buckets[cell] = append(buckets[cell], p)
	}

	clusters := make([]Cluster, 0, len(buckets))
	for cell, members := range buckets {
		c := Cluster{
			CellID: uint64(cell),
			Count:  len(members),
		}
		var sumLat, sumLon float64
		for _, m := range members {
			sumLat += m.Latitude
			sumLon += m.Longitude
		}
		c.Latitude = sumLat / float64(len(members))
		c.Longitude = sumLon / float64(len(members))

		if len(members) < minPointsToCluster {
			c.Points = members
		}
		clusters = append(clusters, c)
	}
	return clusters
}
