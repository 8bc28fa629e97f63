package geo

import "math"

// AirportType mirrors the OurAirports type classification carried by the
// reference-data loader (small_airport, medium_airport, large_airport,
// heliport, …).
type AirportType string

// Airport is a point of interest used for arrival/departure resolution.
type Airport struct {
	ID         string
	Ident      string
	Name       string
	Type       AirportType
	Location   Point
	ISOCountry string
	ISORegion  string
}

const gridCellDegrees = 0.5

type gridKey struct{ latCell, lonCell int }

func cellFor(p Point) gridKey {
	return gridKey{
		latCell: int(math.Floor(p.Lat / gridCellDegrees)),
		lonCell: int(math.Floor(p.Lon / gridCellDegrees)),
	}
}

// AirportIndex answers nearest-airport-within-radius queries. It buckets
// airports into a coarse lat/lon grid so a radius search only scans
// nearby cells instead of the whole table; this is how the reference
// loader's PostGIS ST_DWithin query is reproduced without a database
// round trip on the hot path.
type AirportIndex struct {
	byCell map[gridKey][]Airport
}

// NewAirportIndex builds an index over airports.
func NewAirportIndex(airports []Airport) *AirportIndex {
	idx := &AirportIndex{byCell: make(map[gridKey][]Airport)}
	for _, a := range airports {
		key := cellFor(a.Location)
		idx.byCell[key] = append(idx.byCell[key], a)
	}
	return idx
}

// Nearest returns the closest airport to p within maxRadiusMeters, and
// its distance. Returns ok=false if none is within range.
func (idx *AirportIndex) Nearest(p Point, maxRadiusMeters float64) (Airport, float64, bool) {
	center := cellFor(p)
	// maxRadiusMeters in degrees, conservatively (1 degree latitude ≈ 111km).
	cellSpan := int(math.Ceil(maxRadiusMeters/111000.0/gridCellDegrees)) + 1

	var best Airport
	bestDist := math.MaxFloat64
	found := false

	for dLat := -cellSpan; dLat <= cellSpan; dLat++ {
		for dLon := -cellSpan; dLon <= cellSpan; dLon++ {
			key := gridKey{latCell: center.latCell + dLat, lonCell: center.lonCell + dLon}
			for _, a := range idx.byCell[key] {
				d := DistanceMeters(p, a.Location)
				if d <= maxRadiusMeters && d < bestDist {
					best = a
					bestDist = d
					found = true
				}
			}
		}
	}
	return best, bestDist, found
}

// WithinRadius returns every airport within maxRadiusMeters of p, sorted
// by distance ascending.
func (idx *AirportIndex) WithinRadius(p Point, maxRadiusMeters float64) []Airport {
	center := cellFor(p)
	cellSpan := int(math.Ceil(maxRadiusMeters/111000.0/gridCellDegrees)) + 1

	type hit struct {
		airport Airport
		dist    float64
	}
	var hits []hit
	for dLat := -cellSpan; dLat <= cellSpan; dLat++ {
		for dLon := -cellSpan; dLon <= cellSpan; dLon++ {
			key := gridKey{latCell: center.latCell + dLat, lonCell: center.lonCell + dLon}
			for _, a := range idx.byCell[key] {
				if d := DistanceMeters(p, a.Location); d <= maxRadiusMeters {
					hits = append(hits, hit{a, d})
				}
			}
		}
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].dist < hits[j-1].dist; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]Airport, len(hits))
	for i, h := range hits {
		out[i] = h.airport
	}
	return out
}
