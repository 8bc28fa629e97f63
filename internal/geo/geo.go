// Package geo provides the supporting geospatial lookups the flight
// state machine depends on: nearest-airport and nearest-runway-endpoint
// search, and terrain-elevation lookups for AGL computation. Distance
// and bearing math is delegated to paulmach/orb/geo rather than
// hand-rolled trigonometry.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point is a WGS84 coordinate, latitude/longitude in degrees.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) orbPoint() orb.Point { return orb.Point{p.Lon, p.Lat} }

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	return geo.Distance(a.orbPoint(), b.orbPoint())
}

// BearingDegrees returns the initial true bearing from a to b, in
// [0, 360).
func BearingDegrees(a, b Point) float64 {
	brng := geo.Bearing(a.orbPoint(), b.orbPoint())
	if brng < 0 {
		brng += 360
	}
	return brng
}

// RunwayIdentFromHeading derives the two-digit runway identifier a
// heading would be assigned when no runway database match exists:
// round(heading/10) mod 36, with 0 mapped to 36.
func RunwayIdentFromHeading(headingDegrees float64) int {
	n := int(math.Round(headingDegrees/10)) % 36
	if n <= 0 {
		n += 36
	}
	return n
}

// HeadingDelta returns the absolute angular difference between two
// headings, always in [0, 180].
func HeadingDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// AverageTrack returns the circular mean of a set of track headings in
// degrees, used to summarize the last N fixes before a landing. Returns
// (0, false) if tracks is empty.
func AverageTrack(tracks []float64) (float64, bool) {
	if len(tracks) == 0 {
		return 0, false
	}
	var sumSin, sumCos float64
	for _, t := range tracks {
		rad := t * math.Pi / 180
		sumSin += math.Sin(rad)
		sumCos += math.Cos(rad)
	}
	mean := math.Atan2(sumSin, sumCos) * 180 / math.Pi
	if mean < 0 {
		mean += 360
	}
	return mean, true
}
