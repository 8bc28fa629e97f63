package geo

// RunwayEndpoint is one labeled end of a runway (the low "le_" or high
// "he_" end in the reference data), each with its own threshold and
// heading.
type RunwayEndpoint struct {
	Ident         string
	Location      Point
	ElevationFt   *int32
	HeadingDegT   *float64
	DisplacedThFt *int32
}

// Runway is a physical strip with two labeled ends.
type Runway struct {
	ID           string
	AirportIdent string
	LengthFt     *int32
	WidthFt      *int32
	Surface      string
	Lighted      bool
	Closed       bool
	LowEnd       RunwayEndpoint
	HighEnd      RunwayEndpoint
}

// endpoints returns both ends with their identifiers, skipping ends with
// no coordinates.
func (r Runway) endpoints() []RunwayEndpoint {
	var out []RunwayEndpoint
	if r.LowEnd.Ident != "" {
		out = append(out, r.LowEnd)
	}
	if r.HighEnd.Ident != "" {
		out = append(out, r.HighEnd)
	}
	return out
}

// RunwayIndex answers nearest-runway-endpoint queries, bucketed the same
// way AirportIndex is.
type RunwayIndex struct {
	byCell map[gridKey][]runwayEndpointRef
}

type runwayEndpointRef struct {
	runway   Runway
	endpoint RunwayEndpoint
}

// NewRunwayIndex builds an index over runways, one entry per populated
// endpoint.
func NewRunwayIndex(runways []Runway) *RunwayIndex {
	idx := &RunwayIndex{byCell: make(map[gridKey][]runwayEndpointRef)}
	for _, r := range runways {
		if r.Closed {
			continue
		}
		for _, ep := range r.endpoints() {
			key := cellFor(ep.Location)
			idx.byCell[key] = append(idx.byCell[key], runwayEndpointRef{runway: r, endpoint: ep})
		}
	}
	return idx
}

// Match implements spec step 2 of landing finalization: find the runway
// endpoint nearest to p within maxRadiusMeters whose heading is within
// maxHeadingDelta of approachTrack. When requireHeading is false (an
// airport was already resolved), the nearest endpoint in range is
// accepted regardless of heading; when true, only endpoints within
// maxHeadingDelta qualify.
func (idx *RunwayIndex) Match(p Point, approachTrack float64, maxRadiusMeters, maxHeadingDelta float64, requireHeading bool) (Runway, RunwayEndpoint, bool) {
	center := cellFor(p)
	cellSpan := 2

	var bestRunway Runway
	var bestEndpoint RunwayEndpoint
	bestDist := maxRadiusMeters
	found := false

	for dLat := -cellSpan; dLat <= cellSpan; dLat++ {
		for dLon := -cellSpan; dLon <= cellSpan; dLon++ {
			key := gridKey{latCell: center.latCell + dLat, lonCell: center.lonCell + dLon}
			for _, ref := range idx.byCell[key] {
				d := DistanceMeters(p, ref.endpoint.Location)
				if d > bestDist {
					continue
				}
				if requireHeading {
					if ref.endpoint.HeadingDegT == nil {
						continue
					}
					if HeadingDelta(approachTrack, *ref.endpoint.HeadingDegT) > maxHeadingDelta {
						continue
					}
				}
				bestRunway = ref.runway
				bestEndpoint = ref.endpoint
				bestDist = d
				found = true
			}
		}
	}
	return bestRunway, bestEndpoint, found
}
