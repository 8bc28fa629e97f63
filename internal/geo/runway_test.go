package geo

import "testing"

func heading(v float64) *float64 { return &v }

func testRunway() Runway {
	return Runway{
		ID:           "269408",
		AirportIdent: "EGTK",
		LowEnd: RunwayEndpoint{
			Ident:       "01",
			Location:    Point{Lat: 51.8350, Lon: -1.3210},
			HeadingDegT: heading(10),
		},
		HighEnd: RunwayEndpoint{
			Ident:       "19",
			Location:    Point{Lat: 51.8380, Lon: -1.3190},
			HeadingDegT: heading(190),
		},
	}
}

func TestRunwayIndexMatchWithHeadingRequired(t *testing.T) {
	idx := NewRunwayIndex([]Runway{testRunway()})

	p := Point{Lat: 51.8351, Lon: -1.3211}
	rw, ep, ok := idx.Match(p, 12, 2000, 30, true)
	if !ok {
		t.Fatal("Match() ok = false, want true")
	}
	if rw.ID != "269408" || ep.Ident != "01" {
		t.Errorf("Match() = %s/%s, want 269408/01", rw.ID, ep.Ident)
	}
}

func TestRunwayIndexMatchRejectsWrongHeadingWhenRequired(t *testing.T) {
	idx := NewRunwayIndex([]Runway{testRunway()})

	p := Point{Lat: 51.8351, Lon: -1.3211}
	_, _, ok := idx.Match(p, 270, 2000, 30, true)
	if ok {
		t.Error("Match() ok = true for a heading 90+ degrees off the runway, want false")
	}
}

func TestRunwayIndexMatchIgnoresHeadingWhenNotRequired(t *testing.T) {
	idx := NewRunwayIndex([]Runway{testRunway()})

	p := Point{Lat: 51.8351, Lon: -1.3211}
	_, ep, ok := idx.Match(p, 270, 2000, 30, false)
	if !ok {
		t.Fatal("Match() ok = false, want true (heading not required)")
	}
	if ep.Ident != "01" {
		t.Errorf("Match() endpoint = %s, want 01 (nearest)", ep.Ident)
	}
}

func TestRunwayIndexSkipsClosedRunways(t *testing.T) {
	rw := testRunway()
	rw.Closed = true
	idx := NewRunwayIndex([]Runway{rw})

	p := Point{Lat: 51.8351, Lon: -1.3211}
	if _, _, ok := idx.Match(p, 10, 2000, 30, true); ok {
		t.Error("Match() matched a closed runway")
	}
}
