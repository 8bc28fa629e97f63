package geo

import "testing"

func TestAirportIndexNearestWithinRadius(t *testing.T) {
	airports := []Airport{
		{ID: "1", Ident: "EGTK", Name: "Oxford", Location: Point{Lat: 51.8364, Lon: -1.3200}},
		{ID: "2", Ident: "EGLL", Name: "Heathrow", Location: Point{Lat: 51.4700, Lon: -0.4543}},
	}
	idx := NewAirportIndex(airports)

	near := Point{Lat: 51.8350, Lon: -1.3190}
	got, dist, ok := idx.Nearest(near, 2000)
	if !ok {
		t.Fatal("Nearest() ok = false, want true")
	}
	if got.Ident != "EGTK" {
		t.Errorf("Nearest() = %s, want EGTK", got.Ident)
	}
	if dist > 2000 {
		t.Errorf("dist = %v, want <= 2000", dist)
	}
}

func TestAirportIndexNearestOutOfRadius(t *testing.T) {
	airports := []Airport{
		{ID: "1", Ident: "EGTK", Location: Point{Lat: 51.8364, Lon: -1.3200}},
	}
	idx := NewAirportIndex(airports)

	far := Point{Lat: 10, Lon: 10}
	if _, _, ok := idx.Nearest(far, 5000); ok {
		t.Error("Nearest() ok = true for an airport far outside radius")
	}
}

func TestAirportIndexWithinRadiusSortedByDistance(t *testing.T) {
	center := Point{Lat: 51.8364, Lon: -1.3200}
	airports := []Airport{
		{ID: "far", Location: Point{Lat: 51.8500, Lon: -1.3000}},
		{ID: "near", Location: Point{Lat: 51.8365, Lon: -1.3201}},
	}
	idx := NewAirportIndex(airports)

	got := idx.WithinRadius(center, 5000)
	if len(got) != 2 {
		t.Fatalf("WithinRadius() returned %d airports, want 2", len(got))
	}
	if got[0].ID != "near" {
		t.Errorf("WithinRadius()[0] = %s, want near (nearest first)", got[0].ID)
	}
}
