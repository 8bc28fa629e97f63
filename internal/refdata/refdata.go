// Package refdata reads the OurAirports-format airports.csv and
// runways.csv reference files into the in-memory types internal/geo
// indexes over. Populating those CSVs into a database of record (the
// full upsert-with-metrics batch loader) is out of scope; this package
// only has to get the two index constructors something to chew on at
// startup.
package refdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"flighttrace/internal/geo"
)

func optInt32(s string) *int32 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil
	}
	i := int32(v)
	return &i
}

func optFloat64(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func oneOrZero(s string) bool {
	return strings.TrimSpace(s) == "1"
}

// LoadAirports reads an OurAirports airports.csv file. Columns:
// 0 id, 1 ident, 2 type, 3 name, 4 latitude_deg, 5 longitude_deg,
// 6 elevation_ft, 7 continent, 8 iso_country, 9 iso_region, ...
func LoadAirports(path string) ([]geo.Airport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	if _, err := r.Read(); err != nil { // header
		return nil, fmt.Errorf("refdata: reading airports header: %w", err)
	}

	var out []geo.Airport
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("refdata: reading airports.csv: %w", err)
		}
		if len(rec) < 10 {
			continue
		}
		lat := optFloat64(rec[4])
		lon := optFloat64(rec[5])
		if lat == nil || lon == nil {
			continue
		}
		out = append(out, geo.Airport{
			ID:         rec[0],
			Ident:      rec[1],
			Type:       geo.AirportType(rec[2]),
			Name:       rec[3],
			Location:   geo.Point{Lat: *lat, Lon: *lon},
			ISOCountry: rec[8],
			ISORegion:  rec[9],
		})
	}
	return out, nil
}

// LoadRunways reads an OurAirports runways.csv file. Columns:
// 0 id, 1 airport_ref, 2 airport_ident, 3 length_ft, 4 width_ft,
// 5 surface, 6 lighted, 7 closed, 8 le_ident, 9 le_latitude_deg,
// 10 le_longitude_deg, 11 le_elevation_ft, 12 le_heading_degT,
// 13 le_displaced_threshold_ft, 14 he_ident, 15 he_latitude_deg,
// 16 he_longitude_deg, 17 he_elevation_ft, 18 he_heading_degT,
// 19 he_displaced_threshold_ft.
func LoadRunways(path string) ([]geo.Runway, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	if _, err := r.Read(); err != nil { // header
		return nil, fmt.Errorf("refdata: reading runways header: %w", err)
	}

	var out []geo.Runway
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("refdata: reading runways.csv: %w", err)
		}
		if len(rec) < 20 {
			continue
		}
		out = append(out, geo.Runway{
			ID:           rec[0],
			AirportIdent: rec[2],
			LengthFt:     optInt32(rec[3]),
			WidthFt:      optInt32(rec[4]),
			Surface:      rec[5],
			Lighted:      oneOrZero(rec[6]),
			Closed:       oneOrZero(rec[7]),
			LowEnd:       runwayEndpoint(rec[8], rec[9], rec[10], rec[11], rec[12], rec[13]),
			HighEnd:      runwayEndpoint(rec[14], rec[15], rec[16], rec[17], rec[18], rec[19]),
		})
	}
	return out, nil
}

func runwayEndpoint(ident, latS, lonS, elevS, headingS, displacedS string) geo.RunwayEndpoint {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return geo.RunwayEndpoint{}
	}
	lat := optFloat64(latS)
	lon := optFloat64(lonS)
	if lat == nil || lon == nil {
		return geo.RunwayEndpoint{}
	}
	return geo.RunwayEndpoint{
		Ident:         ident,
		Location:      geo.Point{Lat: *lat, Lon: *lon},
		ElevationFt:   optInt32(elevS),
		HeadingDegT:   optFloat64(headingS),
		DisplacedThFt: optInt32(displacedS),
	}
}
