package flight

import (
	"context"
	"fmt"
	"math"
	"time"

	"flighttrace/internal/fix"
	"flighttrace/internal/geo"
	"flighttrace/internal/store"
)

// Landing resolution and spurious-flight filter thresholds.
const (
	AirportRadiusMeters   = 2000.0
	RunwayRadiusMeters    = 2000.0
	RunwayHeadingDeltaDeg = 30.0
	RunwayTrackWindow     = 20 * time.Second

	SpuriousMinDuration        = 120 * time.Second
	SpuriousMinAltitudeRangeFt = 50.0
	SpuriousMinMaxAGLFt        = 100.0
	SpuriousMaxAltitudeFt      = 100000.0
	SpuriousMaxGroundSpeedMph  = 1000.0

	knotsToMPH = 1.15078
)

// Finalizer resolves landing metrics for a flight about to close and
// applies the spurious-flight filter before the closing write commits.
type Finalizer struct {
	flights   store.FlightStore
	fixes     store.FixStore
	airports  *geo.AirportIndex
	runways   *geo.RunwayIndex
	elevation *geo.ElevationService
}

func NewFinalizer(flights store.FlightStore, fixes store.FixStore, airports *geo.AirportIndex, runways *geo.RunwayIndex, elevation *geo.ElevationService) *Finalizer {
	return &Finalizer{flights: flights, fixes: fixes, airports: airports, runways: runways, elevation: elevation}
}

// Land computes the landing fields for fl from landingFix, applies the
// spurious-flight filter, and either commits the landing UPDATE or
// deletes the flight and clears flight_id on its fixes. landed reports
// whether a landing was actually published; it is false both when the
// flight was judged spurious and when a race already closed it.
func (fz *Finalizer) Land(ctx context.Context, fl *store.Flight, landingFix *fix.Fix) (landed bool, err error) {
	fixes, err := fz.fixes.GetFixesForFlight(ctx, fl.ID, 0)
	if err != nil {
		return false, err
	}
	if len(fixes) == 0 {
		fixes = []*fix.Fix{landingFix}
	}

	fz.resolveLandingLocation(fl, landingFix)
	fz.resolveLandingRunway(ctx, fl, landingFix)

	if fz.elevation != nil && landingFix.AltitudeMSLFeet != nil {
		if agl, aglErr := fz.elevation.AGLFeet(float64(*landingFix.AltitudeMSLFeet), landingFix.Latitude, landingFix.Longitude); aglErr == nil && agl != nil {
			v := int32(math.Round(*agl))
			fl.LandingAltitudeOffsetFt = &v
		}
	}

	totalDistance, maxDisplacement := flightDistanceMetrics(fixes)
	fl.TotalDistanceMeters = totalDistance
	fl.MaximumDisplacementMeters = maxDisplacement
	fl.LastFixAt = landingFix.Timestamp
	landingTime := landingFix.Timestamp
	fl.LandingTime = &landingTime

	if fz.isSpurious(fl, fixes) {
		if err := fz.fixes.ClearFlightIDOnFixes(ctx, fl.ID); err != nil {
			return false, err
		}
		if err := fz.flights.DeleteFlight(ctx, fl.ID); err != nil {
			return false, err
		}
		return false, nil
	}

	return fz.flights.UpdateFlightLanding(ctx, fl)
}

func (fz *Finalizer) resolveLandingLocation(fl *store.Flight, landingFix *fix.Fix) {
	if fz.airports == nil {
		return
	}
	p := geo.Point{Lat: landingFix.Latitude, Lon: landingFix.Longitude}
	if airport, _, ok := fz.airports.Nearest(p, AirportRadiusMeters); ok {
		id := airport.ID
		fl.ArrivalAirportID = &id
	}
}

// resolveLandingRunway implements the runway-matching rule: the average
// track over the trailing window is matched against nearby runway
// endpoints; if an airport was resolved, the nearest endpoint is taken
// regardless of heading delta; otherwise only a close-heading match
// counts, falling back to inferring the two-digit identifier from the
// average track itself.
func (fz *Finalizer) resolveLandingRunway(ctx context.Context, fl *store.Flight, landingFix *fix.Fix) {
	from := landingFix.Timestamp.Add(-RunwayTrackWindow)
	recent, err := fz.fixes.GetFixesForAircraftInTimeRange(ctx, fl.AircraftID, from, landingFix.Timestamp)
	if err != nil {
		return
	}

	tracks := make([]float64, 0, len(recent))
	for _, f := range recent {
		if f.TrackDegrees != nil {
			tracks = append(tracks, *f.TrackDegrees)
		}
	}
	avgTrack, ok := geo.AverageTrack(tracks)
	if !ok {
		return
	}

	airportResolved := fl.ArrivalAirportID != nil
	if fz.runways != nil {
		p := geo.Point{Lat: landingFix.Latitude, Lon: landingFix.Longitude}
		requireHeading := !airportResolved
		if _, ep, matched := fz.runways.Match(p, avgTrack, RunwayRadiusMeters, RunwayHeadingDeltaDeg, requireHeading); matched {
			fl.LandingRunwayIdent = ep.Ident
			fl.RunwaysInferred = false
			return
		}
	}

	fl.LandingRunwayIdent = runwayIdentLabel(geo.RunwayIdentFromHeading(avgTrack))
	fl.RunwaysInferred = true
}

func runwayIdentLabel(n int) string {
	return fmt.Sprintf("%02d", n)
}

// flightDistanceMetrics sums haversine distances between consecutive
// fixes and tracks the maximum displacement from the first fix.
func flightDistanceMetrics(fixes []*fix.Fix) (totalMeters, maxDisplacementMeters float64) {
	if len(fixes) == 0 {
		return 0, 0
	}
	origin := geo.Point{Lat: fixes[0].Latitude, Lon: fixes[0].Longitude}
	prev := origin
	for i, f := range fixes {
		p := geo.Point{Lat: f.Latitude, Lon: f.Longitude}
		if i > 0 {
			totalMeters += geo.DistanceMeters(prev, p)
		}
		if d := geo.DistanceMeters(origin, p); d > maxDisplacementMeters {
			maxDisplacementMeters = d
		}
		prev = p
	}
	return totalMeters, maxDisplacementMeters
}

func (fz *Finalizer) isSpurious(fl *store.Flight, fixes []*fix.Fix) bool {
	if fl.TakeoffTime == nil || fl.LandingTime == nil {
		return false
	}
	if fl.LandingTime.Sub(*fl.TakeoffTime) < SpuriousMinDuration {
		return true
	}

	var minMSL, maxMSL float64
	var maxAGL float64
	haveMSL := false
	var speedSum float64
	speedCount := 0

	for _, f := range fixes {
		if f.AltitudeMSLFeet != nil {
			v := float64(*f.AltitudeMSLFeet)
			if !haveMSL {
				minMSL, maxMSL = v, v
				haveMSL = true
			} else {
				if v < minMSL {
					minMSL = v
				}
				if v > maxMSL {
					maxMSL = v
				}
			}
			if v > SpuriousMaxAltitudeFt {
				return true
			}
		}
		if f.AltitudeAGLFeet != nil {
			if v := float64(*f.AltitudeAGLFeet); v > maxAGL {
				maxAGL = v
			}
		}
		if f.GroundSpeedKnots != nil {
			speedSum += *f.GroundSpeedKnots
			speedCount++
		}
	}

	if haveMSL && maxMSL-minMSL < SpuriousMinAltitudeRangeFt {
		return true
	}
	if maxAGL < SpuriousMinMaxAGLFt {
		return true
	}
	if speedCount > 0 && (speedSum/float64(speedCount))*knotsToMPH > SpuriousMaxGroundSpeedMph {
		return true
	}
	return false
}
