package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const flightColumns = `id, aircraft_id, takeoff_time, landing_time, timed_out_at,
	takeoff_location_id, landing_location_id, departure_airport_id, arrival_airport_id,
	takeoff_runway_ident, landing_runway_ident, runways_inferred,
	takeoff_altitude_offset_ft, landing_altitude_offset_ft,
	total_distance_meters, maximum_displacement_meters, callsign, last_fix_at,
	towed_by_flight_id, tow_release_altitude_ft, tow_release_time, COALESCE(closed_reason, '')`

func scanFlight(row pgx.Row) (*Flight, error) {
	var fl Flight
	err := row.Scan(
		&fl.ID, &fl.AircraftID, &fl.TakeoffTime, &fl.LandingTime, &fl.TimedOutAt,
		&fl.TakeoffLocationID, &fl.LandingLocationID, &fl.DepartureAirportID, &fl.ArrivalAirportID,
		&fl.TakeoffRunwayIdent, &fl.LandingRunwayIdent, &fl.RunwaysInferred,
		&fl.TakeoffAltitudeOffsetFt, &fl.LandingAltitudeOffsetFt,
		&fl.TotalDistanceMeters, &fl.MaximumDisplacementMeters, &fl.Callsign, &fl.LastFixAt,
		&fl.TowedByFlightID, &fl.TowReleaseAltitudeFt, &fl.TowReleaseTime, &fl.ClosedReason,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fl, nil
}

// CreateFlight inserts a new flight row, assigning an id if fl.ID is empty.
func (d *PostgresStore) CreateFlight(ctx context.Context, fl *Flight) error {
	if fl.ID == "" {
		fl.ID = uuid.Must(uuid.NewV7()).String()
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO flights (id, aircraft_id, takeoff_time, landing_time, timed_out_at,
			takeoff_location_id, landing_location_id, departure_airport_id, arrival_airport_id,
			takeoff_runway_ident, landing_runway_ident, runways_inferred,
			takeoff_altitude_offset_ft, landing_altitude_offset_ft,
			total_distance_meters, maximum_displacement_meters, callsign, last_fix_at,
			towed_by_flight_id, tow_release_altitude_ft, tow_release_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, fl.ID, fl.AircraftID, fl.TakeoffTime, fl.LandingTime, fl.TimedOutAt,
		fl.TakeoffLocationID, fl.LandingLocationID, fl.DepartureAirportID, fl.ArrivalAirportID,
		fl.TakeoffRunwayIdent, fl.LandingRunwayIdent, fl.RunwaysInferred,
		fl.TakeoffAltitudeOffsetFt, fl.LandingAltitudeOffsetFt,
		fl.TotalDistanceMeters, fl.MaximumDisplacementMeters, fl.Callsign, fl.LastFixAt,
		fl.TowedByFlightID, fl.TowReleaseAltitudeFt, fl.TowReleaseTime)
	return err
}

// UpdateFlightLanding writes the landing fields computed by the
// finalizer. ok is false if the flight was already closed or deleted by
// a racing transition (benign — the caller simply drops its update).
func (d *PostgresStore) UpdateFlightLanding(ctx context.Context, fl *Flight) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE flights SET
			landing_time = $2,
			landing_location_id = $3,
			arrival_airport_id = $4,
			landing_runway_ident = $5,
			runways_inferred = $6,
			landing_altitude_offset_ft = $7,
			total_distance_meters = $8,
			maximum_displacement_meters = $9,
			last_fix_at = $10
		WHERE id = $1 AND landing_time IS NULL AND timed_out_at IS NULL
	`, fl.ID, fl.LandingTime, fl.LandingLocationID, fl.ArrivalAirportID, fl.LandingRunwayIdent,
		fl.RunwaysInferred, fl.LandingAltitudeOffsetFt, fl.TotalDistanceMeters, fl.MaximumDisplacementMeters, fl.LastFixAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TimeoutFlight marks a flight TimedOut at timedOutAt (the aircraft's
// last observed fix time, not wall-clock).
func (d *PostgresStore) TimeoutFlight(ctx context.Context, flightID string, timedOutAt time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE flights SET timed_out_at = $2
		WHERE id = $1 AND landing_time IS NULL AND timed_out_at IS NULL
	`, flightID, timedOutAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ResumeTimedOutFlight clears timed_out_at, making the flight Active
// again, and advances last_fix_at to the resuming fix's timestamp.
func (d *PostgresStore) ResumeTimedOutFlight(ctx context.Context, flightID string, lastFixAt time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE flights SET timed_out_at = NULL, last_fix_at = $2
		WHERE id = $1 AND landing_time IS NULL AND timed_out_at IS NOT NULL
	`, flightID, lastFixAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TouchFlightLastFixAt advances last_fix_at for a flight that is still
// Active, without touching any other field.
func (d *PostgresStore) TouchFlightLastFixAt(ctx context.Context, flightID string, lastFixAt time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE flights SET last_fix_at = $2
		WHERE id = $1 AND landing_time IS NULL AND timed_out_at IS NULL
	`, flightID, lastFixAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteFlight removes a flight row, used by the spurious-flight filter.
func (d *PostgresStore) DeleteFlight(ctx context.Context, flightID string) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM flights WHERE id = $1`, flightID)
	return err
}

// CloseFlight closes a flight without a landing (currently only the
// callsign-change transition), recording why rather than when it landed.
func (d *PostgresStore) CloseFlight(ctx context.Context, flightID string, reason string, lastFixAt time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE flights SET closed_reason = $2, last_fix_at = $3
		WHERE id = $1 AND landing_time IS NULL AND timed_out_at IS NULL AND closed_reason IS NULL
	`, flightID, reason, lastFixAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateTowRelease records the glider-side flight's release from tow.
func (d *PostgresStore) UpdateTowRelease(ctx context.Context, flightID, towedByFlightID string, releaseAltitudeFt int32, releaseTime time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE flights SET
			towed_by_flight_id = $2,
			tow_release_altitude_ft = $3,
			tow_release_time = $4
		WHERE id = $1
	`, flightID, towedByFlightID, releaseAltitudeFt, releaseTime)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetFlight retrieves a flight by id.
func (d *PostgresStore) GetFlight(ctx context.Context, flightID string) (*Flight, error) {
	row := d.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM flights WHERE id = $1`, flightColumns), flightID)
	return scanFlight(row)
}

// FindRecentTimedOutFlight finds the aircraft's most recently timed-out
// flight if it timed out within the last `within` duration, for the
// flight-resumption path.
func (d *PostgresStore) FindRecentTimedOutFlight(ctx context.Context, aircraftID string, within time.Duration) (*Flight, error) {
	cutoff := time.Now().UTC().Add(-within)
	row := d.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM flights
		WHERE aircraft_id = $1 AND timed_out_at IS NOT NULL AND timed_out_at >= $2
		ORDER BY timed_out_at DESC LIMIT 1
	`, flightColumns), aircraftID, cutoff)
	return scanFlight(row)
}

// FindActiveFlight returns the aircraft's currently Active flight, if any.
func (d *PostgresStore) FindActiveFlight(ctx context.Context, aircraftID string) (*Flight, error) {
	row := d.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM flights
		WHERE aircraft_id = $1 AND landing_time IS NULL AND timed_out_at IS NULL AND closed_reason IS NULL
	`, flightColumns), aircraftID)
	return scanFlight(row)
}
