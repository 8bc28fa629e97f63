package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"flighttrace/internal/fix"
)

// ClickHouseConfig holds ClickHouse connection settings for the
// high-volume append-only fix stream.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ClickHouseFixStore implements FixStore against ClickHouse's MergeTree
// engine; fixes are append-only and never updated after insert, except
// for the flight_id reassignment the spurious-flight filter requires.
type ClickHouseFixStore struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseFixStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &ClickHouseFixStore{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseFixStore) Close() error { return d.conn.Close() }

// CreateSchema creates the ClickHouse fixes table.
func (d *ClickHouseFixStore) CreateSchema(ctx context.Context) error {
	return d.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fixes (
			id                  UInt64,
			aircraft_id         UUID,
			flight_id           Nullable(UUID),
			timestamp           DateTime64(3),
			received_at         DateTime64(3),
			latitude            Float64,
			longitude           Float64,
			altitude_msl_feet   Nullable(Int32),
			altitude_agl_feet   Nullable(Int32),
			ground_speed_knots  Nullable(Float64),
			track_degrees       Nullable(Float64),
			climb_fpm           Nullable(Float64),
			turn_rate_rot       Nullable(Float64),
			address             Int32,
			address_type        LowCardinality(String),
			is_active           Bool,
			callsign            LowCardinality(String),
			registration        LowCardinality(String),
			source_format       LowCardinality(String),
			time_gap_seconds    Float64
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (aircraft_id, timestamp, id)
		SETTINGS index_granularity = 8192
	`)
}

// InsertFix stores a single fix. It does not update aircraft.last_fix_at
// itself; the caller (the pipeline, via the aircraft cache) is
// responsible for that out-of-band update so an append-only insert never
// blocks on a cross-store write.
func (d *ClickHouseFixStore) InsertFix(ctx context.Context, f *fix.Fix) error {
	var flightID *string
	if f.FlightID != "" {
		flightID = &f.FlightID
	}
	return d.conn.Exec(ctx, `
		INSERT INTO fixes (id, aircraft_id, flight_id, timestamp, received_at, latitude, longitude,
			altitude_msl_feet, altitude_agl_feet, ground_speed_knots, track_degrees, climb_fpm, turn_rate_rot,
			address, address_type, is_active, callsign, registration, source_format, time_gap_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.AircraftID, flightID, f.Timestamp, f.ReceivedAt, f.Latitude, f.Longitude,
		f.AltitudeMSLFeet, f.AltitudeAGLFeet, f.GroundSpeedKnots, f.TrackDegrees, f.ClimbFPM, f.TurnRateROT,
		f.Address, f.AddressType.String(), f.IsActive, f.Callsign, f.Registration, string(f.SourceFormat), f.TimeGapSeconds)
}

// ClearFlightIDOnFixes detaches every fix currently pointing at flightID,
// used when the landing finalizer classifies a flight as spurious and
// deletes it. ClickHouse has no in-place UPDATE; this issues a
// lightweight ALTER TABLE UPDATE mutation, which is async but safe here
// because the flight row is deleted in the same caller before any reader
// could observe the stale flight_id as meaningful.
func (d *ClickHouseFixStore) ClearFlightIDOnFixes(ctx context.Context, flightID string) error {
	return d.conn.Exec(ctx, `ALTER TABLE fixes UPDATE flight_id = NULL WHERE flight_id = ?`, flightID)
}

// ReassignFixes moves every fix from duplicateAircraftID to
// targetAircraftID, used by the aircraft pending-registration merger:
// fixes live here, in ClickHouse, not in the PostgreSQL transaction that
// reassigns flights and deletes the duplicate aircraft row, so the
// merger reassigns fixes as a separate step. Same async ALTER TABLE
// UPDATE mutation as ClearFlightIDOnFixes; safe here because the
// duplicate aircraft row is deleted only after this call returns.
func (d *ClickHouseFixStore) ReassignFixes(ctx context.Context, targetAircraftID, duplicateAircraftID string) error {
	return d.conn.Exec(ctx, `ALTER TABLE fixes UPDATE aircraft_id = ? WHERE aircraft_id = ?`, targetAircraftID, duplicateAircraftID)
}

// GetFixesForFlight returns up to limit fixes for a flight, oldest first.
// limit <= 0 means unbounded.
func (d *ClickHouseFixStore) GetFixesForFlight(ctx context.Context, flightID string, limit int) ([]*fix.Fix, error) {
	query := `SELECT id, aircraft_id, flight_id, timestamp, received_at, latitude, longitude,
		altitude_msl_feet, altitude_agl_feet, ground_speed_knots, track_degrees, climb_fpm, turn_rate_rot,
		address, address_type, is_active, callsign, registration, source_format, time_gap_seconds
		FROM fixes WHERE flight_id = ? ORDER BY timestamp`
	args := []interface{}{flightID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return d.queryFixes(ctx, query, args...)
}

// GetFixesForAircraftInTimeRange returns every fix for an aircraft within
// [from, to], used for runway inference and landing-offset computation.
func (d *ClickHouseFixStore) GetFixesForAircraftInTimeRange(ctx context.Context, aircraftID string, from, to time.Time) ([]*fix.Fix, error) {
	return d.queryFixes(ctx, `
		SELECT id, aircraft_id, flight_id, timestamp, received_at, latitude, longitude,
			altitude_msl_feet, altitude_agl_feet, ground_speed_knots, track_degrees, climb_fpm, turn_rate_rot,
			address, address_type, is_active, callsign, registration, source_format, time_gap_seconds
		FROM fixes WHERE aircraft_id = ? AND timestamp BETWEEN ? AND ? ORDER BY timestamp
	`, aircraftID, from, to)
}

func (d *ClickHouseFixStore) queryFixes(ctx context.Context, query string, args ...interface{}) ([]*fix.Fix, error) {
	rows, err := d.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*fix.Fix
	for rows.Next() {
		var f fix.Fix
		var flightID *string
		var addressType, sourceFormat string
		if err := rows.Scan(
			&f.ID, &f.AircraftID, &flightID, &f.Timestamp, &f.ReceivedAt, &f.Latitude, &f.Longitude,
			&f.AltitudeMSLFeet, &f.AltitudeAGLFeet, &f.GroundSpeedKnots, &f.TrackDegrees, &f.ClimbFPM, &f.TurnRateROT,
			&f.Address, &addressType, &f.IsActive, &f.Callsign, &f.Registration, &sourceFormat, &f.TimeGapSeconds,
		); err != nil {
			return nil, fmt.Errorf("scan fix: %w", err)
		}
		if flightID != nil {
			f.FlightID = *flightID
		}
		f.AddressType = parseAddressType(addressType)
		f.SourceFormat = fix.Format(sourceFormat)
		out = append(out, &f)
	}
	return out, rows.Err()
}

func parseAddressType(s string) fix.AddressType {
	switch s {
	case "icao":
		return fix.AddressICAO
	case "flarm":
		return fix.AddressFlarm
	case "ogn":
		return fix.AddressOGN
	default:
		return fix.AddressUnknown
	}
}
