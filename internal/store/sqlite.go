// Package store's SQLite backend combines the aircraft/flight/fix roles
// PostgreSQL and ClickHouse split in production into a single embeddable
// file, for local development and tests where standing up both servers
// isn't worth it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"flighttrace/internal/aircraft"
	"flighttrace/internal/fix"
)

// SQLiteStore implements aircraft.Store, FlightStore, and FixStore
// against a single SQLite database file. Writes are serialized with a
// mutex: SQLite itself serializes at the file level, and the explicit
// mutex lets the race-sensitive aircraft merge operations use simple
// read-then-write logic instead of reproducing PostgreSQL's
// ON CONFLICT... RETURNING race-free upsert, which isn't needed once
// writes are already serialized in-process.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite database file.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateSchema creates every table this store serves.
func (s *SQLiteStore) CreateSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS aircraft (
		id                    TEXT PRIMARY KEY,
		icao_address          INTEGER UNIQUE,
		flarm_address         INTEGER UNIQUE,
		ogn_address           INTEGER UNIQUE,
		other_address         INTEGER UNIQUE,
		registration          TEXT UNIQUE,
		pending_registration  TEXT,
		aircraft_category     TEXT,
		aircraft_type_ogn     TEXT,
		icao_model_code       TEXT,
		adsb_emitter_category TEXT,
		tracker_device_type   TEXT,
		aircraft_model        TEXT,
		country_code          TEXT,
		club_id               TEXT,
		home_base_airport_id  TEXT,
		last_fix_at           DATETIME
	);

	CREATE TABLE IF NOT EXISTS flights (
		id                           TEXT PRIMARY KEY,
		aircraft_id                  TEXT NOT NULL,
		takeoff_time                 DATETIME,
		landing_time                 DATETIME,
		timed_out_at                 DATETIME,
		takeoff_location_id          TEXT,
		landing_location_id          TEXT,
		departure_airport_id         TEXT,
		arrival_airport_id           TEXT,
		takeoff_runway_ident         TEXT,
		landing_runway_ident         TEXT,
		runways_inferred             INTEGER NOT NULL DEFAULT 0,
		takeoff_altitude_offset_ft   INTEGER,
		landing_altitude_offset_ft   INTEGER,
		total_distance_meters        REAL NOT NULL DEFAULT 0,
		maximum_displacement_meters  REAL NOT NULL DEFAULT 0,
		callsign                     TEXT,
		last_fix_at                  DATETIME NOT NULL,
		towed_by_flight_id           TEXT,
		tow_release_altitude_ft      INTEGER,
		tow_release_time             DATETIME,
		closed_reason                TEXT
	);

	CREATE TABLE IF NOT EXISTS fixes (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		aircraft_id         TEXT NOT NULL,
		flight_id           TEXT,
		timestamp           DATETIME NOT NULL,
		received_at         DATETIME NOT NULL,
		latitude            REAL NOT NULL,
		longitude           REAL NOT NULL,
		altitude_msl_feet   INTEGER,
		altitude_agl_feet   INTEGER,
		ground_speed_knots  REAL,
		track_degrees       REAL,
		climb_fpm           REAL,
		turn_rate_rot       REAL,
		address             INTEGER NOT NULL,
		address_type        TEXT NOT NULL,
		is_active           INTEGER NOT NULL,
		callsign            TEXT,
		registration        TEXT,
		source_format       TEXT,
		time_gap_seconds    REAL
	);

	CREATE INDEX IF NOT EXISTS idx_fixes_flight ON fixes(flight_id);
	CREATE INDEX IF NOT EXISTS idx_fixes_aircraft_time ON fixes(aircraft_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// --- aircraft.Store ---

func (s *SQLiteStore) scanAircraftRow(row *sql.Row) (*aircraft.Aircraft, error) {
	var ac aircraft.Aircraft
	err := row.Scan(
		&ac.ID, &ac.ICAOAddress, &ac.FlarmAddress, &ac.OGNAddress, &ac.OtherAddress,
		&ac.Registration, &ac.PendingRegistration,
		&ac.AircraftCategory, &ac.AircraftTypeOGN, &ac.ICAOModelCode, &ac.ADSBEmitterCat,
		&ac.TrackerDeviceType, &ac.AircraftModel, &ac.CountryCode, &ac.ClubID, &ac.HomeBaseAirportID,
		&ac.LastFixAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

func sqliteAddressColumn(t aircraft.AddressType) (string, error) {
	switch t {
	case aircraft.AddressICAO:
		return "icao_address", nil
	case aircraft.AddressFlarm:
		return "flarm_address", nil
	case aircraft.AddressOGN:
		return "ogn_address", nil
	case aircraft.AddressOther:
		return "other_address", nil
	default:
		return "", fmt.Errorf("store: unsupported address type %v", t)
	}
}

func (s *SQLiteStore) GetByAddress(ctx context.Context, addrType aircraft.AddressType, addr int32) (*aircraft.Aircraft, error) {
	column, err := sqliteAddressColumn(addrType)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE %s = ?`, aircraftColumns, column), addr)
	return s.scanAircraftRow(row)
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*aircraft.Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE id = ?`, aircraftColumns), id)
	return s.scanAircraftRow(row)
}

// MergeByRegistration reproduces the production merge-by-registration
// fast path with a plain read-then-write transaction; SQLite access is
// already serialized by mu, so the unique-violation race the PostgreSQL
// backend guards against cannot happen here.
func (s *SQLiteStore) MergeByRegistration(ctx context.Context, registration string, addrType aircraft.AddressType, addr int32) (*aircraft.Aircraft, bool, error) {
	column, err := sqliteAddressColumn(addrType)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE registration = ?`, aircraftColumns), registration)
	ac, err := s.scanAircraftRow(row)
	if err != nil || ac == nil {
		return nil, false, err
	}
	if ac.HasAddressSlot(addrType) {
		return nil, false, nil
	}
	var taken int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM aircraft WHERE %s = ?`, column), addr).Scan(&taken); err != nil {
		return nil, false, err
	}
	if taken > 0 {
		return nil, false, nil
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE aircraft SET %s = ? WHERE id = ?`, column), addr, ac.ID); err != nil {
		return nil, false, err
	}
	ac.SetAddressSlot(addrType, addr)
	return ac, true, nil
}

// UpsertByAddress mirrors the PostgreSQL backend's field-update rules
// under the serializing mutex instead of a single ON CONFLICT statement.
func (s *SQLiteStore) UpsertByAddress(ctx context.Context, addrType aircraft.AddressType, addr int32, fields aircraft.PacketFields, countryCode, derivedRegistration string) (*aircraft.Aircraft, error) {
	column, err := sqliteAddressColumn(addrType)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE %s = ?`, aircraftColumns, column), addr)
	existing, err := s.scanAircraftRow(row)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		id := newSQLiteID()
		var registration, pending *string
		if fields.Registration != "" {
			if owner, _ := s.findOwnerOfRegistrationLocked(ctx, fields.Registration, ""); owner == nil {
				reg := fields.Registration
				registration = &reg
			} else {
				pending = &fields.Registration
			}
		} else if derivedRegistration != "" {
			pending = &derivedRegistration
		}
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO aircraft (id, %s, registration, pending_registration, aircraft_category,
				tracker_device_type, icao_model_code, adsb_emitter_category, aircraft_model, country_code, last_fix_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, column), id, addr, registration, pending, fields.AircraftCategory, fields.TrackerDeviceType,
			fields.ICAOModelCode, fields.ADSBEmitterCat, fields.AircraftModel, countryCode, now)
		if err != nil {
			return nil, fmt.Errorf("insert aircraft: %w", err)
		}
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE id = ?`, aircraftColumns), id)
		return s.scanAircraftRow(row)
	}

	existing.AircraftCategory = fields.AircraftCategory
	existing.TrackerDeviceType = fields.TrackerDeviceType
	if existing.ICAOModelCode == "" {
		existing.ICAOModelCode = fields.ICAOModelCode
	}
	if existing.ADSBEmitterCat == "" {
		existing.ADSBEmitterCat = fields.ADSBEmitterCat
	}
	if existing.AircraftModel == "" {
		existing.AircraftModel = fields.AircraftModel
	}
	pending := existing.PendingRegistration
	if existing.Registration == nil && fields.Registration != "" {
		if owner, _ := s.findOwnerOfRegistrationLocked(ctx, fields.Registration, existing.ID); owner == nil {
			existing.Registration = &fields.Registration
		} else {
			pending = &fields.Registration
		}
	}
	existing.LastFixAt = now

	_, err = s.db.ExecContext(ctx, `
		UPDATE aircraft SET aircraft_category = ?, tracker_device_type = ?, icao_model_code = ?,
			adsb_emitter_category = ?, aircraft_model = ?, registration = ?, pending_registration = ?, last_fix_at = ?
		WHERE id = ?
	`, existing.AircraftCategory, existing.TrackerDeviceType, existing.ICAOModelCode,
		existing.ADSBEmitterCat, existing.AircraftModel, existing.Registration, pending, existing.LastFixAt, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("update aircraft: %w", err)
	}
	existing.PendingRegistration = pending
	return existing, nil
}

func (s *SQLiteStore) UpdateMetadata(ctx context.Context, id string, fields aircraft.PacketFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE aircraft SET
			aircraft_category = CASE WHEN ? != '' THEN ? ELSE aircraft_category END,
			tracker_device_type = CASE WHEN ? != '' THEN ? ELSE tracker_device_type END,
			icao_model_code = COALESCE(icao_model_code, NULLIF(?, '')),
			adsb_emitter_category = COALESCE(adsb_emitter_category, NULLIF(?, '')),
			aircraft_model = COALESCE(aircraft_model, NULLIF(?, '')),
			registration = COALESCE(registration, NULLIF(?, ''))
		WHERE id = ?
	`, fields.AircraftCategory, fields.AircraftCategory, fields.TrackerDeviceType, fields.TrackerDeviceType,
		fields.ICAOModelCode, fields.ADSBEmitterCat, fields.AircraftModel, fields.Registration, id)
	return err
}

func (s *SQLiteStore) TouchLastFixAt(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE aircraft SET last_fix_at = ? WHERE id = ? AND (last_fix_at IS NULL OR last_fix_at < ?)`, at, id, at)
	return err
}

func (s *SQLiteStore) PreloadRecent(ctx context.Context, since time.Time) ([]*aircraft.Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE last_fix_at >= ?`, aircraftColumns), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAircraftRows(rows)
}

func (s *SQLiteStore) FindPendingRegistrations(ctx context.Context) ([]*aircraft.Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE pending_registration IS NOT NULL`, aircraftColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAircraftRows(rows)
}

func scanAircraftRows(rows *sql.Rows) ([]*aircraft.Aircraft, error) {
	var out []*aircraft.Aircraft
	for rows.Next() {
		var ac aircraft.Aircraft
		if err := rows.Scan(
			&ac.ID, &ac.ICAOAddress, &ac.FlarmAddress, &ac.OGNAddress, &ac.OtherAddress,
			&ac.Registration, &ac.PendingRegistration,
			&ac.AircraftCategory, &ac.AircraftTypeOGN, &ac.ICAOModelCode, &ac.ADSBEmitterCat,
			&ac.TrackerDeviceType, &ac.AircraftModel, &ac.CountryCode, &ac.ClubID, &ac.HomeBaseAirportID,
			&ac.LastFixAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &ac)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) findOwnerOfRegistrationLocked(ctx context.Context, registration, excludeID string) (*aircraft.Aircraft, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE registration = ? AND id <> ?`, aircraftColumns), registration, excludeID)
	return s.scanAircraftRow(row)
}

func (s *SQLiteStore) FindOwnerOfRegistration(ctx context.Context, registration, excludeID string) (*aircraft.Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findOwnerOfRegistrationLocked(ctx, registration, excludeID)
}

func (s *SQLiteStore) PromotePendingRegistration(ctx context.Context, id, registration string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE aircraft SET registration = ?, pending_registration = NULL WHERE id = ?`, registration, id)
	return err
}

func (s *SQLiteStore) MergeDuplicate(ctx context.Context, targetID, duplicateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE flights SET aircraft_id = ? WHERE aircraft_id = ?`, targetID, duplicateID); err != nil {
		return fmt.Errorf("reassign flights: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE fixes SET aircraft_id = ? WHERE aircraft_id = ?`, targetID, duplicateID); err != nil {
		return fmt.Errorf("reassign fixes: %w", err)
	}

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE id = ?`, aircraftColumns), duplicateID)
	var dup aircraft.Aircraft
	if err := row.Scan(
		&dup.ID, &dup.ICAOAddress, &dup.FlarmAddress, &dup.OGNAddress, &dup.OtherAddress,
		&dup.Registration, &dup.PendingRegistration,
		&dup.AircraftCategory, &dup.AircraftTypeOGN, &dup.ICAOModelCode, &dup.ADSBEmitterCat,
		&dup.TrackerDeviceType, &dup.AircraftModel, &dup.CountryCode, &dup.ClubID, &dup.HomeBaseAirportID,
		&dup.LastFixAt,
	); err != nil {
		return fmt.Errorf("load duplicate: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM aircraft WHERE id = ?`, duplicateID); err != nil {
		return fmt.Errorf("delete duplicate: %w", err)
	}

	for _, t := range [...]aircraft.AddressType{aircraft.AddressICAO, aircraft.AddressFlarm, aircraft.AddressOGN, aircraft.AddressOther} {
		v := dup.AddressSlot(t)
		if v == nil {
			continue
		}
		column, _ := sqliteAddressColumn(t)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE aircraft SET %s = ? WHERE id = ? AND %s IS NULL`, column, column), *v, targetID); err != nil {
			return fmt.Errorf("copy %s: %w", column, err)
		}
	}

	return tx.Commit()
}

var sqliteIDCounter int64
var sqliteIDMu sync.Mutex

// newSQLiteID generates a monotonically increasing id string; avoids a
// real UUID library dependency for a dev-only backend where global
// uniqueness across processes is not required.
func newSQLiteID() string {
	sqliteIDMu.Lock()
	defer sqliteIDMu.Unlock()
	sqliteIDCounter++
	return fmt.Sprintf("sqlite-aircraft-%d", sqliteIDCounter)
}

// --- FlightStore ---

func (s *SQLiteStore) scanFlightRow(row *sql.Row) (*Flight, error) {
	var fl Flight
	err := row.Scan(
		&fl.ID, &fl.AircraftID, &fl.TakeoffTime, &fl.LandingTime, &fl.TimedOutAt,
		&fl.TakeoffLocationID, &fl.LandingLocationID, &fl.DepartureAirportID, &fl.ArrivalAirportID,
		&fl.TakeoffRunwayIdent, &fl.LandingRunwayIdent, &fl.RunwaysInferred,
		&fl.TakeoffAltitudeOffsetFt, &fl.LandingAltitudeOffsetFt,
		&fl.TotalDistanceMeters, &fl.MaximumDisplacementMeters, &fl.Callsign, &fl.LastFixAt,
		&fl.TowedByFlightID, &fl.TowReleaseAltitudeFt, &fl.TowReleaseTime, &fl.ClosedReason,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fl, nil
}

func (s *SQLiteStore) CreateFlight(ctx context.Context, fl *Flight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fl.ID == "" {
		fl.ID = newSQLiteID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flights (id, aircraft_id, takeoff_time, landing_time, timed_out_at,
			takeoff_location_id, landing_location_id, departure_airport_id, arrival_airport_id,
			takeoff_runway_ident, landing_runway_ident, runways_inferred,
			takeoff_altitude_offset_ft, landing_altitude_offset_ft,
			total_distance_meters, maximum_displacement_meters, callsign, last_fix_at,
			towed_by_flight_id, tow_release_altitude_ft, tow_release_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fl.ID, fl.AircraftID, fl.TakeoffTime, fl.LandingTime, fl.TimedOutAt,
		fl.TakeoffLocationID, fl.LandingLocationID, fl.DepartureAirportID, fl.ArrivalAirportID,
		fl.TakeoffRunwayIdent, fl.LandingRunwayIdent, fl.RunwaysInferred,
		fl.TakeoffAltitudeOffsetFt, fl.LandingAltitudeOffsetFt,
		fl.TotalDistanceMeters, fl.MaximumDisplacementMeters, fl.Callsign, fl.LastFixAt,
		fl.TowedByFlightID, fl.TowReleaseAltitudeFt, fl.TowReleaseTime)
	return err
}

func (s *SQLiteStore) UpdateFlightLanding(ctx context.Context, fl *Flight) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights SET landing_time = ?, landing_location_id = ?, arrival_airport_id = ?,
			landing_runway_ident = ?, runways_inferred = ?, landing_altitude_offset_ft = ?,
			total_distance_meters = ?, maximum_displacement_meters = ?, last_fix_at = ?
		WHERE id = ? AND landing_time IS NULL AND timed_out_at IS NULL
	`, fl.LandingTime, fl.LandingLocationID, fl.ArrivalAirportID, fl.LandingRunwayIdent,
		fl.RunwaysInferred, fl.LandingAltitudeOffsetFt, fl.TotalDistanceMeters, fl.MaximumDisplacementMeters, fl.LastFixAt, fl.ID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) TimeoutFlight(ctx context.Context, flightID string, timedOutAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights SET timed_out_at = ? WHERE id = ? AND landing_time IS NULL AND timed_out_at IS NULL
	`, timedOutAt, flightID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) ResumeTimedOutFlight(ctx context.Context, flightID string, lastFixAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights SET timed_out_at = NULL, last_fix_at = ?
		WHERE id = ? AND landing_time IS NULL AND timed_out_at IS NOT NULL
	`, lastFixAt, flightID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// TouchFlightLastFixAt advances last_fix_at for a flight that is still
// Active, without touching any other field.
func (s *SQLiteStore) TouchFlightLastFixAt(ctx context.Context, flightID string, lastFixAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights SET last_fix_at = ? WHERE id = ? AND landing_time IS NULL AND timed_out_at IS NULL
	`, lastFixAt, flightID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) DeleteFlight(ctx context.Context, flightID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM flights WHERE id = ?`, flightID)
	return err
}

// CloseFlight closes a flight without a landing (currently only the
// callsign-change transition), recording why rather than when it landed.
func (s *SQLiteStore) CloseFlight(ctx context.Context, flightID string, reason string, lastFixAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights SET closed_reason = ?, last_fix_at = ?
		WHERE id = ? AND landing_time IS NULL AND timed_out_at IS NULL AND closed_reason IS NULL
	`, reason, lastFixAt, flightID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateTowRelease records the glider-side flight's release from tow.
func (s *SQLiteStore) UpdateTowRelease(ctx context.Context, flightID, towedByFlightID string, releaseAltitudeFt int32, releaseTime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights SET towed_by_flight_id = ?, tow_release_altitude_ft = ?, tow_release_time = ?
		WHERE id = ?
	`, towedByFlightID, releaseAltitudeFt, releaseTime, flightID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) GetFlight(ctx context.Context, flightID string) (*Flight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM flights WHERE id = ?`, flightColumns), flightID)
	return s.scanFlightRow(row)
}

func (s *SQLiteStore) FindRecentTimedOutFlight(ctx context.Context, aircraftID string, within time.Duration) (*Flight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-within)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM flights WHERE aircraft_id = ? AND timed_out_at IS NOT NULL AND timed_out_at >= ?
		ORDER BY timed_out_at DESC LIMIT 1
	`, flightColumns), aircraftID, cutoff)
	return s.scanFlightRow(row)
}

func (s *SQLiteStore) FindActiveFlight(ctx context.Context, aircraftID string) (*Flight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM flights
		WHERE aircraft_id = ? AND landing_time IS NULL AND timed_out_at IS NULL AND closed_reason IS NULL
	`, flightColumns), aircraftID)
	return s.scanFlightRow(row)
}

// --- FixStore ---

func (s *SQLiteStore) InsertFix(ctx context.Context, f *fix.Fix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flightID *string
	if f.FlightID != "" {
		flightID = &f.FlightID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fixes (aircraft_id, flight_id, timestamp, received_at, latitude, longitude,
			altitude_msl_feet, altitude_agl_feet, ground_speed_knots, track_degrees, climb_fpm, turn_rate_rot,
			address, address_type, is_active, callsign, registration, source_format, time_gap_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.AircraftID, flightID, f.Timestamp, f.ReceivedAt, f.Latitude, f.Longitude,
		f.AltitudeMSLFeet, f.AltitudeAGLFeet, f.GroundSpeedKnots, f.TrackDegrees, f.ClimbFPM, f.TurnRateROT,
		f.Address, f.AddressType.String(), f.IsActive, f.Callsign, f.Registration, string(f.SourceFormat), f.TimeGapSeconds)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	f.ID = id
	return nil
}

func (s *SQLiteStore) ClearFlightIDOnFixes(ctx context.Context, flightID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE fixes SET flight_id = NULL WHERE flight_id = ?`, flightID)
	return err
}

// ReassignFixes reassigns every fix from duplicateAircraftID to
// targetAircraftID. MergeDuplicate already does this inline as part of
// its single transaction when SQLiteStore is used as both the aircraft
// store and the FixStore; this method exists so SQLiteStore also
// satisfies FixStore's merge-time reassignment contract standalone.
func (s *SQLiteStore) ReassignFixes(ctx context.Context, targetAircraftID, duplicateAircraftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE fixes SET aircraft_id = ? WHERE aircraft_id = ?`, targetAircraftID, duplicateAircraftID)
	return err
}

func (s *SQLiteStore) GetFixesForFlight(ctx context.Context, flightID string, limit int) ([]*fix.Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query := `SELECT id, aircraft_id, flight_id, timestamp, received_at, latitude, longitude,
		altitude_msl_feet, altitude_agl_feet, ground_speed_knots, track_degrees, climb_fpm, turn_rate_rot,
		address, address_type, is_active, callsign, registration, source_format, time_gap_seconds
		FROM fixes WHERE flight_id = ? ORDER BY timestamp`
	args := []interface{}{flightID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteFixes(rows)
}

func (s *SQLiteStore) GetFixesForAircraftInTimeRange(ctx context.Context, aircraftID string, from, to time.Time) ([]*fix.Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aircraft_id, flight_id, timestamp, received_at, latitude, longitude,
			altitude_msl_feet, altitude_agl_feet, ground_speed_knots, track_degrees, climb_fpm, turn_rate_rot,
			address, address_type, is_active, callsign, registration, source_format, time_gap_seconds
		FROM fixes WHERE aircraft_id = ? AND timestamp BETWEEN ? AND ? ORDER BY timestamp
	`, aircraftID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteFixes(rows)
}

func scanSQLiteFixes(rows *sql.Rows) ([]*fix.Fix, error) {
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
