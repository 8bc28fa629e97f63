package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"flighttrace/internal/aircraft"
)

// PostgresConfig holds PostgreSQL connection settings for the mutable
// aircraft/flight state store.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// PostgresStore implements aircraft.Store and FlightStore against a
// PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, cfg.Database, sslMode)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (d *PostgresStore) Close() { d.pool.Close() }

// CreateSchema creates the PostgreSQL tables backing aircraft and flight state.
func (d *PostgresStore) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS aircraft (
		id                    UUID PRIMARY KEY,
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
		club_id               UUID,
		home_base_airport_id  UUID,
		last_fix_at           TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_aircraft_pending_registration
		ON aircraft(pending_registration) WHERE pending_registration IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_aircraft_last_fix_at ON aircraft(last_fix_at);

	CREATE TABLE IF NOT EXISTS flights (
		id                           UUID PRIMARY KEY,
		aircraft_id                  UUID NOT NULL REFERENCES aircraft(id),
		takeoff_time                 TIMESTAMPTZ,
		landing_time                 TIMESTAMPTZ,
		timed_out_at                 TIMESTAMPTZ,
		takeoff_location_id          TEXT,
		landing_location_id          TEXT,
		departure_airport_id         TEXT,
		arrival_airport_id           TEXT,
		takeoff_runway_ident         TEXT,
		landing_runway_ident         TEXT,
		runways_inferred             BOOLEAN NOT NULL DEFAULT FALSE,
		takeoff_altitude_offset_ft   INTEGER,
		landing_altitude_offset_ft   INTEGER,
		total_distance_meters        DOUBLE PRECISION NOT NULL DEFAULT 0,
		maximum_displacement_meters  DOUBLE PRECISION NOT NULL DEFAULT 0,
		callsign                     TEXT,
		last_fix_at                  TIMESTAMPTZ NOT NULL,
		towed_by_flight_id           UUID REFERENCES flights(id),
		tow_release_altitude_ft      INTEGER,
		tow_release_time             TIMESTAMPTZ,
		closed_reason                TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_flights_aircraft ON flights(aircraft_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_flights_one_active_per_aircraft
		ON flights(aircraft_id) WHERE landing_time IS NULL AND timed_out_at IS NULL AND closed_reason IS NULL;
	`
	_, err := d.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func scanAircraft(row pgx.Row) (*aircraft.Aircraft, error) {
	var ac aircraft.Aircraft
	err := row.Scan(
		&ac.ID, &ac.ICAOAddress, &ac.FlarmAddress, &ac.OGNAddress, &ac.OtherAddress,
		&ac.Registration, &ac.PendingRegistration,
		&ac.AircraftCategory, &ac.AircraftTypeOGN, &ac.ICAOModelCode, &ac.ADSBEmitterCat,
		&ac.TrackerDeviceType, &ac.AircraftModel, &ac.CountryCode, &ac.ClubID, &ac.HomeBaseAirportID,
		&ac.LastFixAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ac, nil
}

const aircraftColumns = `id, icao_address, flarm_address, ogn_address, other_address,
	registration, pending_registration, aircraft_category, aircraft_type_ogn, icao_model_code,
	adsb_emitter_category, tracker_device_type, aircraft_model, country_code, club_id,
	home_base_airport_id, last_fix_at`

// GetByAddress looks up an aircraft by one typed address slot.
func (d *PostgresStore) GetByAddress(ctx context.Context, addrType aircraft.AddressType, addr int32) (*aircraft.Aircraft, error) {
	column, err := addressColumn(addrType)
	if err != nil {
		return nil, err
	}
	row := d.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE %s = $1`, aircraftColumns, column), addr)
	return scanAircraft(row)
}

// GetByID looks up an aircraft by its id.
func (d *PostgresStore) GetByID(ctx context.Context, id string) (*aircraft.Aircraft, error) {
	row := d.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE id = $1`, aircraftColumns), id)
	return scanAircraft(row)
}

func addressColumn(t aircraft.AddressType) (string, error) {
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

// MergeByRegistration implements the merge-by-registration fast path: if
// an aircraft already owns registration and its addrType slot is empty,
// claim addr on that row. A unique-violation racing a concurrent address
// upsert is treated as ok=false so the caller falls back to UpsertByAddress,
// whose ON CONFLICT path is race-free.
func (d *PostgresStore) MergeByRegistration(ctx context.Context, registration string, addrType aircraft.AddressType, addr int32) (*aircraft.Aircraft, bool, error) {
	column, err := addressColumn(addrType)
	if err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf(`
		UPDATE aircraft SET %s = $1
		WHERE registration = $2 AND %s IS NULL
		RETURNING %s
	`, column, column, aircraftColumns)

	row := d.pool.QueryRow(ctx, query, addr, registration)
	ac, err := scanAircraft(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if ac == nil {
		return nil, false, nil
	}
	return ac, true, nil
}

// UpsertByAddress performs the race-free insert-or-update-returning keyed
// on the typed address column. A live packet overwrites category/tracker
// fields unconditionally and fills model/emitter/registration fields only
// when currently null (COALESCE semantics); a registration conflicting
// with another row is stashed in pending_registration instead of applied.
func (d *PostgresStore) UpsertByAddress(ctx context.Context, addrType aircraft.AddressType, addr int32, fields aircraft.PacketFields, countryCode, derivedRegistration string) (*aircraft.Aircraft, error) {
	column, err := addressColumn(addrType)
	if err != nil {
		return nil, err
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().UTC()

	var registration, pending *string
	if fields.Registration != "" {
		registration = &fields.Registration
	} else if derivedRegistration != "" {
		pending = &derivedRegistration
	}

	query := fmt.Sprintf(`
		INSERT INTO aircraft (id, %s, registration, pending_registration, aircraft_category,
			tracker_device_type, icao_model_code, adsb_emitter_category, aircraft_model, country_code, last_fix_at)
		VALUES ($1, $2,
			CASE WHEN EXISTS (SELECT 1 FROM aircraft a3 WHERE a3.registration = $3 AND a3.%s IS DISTINCT FROM $2) THEN NULL ELSE $3 END,
			CASE WHEN EXISTS (SELECT 1 FROM aircraft a3 WHERE a3.registration = $3 AND a3.%s IS DISTINCT FROM $2) THEN $3 ELSE $4 END,
			$5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (%s) DO UPDATE SET
			aircraft_category = EXCLUDED.aircraft_category,
			tracker_device_type = EXCLUDED.tracker_device_type,
			icao_model_code = COALESCE(aircraft.icao_model_code, EXCLUDED.icao_model_code),
			adsb_emitter_category = COALESCE(aircraft.adsb_emitter_category, EXCLUDED.adsb_emitter_category),
			aircraft_model = COALESCE(aircraft.aircraft_model, EXCLUDED.aircraft_model),
			registration = CASE
				WHEN aircraft.registration IS NOT NULL THEN aircraft.registration
				WHEN EXCLUDED.registration IS NULL THEN aircraft.registration
				WHEN NOT EXISTS (SELECT 1 FROM aircraft a2 WHERE a2.registration = EXCLUDED.registration AND a2.id <> aircraft.id)
					THEN EXCLUDED.registration
				ELSE aircraft.registration
			END,
			pending_registration = CASE
				WHEN aircraft.registration IS NULL AND EXCLUDED.registration IS NOT NULL
					AND EXISTS (SELECT 1 FROM aircraft a2 WHERE a2.registration = EXCLUDED.registration AND a2.id <> aircraft.id)
					THEN EXCLUDED.registration
				ELSE COALESCE(EXCLUDED.pending_registration, aircraft.pending_registration)
			END,
			last_fix_at = EXCLUDED.last_fix_at
		RETURNING %s
	`, column, column, column, column, aircraftColumns)

	row := d.pool.QueryRow(ctx, query, id, addr, registration, pending,
		fields.AircraftCategory, fields.TrackerDeviceType, fields.ICAOModelCode,
		fields.ADSBEmitterCat, fields.AircraftModel, countryCode, now)

	ac, err := scanAircraft(row)
	if err != nil {
		return nil, fmt.Errorf("upsert aircraft by %s: %w", column, err)
	}
	return ac, nil
}

// UpdateMetadata applies a cache-hit metadata improvement out of band.
func (d *PostgresStore) UpdateMetadata(ctx context.Context, id string, fields aircraft.PacketFields) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE aircraft SET
			aircraft_category = COALESCE(NULLIF($2, ''), aircraft_category),
			tracker_device_type = COALESCE(NULLIF($3, ''), tracker_device_type),
			icao_model_code = COALESCE(icao_model_code, NULLIF($4, '')),
			adsb_emitter_category = COALESCE(adsb_emitter_category, NULLIF($5, '')),
			aircraft_model = COALESCE(aircraft_model, NULLIF($6, '')),
			registration = COALESCE(registration, NULLIF($7, ''))
		WHERE id = $1
	`, id, fields.AircraftCategory, fields.TrackerDeviceType, fields.ICAOModelCode,
		fields.ADSBEmitterCat, fields.AircraftModel, fields.Registration)
	return err
}

// TouchLastFixAt advances last_fix_at for id.
func (d *PostgresStore) TouchLastFixAt(ctx context.Context, id string, at time.Time) error {
	_, err := d.pool.Exec(ctx, `UPDATE aircraft SET last_fix_at = $2 WHERE id = $1 AND (last_fix_at IS NULL OR last_fix_at < $2)`, id, at)
	return err
}

// PreloadRecent returns every aircraft with a fix more recent than since.
func (d *PostgresStore) PreloadRecent(ctx context.Context, since time.Time) ([]*aircraft.Aircraft, error) {
	rows, err := d.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE last_fix_at >= $1`, aircraftColumns), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*aircraft.Aircraft
	for rows.Next() {
		ac, err := scanAircraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

// FindPendingRegistrations returns every aircraft awaiting reconciliation.
func (d *PostgresStore) FindPendingRegistrations(ctx context.Context) ([]*aircraft.Aircraft, error) {
	rows, err := d.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE pending_registration IS NOT NULL`, aircraftColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*aircraft.Aircraft
	for rows.Next() {
		ac, err := scanAircraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

// FindOwnerOfRegistration finds the row (other than excludeID) that
// already owns registration, if any.
func (d *PostgresStore) FindOwnerOfRegistration(ctx context.Context, registration, excludeID string) (*aircraft.Aircraft, error) {
	row := d.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE registration = $1 AND id <> $2`, aircraftColumns), registration, excludeID)
	return scanAircraft(row)
}

// PromotePendingRegistration claims registration directly for id, used
// when no other row currently owns it.
func (d *PostgresStore) PromotePendingRegistration(ctx context.Context, id, registration string) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE aircraft SET registration = $2, pending_registration = NULL WHERE id = $1
	`, id, registration)
	return err
}

// MergeDuplicate folds duplicateID into targetID: reassign its flights
// (fixes live in the FixStore and are reassigned there by the merger),
// delete the duplicate row (freeing its typed-address unique
// constraints), then copy any address slot the target is still missing.
// This ordering — reassign, then delete, then copy — is required so
// neither a unique-index violation on typed addresses nor a "no address
// set" constraint can fire mid-transaction.
func (d *PostgresStore) MergeDuplicate(ctx context.Context, targetID, duplicateID string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE flights SET aircraft_id = $1 WHERE aircraft_id = $2`, targetID, duplicateID); err != nil {
		return fmt.Errorf("reassign flights: %w", err)
	}

	var dup aircraft.Aircraft
	err = tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM aircraft WHERE id = $1`, aircraftColumns), duplicateID).Scan(
		&dup.ID, &dup.ICAOAddress, &dup.FlarmAddress, &dup.OGNAddress, &dup.OtherAddress,
		&dup.Registration, &dup.PendingRegistration,
		&dup.AircraftCategory, &dup.AircraftTypeOGN, &dup.ICAOModelCode, &dup.ADSBEmitterCat,
		&dup.TrackerDeviceType, &dup.AircraftModel, &dup.CountryCode, &dup.ClubID, &dup.HomeBaseAirportID,
		&dup.LastFixAt,
	)
	if err != nil {
		return fmt.Errorf("load duplicate: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM aircraft WHERE id = $1`, duplicateID); err != nil {
		return fmt.Errorf("delete duplicate: %w", err)
	}

	for _, t := range [...]aircraft.AddressType{aircraft.AddressICAO, aircraft.AddressFlarm, aircraft.AddressOGN, aircraft.AddressOther} {
		v := dup.AddressSlot(t)
		if v == nil {
			continue
		}
		column, _ := addressColumn(t)
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE aircraft SET %s = $1 WHERE id = $2 AND %s IS NULL`, column, column), *v, targetID); err != nil {
			return fmt.Errorf("copy %s: %w", column, err)
		}
	}

	return tx.Commit(ctx)
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
