// Package fix parses raw wire-format position reports (APRS-IS, Beast,
// SBS) into the canonical Fix record the rest of the pipeline consumes.
package fix

import (
	"errors"
	"math"
	"time"
)

// AddressType identifies which protocol-tagged address space an
// observed transmitter address belongs to.
type AddressType int

const (
	AddressUnknown AddressType = iota
	AddressICAO
	AddressFlarm
	AddressOGN
)

func (t AddressType) String() string {
	switch t {
	case AddressICAO:
		return "icao"
	case AddressFlarm:
		return "flarm"
	case AddressOGN:
		return "ogn"
	default:
		return "unknown"
	}
}

// Format identifies the wire protocol a frame was decoded from.
type Format string

const (
	FormatAPRS  Format = "aprs"
	FormatBeast Format = "beast"
	FormatSBS   Format = "sbs"
)

func (f Format) Format() string { return string(f) }

// Format satisfies registry.Result so a Fix produced by a decoder's
// Parse method can flow through registry.Registry.Dispatch.
func (f *Fix) Format() string { return string(f.SourceFormat) }

// Fix is an observation of an aircraft's position at a point in time.
// It is immutable once persisted.
type Fix struct {
	ID         int64 // assigned on persist
	Timestamp  time.Time
	ReceivedAt time.Time

	Latitude  float64
	Longitude float64

	AltitudeMSLFeet *int32
	AltitudeAGLFeet *int32

	GroundSpeedKnots *float64
	TrackDegrees     *float64
	ClimbFPM         *float64
	TurnRateROT      *float64

	Address     int32
	AddressType AddressType
	AircraftID  string // resolved by AircraftCache; empty until then

	FlightID string // assigned by FlightStateMachine; empty until a flight exists
	IsActive bool   // derived verdict, not persisted on its own

	Callsign     string
	Registration string

	// SourceFormat is the wire format this fix was decoded from; set by
	// the owning decoder's Parse method so a Fix can satisfy registry.Result.
	SourceFormat Format

	// Signal-quality fields, present only for APRS/OGN sources.
	SNRdB       *float64
	BitErrors   *int32
	FreqOffsetK *float64

	// Raw carries any opaque auxiliary tokens a decoder didn't map to a
	// typed field (e.g. squawk, flight number hint, model hint).
	Raw map[string]string

	TimeGapSeconds float64 // seconds since the previous fix for this aircraft; filled by the pipeline
}

var (
	// ErrDropped means the frame was a non-position record (status,
	// server comment, beacon) and legitimately produced no Fix.
	ErrDropped = errors.New("fix: frame produced no position")

	// ErrInvalidCoordinate means the parsed fix failed Valid: a coordinate
	// fell outside WGS84 range, or a speed/track pair was not finite.
	ErrInvalidCoordinate = errors.New("fix: coordinate out of range")

	// ErrParse is wrapped around any other decode failure.
	ErrParse = errors.New("fix: parse failure")
)

// Valid reports whether the fix satisfies the data-model invariants from
// the coordinate and speed/track pairing rules.
func (f *Fix) Valid() bool {
	if f.Latitude < -90 || f.Latitude > 90 {
		return false
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return false
	}
	if f.GroundSpeedKnots != nil && f.TrackDegrees != nil {
		if !isFinite(*f.GroundSpeedKnots) || !isFinite(*f.TrackDegrees) {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
