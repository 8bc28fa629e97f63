package fix

import (
	"strconv"
	"strings"
	"time"

	"flighttrace/internal/registry"
)

// sbsDecoder parses the SBS/BaseStation CSV format emitted by
// dump1090's port 30003 and similar feeders:
//
//	MSG,3,1,1,4CA2C5,1,2026/06/01,12:00:05.000,2026/06/01,12:00:05.000,,18000,,,51.4700,-0.4543,,,,,,0
//
// Field order: msg type, transmission type, session id, aircraft id,
// hex ident, flight id, date generated, time generated, date logged,
// time logged, callsign, altitude, ground speed, track, lat, lon,
// vertical rate, squawk, alert, emergency, spi, on-ground.
type sbsDecoder struct{}

func (d *sbsDecoder) Name() string  { return "sbs" }
func (d *sbsDecoder) Priority() int { return 30 }

func (d *sbsDecoder) QuickCheck(frame []byte) bool {
	return strings.HasPrefix(string(frame), "MSG,")
}

// Parse satisfies registry.Parser for frame-sniffing callers that only
// have the registry's generic interface in hand.
func (d *sbsDecoder) Parse(frame []byte) registry.Result {
	fx, err := d.decode(frame, time.Now().UTC())
	if err != nil {
		return nil
	}
	fx.SourceFormat = FormatSBS
	return fx
}

const (
	sbsFieldHexIdent = 4
	sbsFieldDate     = 6
	sbsFieldTime     = 7
	sbsFieldCallsign = 10
	sbsFieldAltitude = 11
	sbsFieldSpeed    = 12
	sbsFieldTrack    = 13
	sbsFieldLat      = 14
	sbsFieldLon      = 15
	sbsMinFields     = 16
)

func (d *sbsDecoder) decode(raw []byte, receivedAt time.Time) (*Fix, error) {
	line := strings.TrimSpace(string(raw))
	fields := strings.Split(line, ",")
	if len(fields) < sbsMinFields || fields[0] != "MSG" {
		return nil, ErrParse
	}

	latStr := fields[sbsFieldLat]
	lonStr := fields[sbsFieldLon]
	if latStr == "" || lonStr == "" {
		return nil, ErrDropped // identification/velocity-only message, no position
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, ErrParse
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, ErrParse
	}

	icao, err := strconv.ParseInt(strings.TrimSpace(fields[sbsFieldHexIdent]), 16, 64)
	if err != nil {
		return nil, ErrParse
	}

	fx := &Fix{
		ReceivedAt:  receivedAt,
		Timestamp:   parseSBSTimestamp(fields[sbsFieldDate], fields[sbsFieldTime], receivedAt),
		Latitude:    lat,
		Longitude:   lon,
		Address:     int32(icao),
		AddressType: AddressICAO,
		Callsign:    strings.TrimSpace(fields[sbsFieldCallsign]),
	}

	if v, err := strconv.Atoi(strings.TrimSpace(fields[sbsFieldAltitude])); err == nil {
		a := int32(v)
		fx.AltitudeMSLFeet = &a
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(fields[sbsFieldSpeed]), 64); err == nil {
		fx.GroundSpeedKnots = &v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(fields[sbsFieldTrack]), 64); err == nil {
		fx.TrackDegrees = &v
	}

	return fx, nil
}

// parseSBSTimestamp combines the "YYYY/MM/DD" and "HH:MM:SS.mmm"
// fields BaseStation emits; on any parse failure it falls back to the
// receive time.
func parseSBSTimestamp(date, clock string, receivedAt time.Time) time.Time {
	if date == "" || clock == "" {
		return receivedAt
	}
	ts, err := time.ParseInLocation("2006/01/02 15:04:05.000", date+" "+clock, time.UTC)
	if err != nil {
		return receivedAt
	}
	return ts
}
