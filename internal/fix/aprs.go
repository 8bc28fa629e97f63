package fix

import (
	"strconv"
	"strings"
	"time"

	"flighttrace/internal/patterns"
	"flighttrace/internal/registry"
)

// aprsDecoder parses the APRS-IS text wire format used by the OGN/FLARM
// glider-tracking network: "FROM>TO,VIA1,VIA2:body", where a position
// body begins with one of !/=@.
//
// Example: FLR395F39>APRS,qAS,OXFORD:/120000h5145.945N/00111.511W'057/057/A=000407 !W02! id06395F39
type aprsDecoder struct{}

func (d *aprsDecoder) Name() string  { return "aprs" }
func (d *aprsDecoder) Priority() int { return 10 }

func (d *aprsDecoder) QuickCheck(frame []byte) bool {
	return strings.Contains(string(frame), ">") && strings.Contains(string(frame), ":")
}

// Parse satisfies registry.Parser for frame-sniffing callers that only
// have the registry's generic interface in hand.
func (d *aprsDecoder) Parse(frame []byte) registry.Result {
	fx, err := d.decode(frame, time.Now().UTC())
	if err != nil {
		return nil
	}
	fx.SourceFormat = FormatAPRS
	return fx
}

var commentCompiler = patterns.NewCompiler([]patterns.Format{
	{Name: "ogn_id", Pattern: `ID(?P<flags>{ADDR_FLAGS})(?P<addr>{ADDR_HEX})`},
	{Name: "climb", Pattern: `(?P<climb>{CLIMB_FPM})FPM`},
	{Name: "turn", Pattern: `(?P<turn>{TURN_ROT})ROT`},
	{Name: "precision", Pattern: `!W(?P<prec>{PRECISION})!`},
	{Name: "freq_offset", Pattern: `(?P<freq>[+-][\d.]+)KHZ`},
	{Name: "snr", Pattern: `(?P<snr>[\d.]+)DB`},
	{Name: "bit_errors", Pattern: `(?P<errors>\d+)E`},
	{Name: "flight_number", Pattern: `FN(?P<fn>[A-Z0-9]+):`},
	{Name: "registration", Pattern: `REG(?P<reg>[A-Z0-9-]+)`},
	{Name: "squawk", Pattern: `SQ(?P<squawk>[0-7]{4})`},
}, nil)

func init() {
	if err := commentCompiler.Compile(); err != nil {
		panic("fix: aprs comment patterns failed to compile: " + err.Error())
	}
}

func (d *aprsDecoder) decode(raw []byte, receivedAt time.Time) (*Fix, error) {
	line := strings.TrimSpace(string(raw))
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, ErrDropped // server comment/keepalive line
	}

	colon := strings.Index(line, ":")
	if colon < 0 {
		return nil, ErrParse
	}
	header, body := line[:colon], line[colon+1:]

	gt := strings.Index(header, ">")
	if gt < 0 {
		return nil, ErrParse
	}
	from := header[:gt]

	if body == "" {
		return nil, ErrDropped
	}

	switch body[0] {
	case '!', '=', '@', '/':
		// position report, handled below
	default:
		return nil, ErrDropped // status/message/object packet, not a position
	}

	hasTimestamp := body[0] == '@' || body[0] == '/'
	rest := body[1:]

	fx := &Fix{
		ReceivedAt:  receivedAt,
		Timestamp:   receivedAt,
		AddressType: addressTypeFromCallsignPrefix(from),
		Callsign:    from,
	}

	if hasTimestamp {
		if len(rest) < 7 {
			return nil, ErrParse
		}
		hhmmss := rest[:6]
		tfmt := rest[6]
		rest = rest[7:]
		if tfmt == 'h' {
			ts, err := combineWithUTCDay(hhmmss, receivedAt)
			if err != nil {
				return nil, ErrParse
			}
			fx.Timestamp = ts
		}
	}

	// DDMM.MMM (8) + hemisphere (1) + symbol table id (1) + DDDMM.MMM (9)
	// + hemisphere (1) + symbol code (1) = 21 chars minimum.
	if len(rest) < 21 {
		return nil, ErrParse
	}
	latStr := rest[0:8]
	latDir := rest[8:9]
	// rest[9] is the symbol table identifier, skip.
	lonStr := rest[10:19]
	lonDir := rest[19:20]
	// rest[20] is the symbol code, skip.
	comment := rest[21:]

	fx.Latitude = parseAPRSDegMin(latStr, latDir, 2)
	fx.Longitude = parseAPRSDegMin(lonStr, lonDir, 3)

	if len(comment) >= 7 && comment[3] == '/' {
		course, err1 := strconv.Atoi(comment[0:3])
		speed, err2 := strconv.Atoi(comment[4:7])
		if err1 == nil && err2 == nil {
			c := float64(course)
			s := float64(speed)
			fx.TrackDegrees = &c
			fx.GroundSpeedKnots = &s
			comment = strings.TrimSpace(comment[7:])
			comment = strings.TrimPrefix(comment, "/")
		}
	}

	applyAPRSComment(fx, comment)

	return fx, nil
}

// parseAPRSDegMin converts an APRS DDMM.MMM / DDDMM.MMM token
// (degDigits degree digits followed by MM.MMM minutes) plus hemisphere
// letter to decimal degrees, reusing the shared DMS parser.
func parseAPRSDegMin(token, dir string, degDigits int) float64 {
	return patterns.ParseDMSCoord(token, degDigits, dir)
}

// applyAPRSComment extracts the typed-address token and auxiliary
// fields from the free-text comment trailing a position report.
func applyAPRSComment(fx *Fix, comment string) {
	upper := strings.ToUpper(comment)

	if idx := strings.Index(upper, "A="); idx >= 0 && idx+8 <= len(upper) {
		if alt, err := strconv.Atoi(upper[idx+2 : idx+8]); err == nil {
			a := int32(alt)
			fx.AltitudeMSLFeet = &a
		}
	}

	trace := commentCompiler.ParseAll(upper)
	raw := make(map[string]string)
	for _, m := range trace {
		switch m.FormatName {
		case "ogn_id":
			applyOGNAddress(fx, m.Captures["flags"], m.Captures["addr"])
		case "climb":
			if v, err := strconv.ParseFloat(m.Captures["climb"], 64); err == nil {
				fx.ClimbFPM = &v
			}
		case "turn":
			if v, err := strconv.ParseFloat(m.Captures["turn"], 64); err == nil {
				fx.TurnRateROT = &v
			}
		case "freq_offset":
			if v, err := strconv.ParseFloat(m.Captures["freq"], 64); err == nil {
				fx.FreqOffsetK = &v
			}
		case "snr":
			if v, err := strconv.ParseFloat(m.Captures["snr"], 64); err == nil {
				fx.SNRdB = &v
			}
		case "bit_errors":
			if v, err := strconv.Atoi(m.Captures["errors"]); err == nil {
				e := int32(v)
				fx.BitErrors = &e
			}
		case "flight_number":
			raw["flight_number"] = m.Captures["fn"]
		case "registration":
			fx.Registration = m.Captures["reg"]
		case "squawk":
			raw["squawk"] = m.Captures["squawk"]
		}
	}
	if len(raw) > 0 {
		fx.Raw = raw
	}
}

// addressTypeFromCallsignPrefix returns a fallback AddressType hint
// derived from the station callsign prefix OGN/FLARM network hardware
// advertises itself under (FLR: FLARM, ICA: ADS-B rebroadcast, OGN/SKY/
// PAW/FAN: OGN-protocol trackers). It seeds fx.AddressType before the
// comment is parsed; applyOGNAddress's idXXYYYYYY flags byte, when
// present, is the authoritative source and overrides this hint.
func addressTypeFromCallsignPrefix(from string) AddressType {
	switch {
	case strings.HasPrefix(from, "FLR"):
		return AddressFlarm
	case strings.HasPrefix(from, "ICA"):
		return AddressICAO
	default:
		return AddressOGN
	}
}

// applyOGNAddress decodes the "idXXYYYYYY" token: XX is a flag byte
// (stealth | no-tracking | 4-bit aircraft type | 2-bit address type),
// YYYYYY is the 24-bit transmitter address.
func applyOGNAddress(fx *Fix, flagsHex, addrHex string) {
	addr, err := strconv.ParseInt(addrHex, 16, 64)
	if err != nil {
		return
	}
	fx.Address = int32(addr)

	flags, err := strconv.ParseInt(flagsHex, 16, 64)
	if err != nil {
		fx.AddressType = AddressOGN
		return
	}
	switch flags & 0x03 {
	case 1:
		fx.AddressType = AddressICAO
	case 2:
		fx.AddressType = AddressFlarm
	default:
		fx.AddressType = AddressOGN
	}
}

// combineWithUTCDay combines an HHMMSS zulu time-of-day with the
// current UTC day, rolling over to the previous/next day when the
// wire time is more than 12h away from the observation instant.
func combineWithUTCDay(hhmmss string, receivedAt time.Time) (time.Time, error) {
	h, err1 := strconv.Atoi(hhmmss[0:2])
	m, err2 := strconv.Atoi(hhmmss[2:4])
	s, err3 := strconv.Atoi(hhmmss[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, ErrParse
	}

	day := receivedAt.UTC()
	candidate := time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, time.UTC)

	delta := candidate.Sub(day)
	if delta > 12*time.Hour {
		candidate = candidate.AddDate(0, 0, -1)
	} else if delta < -12*time.Hour {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}
