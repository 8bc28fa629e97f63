// Package patterns provides shared regex patterns and helper functions for
// wire-format position-report parsing.
// This file contains grok-style base patterns for use with the Compiler.

package patterns

// BasePatterns defines reusable regex components for grok-style pattern composition.
// These are referenced in format patterns using {PATTERN_NAME} syntax.
var BasePatterns = map[string]string{
	// APRS-IS source/destination callsigns (amateur-radio style, SSID suffix optional).
	"CALLSIGN": `[A-Z0-9]{3,9}(?:-\d{1,2})?`,

	// APRS digipeater path, e.g. "qAS,OXFORD" or "TCPIP*,qAC,GLIDERN1".
	"PATH": `[A-Za-z0-9*,]+`,

	// Timestamp forms used in the APRS position report (HHMMSS zulu).
	"TIME6": `\d{6}`,

	// Coordinates - latitude formats (degrees-minutes.fraction with hemisphere letter).
	"LAT_DM":  `\d{4}\.\d{2}`, // DDMM.MM
	"LAT_DIR": `[NS]`,

	// Coordinates - longitude formats.
	"LON_DM":  `\d{5}\.\d{2}`, // DDDMM.MM
	"LON_DIR": `[EW]`,

	// Symbol table identifier and symbol code (APRS map icon selector).
	"SYMTABLE": `.`,
	"SYMBOL":   `.`,

	// Course/speed, grouped as "CCC/SSS" per the APRS position-with-course spec.
	"TRACK": `\d{3}`,
	"SPEED": `\d{3}`,

	// Barometric/pressure altitude token, "A=NNNNNN" feet.
	"ALT": `\d{6}`,

	// OGN/FLARM typed address token, "idXXYYYYYY": 2 hex flags + 6 hex address.
	"ADDR_FLAGS": `[0-9A-F]{2}`,
	"ADDR_HEX":   `[0-9A-F]{6}`,

	// Climb rate and turn rate appended by OGN receivers, e.g. "+120fpm +1.2rot".
	"CLIMB_FPM": `[+-]\d+`,
	"TURN_ROT":  `[+-]?\d+\.\d`,

	// Precision / position-ambiguity token, "!WDD!".
	"PRECISION": `\d{2}`,
}
