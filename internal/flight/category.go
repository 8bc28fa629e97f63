package flight

import "strings"

// isGliderCategory and isTowtugCategory classify an aircraft's free-form
// category/type string for tow-pairing purposes. aircraft_category and
// aircraft_type_ogn are supplied by the wire protocols themselves (OGN's
// 4-bit aircraft-type token, ADS-B emitter category) and are not a closed
// enum here, so this is a best-effort substring match rather than a
// lookup against a fixed set of values.
func isGliderCategory(category string) bool {
	c := strings.ToLower(category)
	return strings.Contains(c, "glider") || strings.Contains(c, "sailplane")
}

func isTowtugCategory(category string) bool {
	c := strings.ToLower(category)
	return strings.Contains(c, "tow")
}
