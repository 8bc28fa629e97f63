package aircraft

import "strings"

// countryBlock is one ICAO Annex 10 24-bit address allocation range. The
// table below is not exhaustive; it covers the major allocations likely
// to appear in test data and real traffic.
type countryBlock struct {
	lo, hi int32
	iso2   string
}

var countryBlocks = []countryBlock{
	{0xA00000, 0xAFFFFF, "US"},
	{0xC00000, 0xC3FFFF, "CA"},
	{0x400000, 0x43FFFF, "GB"},
	{0x3C0000, 0x3FFFFF, "DE"},
	{0x380000, 0x3BFFFF, "FR"},
	{0x300000, 0x33FFFF, "IT"},
	{0x340000, 0x347FFF, "ES"},
	{0x484000, 0x487FFF, "NL"},
	{0x7C0000, 0x7FFFFF, "AU"},
	{0x840000, 0x87FFFF, "JP"},
}

// CountryCodeFromICAO returns the ISO-3166 alpha-2 country code for an
// ICAO 24-bit address, or "" if the address falls outside every known
// allocation block or addrType is not ICAO.
func CountryCodeFromICAO(addr int32, addrType AddressType) string {
	if addrType != AddressICAO {
		return ""
	}
	for _, b := range countryBlocks {
		if addr >= b.lo && addr <= b.hi {
			return b.iso2
		}
	}
	return ""
}

const (
	usNNumberStart = 0xA00001
	usNNumberEnd   = 0xADF7C7
)

// usNNumberAlphabet is the 24-letter suffix alphabet the FAA N-number
// scheme uses; I and O are excluded to avoid confusion with 1 and 0.
const usNNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

// g holds, for each count of remaining character slots (0-4) after the
// digits placed so far, the total number of valid completions: stop now
// (optionally followed by up to two suffix letters), or place one more
// digit and recurse. g(n) = term(n) + 10*g(n-1); see suffixTerm.
var gTable = buildGTable()

func buildGTable() [5]int {
	var g [5]int
	g[0] = 1
	for n := 1; n <= 4; n++ {
		g[n] = suffixTerm(n) + 10*g[n-1]
	}
	return g
}

// suffixTerm is the number of ways to stop placing digits with n slots
// still available: no suffix (1), plus a one-letter suffix (24) if at
// least one slot remains, plus a two-letter suffix (24*24) if at least
// two slots remain — a suffix can never be longer than two letters.
func suffixTerm(n int) int {
	term := 1
	if n >= 1 {
		term += len(usNNumberAlphabet)
	}
	if n >= 2 {
		term += len(usNNumberAlphabet) * len(usNNumberAlphabet)
	}
	return term
}

// USNNumberFromICAO derives a US N-number tail number from an ICAO 24-bit
// address in the FAA-assigned block (0xA00001-0xADF7C7), following the
// FAA's digit/letter allocation scheme: a leading digit 1-9 followed by
// up to four more characters, of which at most the last two may be
// letters. Returns "" for addresses outside the US block or non-ICAO
// address types.
func USNNumberFromICAO(addr int32, addrType AddressType) string {
	if addrType != AddressICAO {
		return ""
	}
	if addr < usNNumberStart || addr > usNNumberEnd {
		return ""
	}
	offset := int(addr) - usNNumberStart

	digit1 := offset / gTable[4]
	r := offset % gTable[4]

	var sb strings.Builder
	sb.WriteByte('N')
	sb.WriteByte(byte('1' + digit1))

	n := 4
	for n > 0 {
		term := suffixTerm(n)
		if r < term {
			sb.WriteString(decodeSuffix(r))
			return sb.String()
		}
		r -= term
		digit := r / gTable[n-1]
		r = r % gTable[n-1]
		sb.WriteByte(byte('0' + digit))
		n--
	}
	return sb.String()
}

// decodeSuffix maps a value in [0, suffixTerm(n)) to "" (0), a single
// letter (1-24), or two letters (25-600).
func decodeSuffix(r int) string {
	if r == 0 {
		return ""
	}
	r--
	alphaLen := len(usNNumberAlphabet)
	if r < alphaLen {
		return string(usNNumberAlphabet[r])
	}
	r -= alphaLen
	first := r / alphaLen
	second := r % alphaLen
	return string(usNNumberAlphabet[first]) + string(usNNumberAlphabet[second])
}
