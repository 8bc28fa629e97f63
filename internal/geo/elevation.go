package geo

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// tileVoid is the SRTM convention for "no data" (ocean or missing coverage).
const tileVoid = -32768

// hgtTile holds one decoded 1-degree-square SRTM .hgt elevation tile: a
// square grid of big-endian signed 16-bit meters-above-sea-level samples,
// south-west corner at (lat, lon).
type hgtTile struct {
	lat, lon int
	side     int
	samples  []int16
}

func (t *hgtTile) sample(lat, lon float64) (float64, bool) {
	fracLat := lat - float64(t.lat)
	fracLon := lon - float64(t.lon)
	row := t.side - 1 - int(fracLat*float64(t.side-1)+0.5)
	col := int(fracLon*float64(t.side-1) + 0.5)
	if row < 0 || row >= t.side || col < 0 || col >= t.side {
		return 0, false
	}
	v := t.samples[row*t.side+col]
	if v == tileVoid {
		return 0, false
	}
	return float64(v), true
}

func loadHGTTile(path string, lat, lon int) (*hgtTile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n := len(data) / 2
	side := int(math.Round(math.Sqrt(float64(n))))
	if side*side*2 != len(data) {
		return nil, fmt.Errorf("geo: %s is not a square 16-bit DEM tile (%d bytes)", path, len(data))
	}
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(data[i*2:]))
	}
	return &hgtTile{lat: lat, lon: lon, side: side, samples: samples}, nil
}

func tileNameFor(lat, lon int) string {
	ns := 'N'
	if lat < 0 {
		ns = 'S'
	}
	ew := 'E'
	if lon < 0 {
		ew = 'W'
	}
	return fmt.Sprintf("%c%02d%c%03d.hgt", ns, abs(lat), ew, abs(lon))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func tileCellFor(lat, lon float64) (int, int) {
	return int(math.Floor(lat)), int(math.Floor(lon))
}

// ElevationService resolves terrain elevation (meters MSL) at a WGS84
// coordinate from a directory of SRTM-style .hgt DEM tiles, for AGL
// computation. Tiles are loaded on first access and cached for the
// process lifetime — a tile is at most a few MB, and the working set of
// tiles touched by a live aircraft feed is small and geographically
// clustered.
type ElevationService struct {
	tileDir string

	mu    sync.RWMutex
	tiles map[[2]int]*hgtTile
	miss  map[[2]int]bool
}

// NewElevationService builds a service backed by .hgt tiles under tileDir.
func NewElevationService(tileDir string) *ElevationService {
	return &ElevationService{
		tileDir: tileDir,
		tiles:   make(map[[2]int]*hgtTile),
		miss:    make(map[[2]int]bool),
	}
}

// ElevationMeters returns terrain elevation at (lat, lon) in meters MSL.
// ok is false when no tile covers the point or the point falls in a void
// (ocean) cell — a legitimate "no data" outcome, not an error.
func (s *ElevationService) ElevationMeters(lat, lon float64) (float64, bool, error) {
	tLat, tLon := tileCellFor(lat, lon)
	key := [2]int{tLat, tLon}

	s.mu.RLock()
	tile, ok := s.tiles[key]
	missed := s.miss[key]
	s.mu.RUnlock()

	if missed {
		return 0, false, nil
	}
	if !ok {
		s.mu.Lock()
		tile, ok = s.tiles[key]
		if !ok {
			loaded, err := loadHGTTile(filepath.Join(s.tileDir, tileNameFor(tLat, tLon)), tLat, tLon)
			if err != nil {
				if os.IsNotExist(err) {
					s.miss[key] = true
					s.mu.Unlock()
					return 0, false, nil
				}
				s.mu.Unlock()
				return 0, false, err
			}
			tile = loaded
			s.tiles[key] = tile
		}
		s.mu.Unlock()
	}

	return elevationFromTile(tile, lat, lon)
}

func elevationFromTile(tile *hgtTile, lat, lon float64) (float64, bool, error) {
	v, ok := tile.sample(lat, lon)
	return v, ok, nil
}

// AGLFeet computes altitude above ground level in feet given a reported
// MSL altitude in feet, returning nil if no terrain data covers the point.
func (s *ElevationService) AGLFeet(mslFeet float64, lat, lon float64) (*float64, error) {
	elevM, ok, err := s.ElevationMeters(lat, lon)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	elevFt := elevM * 3.28084
	agl := mslFeet - elevFt
	return &agl, nil
}
