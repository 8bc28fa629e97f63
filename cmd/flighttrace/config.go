package main

import (
	"os"
	"strconv"
)

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// config holds every setting flighttrace needs to wire its components
// together. Connection settings default from the environment the same
// way the enrichment-api command does, so the binary runs unmodified
// under a container orchestrator that injects env vars.
type config struct {
	// Local, when non-empty, selects the combined SQLite backend at this
	// path instead of PostgreSQL+ClickHouse; meant for development and
	// the integration tests, not production scale.
	Local string

	PGHost     string
	PGPort     int
	PGDatabase string
	PGUser     string
	PGPassword string

	CHHost     string
	CHPort     int
	CHDatabase string
	CHUser     string
	CHPassword string

	NATSURL    string
	NATSPrefix string

	AirportsCSV   string
	RunwaysCSV    string
	ElevationDir  string

	OpsPort int

	Migrate bool

	IngestFormat string

	CacheBackgroundQueue int
	CacheWriters         int
	MergeInterval        int // seconds
}
