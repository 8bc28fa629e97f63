// Command flighttrace ingests APRS/Beast/SBS position fixes, resolves
// each to a persistent aircraft identity, drives the per-aircraft
// flight state machine, and publishes accepted fixes over NATS.
//
// Usage:
//
//	flighttrace [options] < frames.log
//
// Options:
//
//	-local PATH          use a combined SQLite store at PATH instead of
//	                      PostgreSQL+ClickHouse (env: FLIGHTTRACE_LOCAL)
//	-pg-host HOST        PostgreSQL host (default: localhost, env: POSTGRES_HOST)
//	-pg-port PORT        PostgreSQL port (default: 5432, env: POSTGRES_PORT)
//	-pg-database DB      PostgreSQL database (default: flighttrace, env: POSTGRES_DATABASE)
//	-pg-user USER        PostgreSQL user (default: flighttrace, env: POSTGRES_USER)
//	-pg-password PASS    PostgreSQL password (env: POSTGRES_PASSWORD)
//	-ch-host HOST        ClickHouse host (default: localhost, env: CLICKHOUSE_HOST)
//	-ch-port PORT        ClickHouse port (default: 9000, env: CLICKHOUSE_PORT)
//	-ch-database DB      ClickHouse database (default: flighttrace, env: CLICKHOUSE_DATABASE)
//	-ch-user USER        ClickHouse user (default: default, env: CLICKHOUSE_USER)
//	-ch-password PASS    ClickHouse password (env: CLICKHOUSE_PASSWORD)
//	-nats-url URL        NATS server URL; omit to disable publishing (env: NATS_URL)
//	-airports-csv PATH   OurAirports airports.csv for AirportIndex (env: AIRPORTS_CSV)
//	-runways-csv PATH    OurAirports runways.csv for RunwayIndex (env: RUNWAYS_CSV)
//	-elevation-dir DIR   directory of SRTM .hgt tiles for AGL lookups (env: ELEVATION_DIR)
//	-format FORMAT       wire format of every stdin line: aprs|beast|sbs (default: aprs)
//	-port N              ops HTTP port (default: 8090)
//
// Input framing: stdin is read one line at a time. APRS and SBS lines
// are text and used as-is; Beast lines are base64-encoded binary
// frames, since the Beast format itself is not line-safe.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"flighttrace/internal/aircraft"
	"flighttrace/internal/fix"
	"flighttrace/internal/flight"
	"flighttrace/internal/geo"
	"flighttrace/internal/opsapi"
	"flighttrace/internal/pipeline"
	"flighttrace/internal/publish"
	"flighttrace/internal/refdata"
	"flighttrace/internal/store"
)

func main() {
	cfg := parseFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	aircraftStore, flightStore, fixStore, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flighttrace: opening stores: %v\n", err)
		os.Exit(1)
	}
	defer closeStores()

	airports, runways, elevation := loadReferenceData(cfg)

	cache := aircraft.NewCache(aircraftStore, cfg.CacheBackgroundQueue)
	cache.Start(ctx, cfg.CacheWriters)

	if _, err := cache.Preload(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		fmt.Fprintf(os.Stderr, "flighttrace: warning: preloading aircraft cache: %v\n", err)
	}

	merger := aircraft.NewMerger(aircraftStore, cache, fixStore, time.Duration(cfg.MergeInterval)*time.Second)

	machine := flight.NewFlightStateMachine(flightStore, fixStore, airports, runways, elevation)
	sweeper := flight.NewTimeoutSweeper(machine, flightStore, fixStore)

	publisher, err := newPublisher(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flighttrace: connecting to NATS: %v\n", err)
		os.Exit(1)
	}
	defer publisher.Close()

	pl := pipeline.New(fix.NewNormalizer(), cache, machine, publisher)
	ops := opsapi.NewServer(pl, cache, machine, opsapi.Config{Port: cfg.OpsPort})

	// The merger, sweeper, and ops server are background services with
	// their own lifetimes, tied to one errgroup context. The merger and
	// sweeper never return an error, so only an ops-server failure
	// cancels gctx, which stops ingestion and the other two services.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { merger.Run(gctx); return nil })
	g.Go(func() error { sweeper.Run(gctx); return nil })
	g.Go(func() error {
		if err := ops.Run(gctx); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	runIngest(gctx, pl, cfg.IngestFormat)
	cancel()

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "flighttrace: %v\n", err)
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.Local, "local", envOrDefault("FLIGHTTRACE_LOCAL", ""), "path to a combined SQLite store (development/test mode)")

	flag.StringVar(&cfg.PGHost, "pg-host", envOrDefault("POSTGRES_HOST", "localhost"), "PostgreSQL host")
	flag.IntVar(&cfg.PGPort, "pg-port", envOrDefaultInt("POSTGRES_PORT", 5432), "PostgreSQL port")
	flag.StringVar(&cfg.PGDatabase, "pg-database", envOrDefault("POSTGRES_DATABASE", "flighttrace"), "PostgreSQL database")
	flag.StringVar(&cfg.PGUser, "pg-user", envOrDefault("POSTGRES_USER", "flighttrace"), "PostgreSQL user")
	flag.StringVar(&cfg.PGPassword, "pg-password", envOrDefault("POSTGRES_PASSWORD", ""), "PostgreSQL password")

	flag.StringVar(&cfg.CHHost, "ch-host", envOrDefault("CLICKHOUSE_HOST", "localhost"), "ClickHouse host")
	flag.IntVar(&cfg.CHPort, "ch-port", envOrDefaultInt("CLICKHOUSE_PORT", 9000), "ClickHouse port")
	flag.StringVar(&cfg.CHDatabase, "ch-database", envOrDefault("CLICKHOUSE_DATABASE", "flighttrace"), "ClickHouse database")
	flag.StringVar(&cfg.CHUser, "ch-user", envOrDefault("CLICKHOUSE_USER", "default"), "ClickHouse user")
	flag.StringVar(&cfg.CHPassword, "ch-password", envOrDefault("CLICKHOUSE_PASSWORD", ""), "ClickHouse password")

	flag.StringVar(&cfg.NATSURL, "nats-url", envOrDefault("NATS_URL", ""), "NATS server URL (omit to disable publishing)")
	flag.StringVar(&cfg.NATSPrefix, "nats-prefix", "", "override the NATS topic prefix (default derived from SOAR_ENV)")

	flag.StringVar(&cfg.AirportsCSV, "airports-csv", envOrDefault("AIRPORTS_CSV", ""), "OurAirports airports.csv path")
	flag.StringVar(&cfg.RunwaysCSV, "runways-csv", envOrDefault("RUNWAYS_CSV", ""), "OurAirports runways.csv path")
	flag.StringVar(&cfg.ElevationDir, "elevation-dir", envOrDefault("ELEVATION_DIR", ""), "directory of SRTM .hgt tiles")

	flag.StringVar(&cfg.IngestFormat, "format", "aprs", "wire format of stdin lines: aprs|beast|sbs")
	flag.IntVar(&cfg.OpsPort, "port", envOrDefaultInt("PORT", 8090), "ops HTTP port")

	flag.IntVar(&cfg.CacheBackgroundQueue, "cache-bg-queue", 4096, "aircraft cache background-write queue size")
	flag.IntVar(&cfg.CacheWriters, "cache-writers", 2, "aircraft cache background-write worker count")
	flag.IntVar(&cfg.MergeInterval, "merge-interval-secs", 300, "pending-registration merge pass interval, in seconds")

	flag.BoolVar(&cfg.Migrate, "migrate", false, "create tables on the target store(s) before ingesting")

	flag.Parse()
	return cfg
}

// openStores opens either the combined SQLite backend or PostgreSQL and
// ClickHouse together, and returns a single close func covering whichever
// was opened.
type schemaCreator interface {
	CreateSchema(ctx context.Context) error
}

func migrate(ctx context.Context, stores ...schemaCreator) error {
	for _, s := range stores {
		if err := s.CreateSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

func openStores(ctx context.Context, cfg config) (aircraft.Store, store.FlightStore, store.FixStore, func(), error) {
	if cfg.Local != "" {
		s, err := store.OpenSQLite(cfg.Local)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("opening local sqlite store: %w", err)
		}
		if cfg.Migrate {
			if err := migrate(ctx, s); err != nil {
				return nil, nil, nil, nil, fmt.Errorf("migrating local sqlite store: %w", err)
			}
		}
		return s, s, s, func() { s.Close() }, nil
	}

	pg, err := store.OpenPostgres(ctx, store.PostgresConfig{
		Host:     cfg.PGHost,
		Port:     cfg.PGPort,
		Database: cfg.PGDatabase,
		User:     cfg.PGUser,
		Password: cfg.PGPassword,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("opening postgres: %w", err)
	}

	ch, err := store.OpenClickHouse(ctx, store.ClickHouseConfig{
		Host:     cfg.CHHost,
		Port:     cfg.CHPort,
		Database: cfg.CHDatabase,
		User:     cfg.CHUser,
		Password: cfg.CHPassword,
	})
	if err != nil {
		pg.Close()
		return nil, nil, nil, nil, fmt.Errorf("opening clickhouse: %w", err)
	}

	if cfg.Migrate {
		if err := migrate(ctx, pg, ch); err != nil {
			pg.Close()
			ch.Close()
			return nil, nil, nil, nil, fmt.Errorf("migrating postgres/clickhouse: %w", err)
		}
	}

	return pg, pg, ch, func() { pg.Close(); ch.Close() }, nil
}

// loadReferenceData builds the airport/runway indexes and elevation
// service. Missing paths yield empty indexes rather than an error:
// takeoff/landing metadata resolution then simply finds nothing, which
// the finalizer already treats as a legitimate "no nearby airport" result.
func loadReferenceData(cfg config) (*geo.AirportIndex, *geo.RunwayIndex, *geo.ElevationService) {
	var airports []geo.Airport
	if cfg.AirportsCSV != "" {
		loaded, err := refdata.LoadAirports(cfg.AirportsCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flighttrace: warning: loading airports csv: %v\n", err)
		} else {
			airports = loaded
		}
	}

	var runways []geo.Runway
	if cfg.RunwaysCSV != "" {
		loaded, err := refdata.LoadRunways(cfg.RunwaysCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flighttrace: warning: loading runways csv: %v\n", err)
		} else {
			runways = loaded
		}
	}

	return geo.NewAirportIndex(airports), geo.NewRunwayIndex(runways), geo.NewElevationService(cfg.ElevationDir)
}

// newPublisher builds a NATSPublisher when -nats-url is set, otherwise a
// NoopPublisher. The topic prefix mirrors the originating system's
// SOAR_ENV convention: "aircraft" in production, "staging.aircraft"
// everywhere else, unless -nats-prefix overrides it.
func newPublisher(cfg config) (publish.Publisher, error) {
	if cfg.NATSURL == "" {
		return publish.NoopPublisher{}, nil
	}

	prefix := cfg.NATSPrefix
	if prefix == "" {
		prefix = "staging.aircraft"
		if os.Getenv("SOAR_ENV") == "production" {
			prefix = "aircraft"
		}
	}

	return publish.NewNATSPublisher(cfg.NATSURL, prefix, "flighttrace", publish.DefaultQueueSize)
}

// runIngest reads stdin one line at a time and feeds each line through
// the pipeline as a frame of the configured format, until stdin closes
// or ctx is cancelled.
func runIngest(ctx context.Context, pl *pipeline.Pipeline, format string) {
	f := fix.Format(strings.ToLower(format))

	scanner := bufio.NewScanner(os.Stdin)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		raw, err := decodeLine(f, line)
		if err != nil {
			continue
		}
		pl.ProcessFrame(ctx, f, raw, time.Now().UTC())
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "flighttrace: reading stdin: %v\n", err)
	}

	fmt.Fprintf(os.Stderr, "flighttrace: stats: received=%d dropped=%d invalid=%d duplicate=%d processed=%d\n",
		pl.Stats.FramesReceived, pl.Stats.FramesDropped, pl.Stats.FramesInvalid,
		pl.Stats.FramesDuplicate, pl.Stats.FixesProcessed)
}

func decodeLine(format fix.Format, line string) ([]byte, error) {
	if format == fix.FormatBeast {
		return base64.StdEncoding.DecodeString(line)
	}
	return []byte(line), nil
}
