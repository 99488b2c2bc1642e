package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"
)

// Database wraps the SQL connection together with the ID generator all
// inserts draw from.
type Database struct {
	DB          *sql.DB    // the underlying SQL database connection
	idGenerator chan int64 // channel for generating unique IDs
	Driver      string     // normalized driver name so SQL builders can stay declarative
}

// normalizeDBType trims and lowercases driver names so the switch
// blocks below do not miss a driver just because a caller passed mixed
// case or incidental whitespace.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// startIDGenerator launches a goroutine for generating unique IDs.
// Handing out IDs over a channel avoids a counter mutex, following
// "Share memory by communicating".
func startIDGenerator(initialID int64) chan int64 {
	idChannel := make(chan int64)
	go func(start int64) {
		currentID := start
		for {
			idChannel <- currentID
			currentID++
		}
	}(initialID)
	return idChannel
}

// NextID hands out the next unique row ID.
func (db *Database) NextID() int64 {
	return <-db.idGenerator
}

// Config holds the settings for opening the database.
type Config struct {
	DBType    string // driver name: "sqlite", "genji", "duckdb", or "pgx" (PostgreSQL)
	DBPath    string // file path for file-based databases
	DBConn    string // raw DSN for network drivers
	DBHost    string // PostgreSQL host
	DBPort    int    // PostgreSQL port
	DBUser    string // PostgreSQL user
	DBPass    string // PostgreSQL password
	DBName    string // PostgreSQL database name
	PGSSLMode string // PostgreSQL SSL mode
	Port      int    // HTTP port, used in default database file names
}

// NewDatabase opens the configured database and sets up connection
// pooling. File-based engines are forced into single-connection mode
// so concurrent handlers never race on the same file.
func NewDatabase(config Config) (*Database, error) {
	driverName := normalizeDBType(config.DBType)
	var (
		dsn                string
		applySQLitePragmas bool
	)

	switch driverName {
	case "sqlite":
		applySQLitePragmas = true
		dsn = config.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("globe-%d.%s", config.Port, driverName)
		}
	case "genji":
		// Genji manages its own storage engine, so we keep the
		// single-connection behaviour but skip SQLite pragma tuning.
		dsn = config.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("globe-%d.%s", config.Port, driverName)
		}
	case "duckdb":
		// The file is created on first open.
		dsn = config.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("globe-%d.duckdb", config.Port)
		}
	case "pgx":
		if strings.TrimSpace(config.DBConn) != "" {
			dsn = config.DBConn
		} else {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				config.DBUser, config.DBPass, config.DBHost, config.DBPort, config.DBName, config.PGSSLMode)
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.DBType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	switch driverName {
	case "sqlite", "genji":
		// One physical connection; no concurrent statements at DB layer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if applySQLitePragmas {
			tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := tuneSQLiteConnection(tuneCtx, db, log.Printf); err != nil {
				log.Printf("sqlite tuning skipped: %v", err)
			}
			cancel()
		} else {
			log.Printf("sqlite tuning skipped: driver %s manages pragmas itself", driverName)
		}
	case "duckdb":
		// DuckDB writes through a single transaction log; a lone
		// connection avoids unique-key races on snapshot refreshes.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := tuneDuckDBConnection(tuneCtx, db, log.Printf); err != nil {
			log.Printf("duckdb tuning skipped: %v", err)
		}
		cancel()
	}

	// Cheap liveness probe with timeout so startup never hangs.
	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
	}

	log.Printf("Using database driver: %s with DSN: %s", driverName, dsn)

	// Bootstrap the ID generator from the highest ID across tables so
	// every row receives a unique primary key. Errors are ignored so
	// startup stays robust even when the tables do not exist yet.
	var (
		maxCountries  sql.NullInt64
		maxPlacements sql.NullInt64
	)
	_ = db.QueryRow(`SELECT MAX(id) FROM countries`).Scan(&maxCountries)
	_ = db.QueryRow(`SELECT MAX(id) FROM placements`).Scan(&maxPlacements)
	initialID := int64(1)
	if maxCountries.Valid && maxCountries.Int64 >= initialID {
		initialID = maxCountries.Int64 + 1
	}
	if maxPlacements.Valid && maxPlacements.Int64 >= initialID {
		initialID = maxPlacements.Int64 + 1
	}

	return &Database{
		DB:          db,
		idGenerator: startIDGenerator(initialID),
		Driver:      driverName,
	}, nil
}

// tuneSQLiteConnection applies WAL/synchronous/busy pragmas. The steps
// run through a small channel pipeline so the work happens outside the
// caller goroutine, following "Don't communicate by sharing memory;
// share memory by communicating".
func tuneSQLiteConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	type pragma struct {
		label     string
		query     string
		expectRow bool
	}

	steps := []pragma{
		{label: "journal_mode", query: "PRAGMA journal_mode=WAL;", expectRow: true},
		{label: "synchronous", query: "PRAGMA synchronous=NORMAL;"},
		{label: "temp_store", query: "PRAGMA temp_store=MEMORY;"},
		{label: "cache_size", query: "PRAGMA cache_size=-20000;"},
		{label: "busy_timeout", query: "PRAGMA busy_timeout=5000;"},
	}

	jobs := make(chan pragma)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		for step := range jobs {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			if step.expectRow {
				var mode string
				if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
					errs <- fmt.Errorf("apply %s: %w", step.label, err)
					return
				}
				logf("SQLite tuning %s -> %s", step.label, mode)
				continue
			}

			if _, err := db.ExecContext(ctx, step.query); err != nil {
				errs <- fmt.Errorf("apply %s: %w", step.label, err)
				return
			}
			logf("SQLite tuning %s applied", step.label)
		}
		errs <- nil
	}()

	go func() {
		defer close(jobs)
		for _, step := range steps {
			jobs <- step
		}
	}()

	return <-errs
}

// tuneDuckDBConnection raises the thread count and checkpoint threshold
// so the one-shot countries snapshot load stays CPU-bound instead of
// pausing on checkpoints.
func tuneDuckDBConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}

	type pragma struct {
		label string
		query string
	}

	steps := []pragma{
		{label: "threads", query: fmt.Sprintf("PRAGMA threads=%d;", threads)},
		{label: "checkpoint_threshold", query: "PRAGMA checkpoint_threshold='1GB';"},
	}

	jobs := make(chan pragma)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		for step := range jobs {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			if _, err := db.ExecContext(ctx, step.query); err != nil {
				errs <- fmt.Errorf("apply %s: %w", step.label, err)
				return
			}
			logf("DuckDB tuning %s applied", step.label)
		}
		errs <- nil
	}()

	go func() {
		defer close(jobs)
		for _, step := range steps {
			jobs <- step
		}
	}()

	return <-errs
}

// InitSchema creates the tables the server needs: the countries
// snapshot, the placement history, and short links.
func (db *Database) InitSchema(cfg Config) error {
	var schema string

	switch normalizeDBType(cfg.DBType) {
	case "pgx":
		// PostgreSQL: standard types, named UNIQUE so ON CONFLICT can
		// target the constraint by name.
		schema = `
CREATE TABLE IF NOT EXISTS countries (
  id   BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  iso2 TEXT,
  iso3 TEXT,
  lon  DOUBLE PRECISION,
  lat  DOUBLE PRECISION,
  CONSTRAINT countries_unique UNIQUE (name)
);

CREATE TABLE IF NOT EXISTS placements (
  id        BIGSERIAL PRIMARY KEY,
  title     TEXT,
  lon       DOUBLE PRECISION,
  lat       DOUBLE PRECISION,
  placed_at BIGINT
);

CREATE TABLE IF NOT EXISTS short_links (
  id         BIGSERIAL PRIMARY KEY,
  code       TEXT UNIQUE NOT NULL,
  target     TEXT UNIQUE NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_short_links_target_lookup
  ON short_links (target);
CREATE INDEX IF NOT EXISTS idx_placements_placed
  ON placements (placed_at);
`

	case "sqlite", "genji":
		// Portable SQLite-style side with explicit INTEGER PK.
		schema = `
CREATE TABLE IF NOT EXISTS countries (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  iso2 TEXT,
  iso3 TEXT,
  lon  REAL,
  lat  REAL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_countries_name
  ON countries (name);

CREATE TABLE IF NOT EXISTS placements (
  id        INTEGER PRIMARY KEY,
  title     TEXT,
  lon       REAL,
  lat       REAL,
  placed_at BIGINT
);

CREATE TABLE IF NOT EXISTS short_links (
  id         INTEGER PRIMARY KEY,
  code       TEXT NOT NULL UNIQUE,
  target     TEXT NOT NULL UNIQUE,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_short_links_target_lookup
  ON short_links (target);
CREATE INDEX IF NOT EXISTS idx_placements_placed
  ON placements (placed_at);
`

	case "duckdb":
		// DuckDB has no SERIAL; sequences plus DEFAULT nextval(...)
		// give the same effect, and ON CONFLICT works against the
		// named UNIQUE constraint.
		schema = `
CREATE SEQUENCE IF NOT EXISTS countries_id_seq START 1;
CREATE TABLE IF NOT EXISTS countries (
  id   BIGINT PRIMARY KEY DEFAULT nextval('countries_id_seq'),
  name TEXT NOT NULL,
  iso2 TEXT,
  iso3 TEXT,
  lon  DOUBLE,
  lat  DOUBLE,
  CONSTRAINT countries_unique UNIQUE (name)
);

CREATE SEQUENCE IF NOT EXISTS placements_id_seq START 1;
CREATE TABLE IF NOT EXISTS placements (
  id        BIGINT PRIMARY KEY DEFAULT nextval('placements_id_seq'),
  title     TEXT,
  lon       DOUBLE,
  lat       DOUBLE,
  placed_at BIGINT
);

CREATE SEQUENCE IF NOT EXISTS short_links_id_seq START 1;
CREATE TABLE IF NOT EXISTS short_links (
  id         BIGINT PRIMARY KEY DEFAULT nextval('short_links_id_seq'),
  code       TEXT UNIQUE NOT NULL,
  target     TEXT UNIQUE NOT NULL,
  created_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_short_links_target_lookup
  ON short_links (target);
CREATE INDEX IF NOT EXISTS idx_placements_placed
  ON placements (placed_at);
`

	default:
		return fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}

	if _, err := db.DB.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
