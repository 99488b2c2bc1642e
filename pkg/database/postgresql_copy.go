package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// replaceCountriesPostgreSQLCopy refreshes the snapshot through COPY,
// which beats multi-row INSERT once the dataset has a few hundred
// countries with dependencies. A temp table keeps COPY's throughput
// while the final INSERT still honours the ON CONFLICT policy of the
// main table.
func (db *Database) replaceCountriesPostgreSQLCopy(ctx context.Context, countries []Country) error {
	if len(countries) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil || db.DB == nil {
		return fmt.Errorf("database unavailable")
	}

	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open postgres connection: %w", err)
	}
	defer conn.Close()

	// Timestamp suffix keeps the name unique per call while staying
	// readable in pg_stat_activity. No ON COMMIT DROP: the temp table
	// must survive autocommit between COPY and the final INSERT.
	tempTable := fmt.Sprintf("temp_countries_%d", time.Now().UnixNano())
	createTemp := fmt.Sprintf(`CREATE TEMP TABLE %s (
name TEXT,
iso2 TEXT,
iso3 TEXT,
lon DOUBLE PRECISION,
lat DOUBLE PRECISION
)`, tempTable)
	if _, err := conn.ExecContext(ctx, createTemp); err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}

	// Cleanup must run even when the caller's context is already
	// cancelled, so the drop uses a detached context.
	dropCtx, dropCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dropCancel()
	defer conn.ExecContext(dropCtx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tempTable))

	rows := make([][]interface{}, 0, len(countries))
	for _, c := range countries {
		rows = append(rows, []interface{}{c.Name, c.ISO2, c.ISO3, c.Lon, c.Lat})
	}

	copyErr := conn.Raw(func(driverConn any) error {
		direct, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected postgres driver %T", driverConn)
		}
		_, err := direct.Conn().CopyFrom(
			ctx,
			pgx.Identifier{tempTable},
			[]string{"name", "iso2", "iso3", "lon", "lat"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
	if copyErr != nil {
		return fmt.Errorf("copy countries into temp table: %w", copyErr)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM countries`); err != nil {
		return fmt.Errorf("clear countries: %w", err)
	}

	insertFromTemp := fmt.Sprintf(`INSERT INTO countries (name,iso2,iso3,lon,lat)
SELECT name,iso2,iso3,lon,lat FROM %s
ON CONFLICT ON CONSTRAINT countries_unique DO NOTHING`, tempTable)
	if _, err := conn.ExecContext(ctx, insertFromTemp); err != nil {
		return fmt.Errorf("merge temp countries: %w", err)
	}

	return nil
}
