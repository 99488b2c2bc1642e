package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// countriesInsertBatch keeps multi-row VALUES statements under every
// engine's placeholder limit.
const countriesInsertBatch = 200

// ReplaceCountries swaps the snapshot for the freshly ingested set in
// one transaction: delete everything, then bulk insert. The snapshot is
// derived data, so a wholesale replace is simpler and safer than
// diffing against the previous ingest.
func (db *Database) ReplaceCountries(ctx context.Context, countries []Country) error {
	if db == nil || db.DB == nil {
		return fmt.Errorf("database unavailable")
	}

	if db.Driver == "pgx" && len(countries) >= countriesInsertBatch {
		return db.replaceCountriesPostgreSQLCopy(ctx, countries)
	}

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin countries replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM countries`); err != nil {
		return fmt.Errorf("clear countries: %w", err)
	}

	for start := 0; start < len(countries); start += countriesInsertBatch {
		end := start + countriesInsertBatch
		if end > len(countries) {
			end = len(countries)
		}
		if err = db.insertCountriesChunk(ctx, tx, countries[start:end]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit countries replace: %w", err)
	}
	return nil
}

// insertCountriesChunk builds one multi-row VALUES statement for the
// chunk. Batching the rows keeps the snapshot load to a handful of
// round trips instead of one per country.
func (db *Database) insertCountriesChunk(ctx context.Context, tx execer, chunk []Country) error {
	if len(chunk) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(chunk)*6)
	)
	sb.WriteString(`INSERT INTO countries (id,name,iso2,iso3,lon,lat) VALUES `)

	positional := db.Driver == "pgx" || db.Driver == "duckdb"
	for i, c := range chunk {
		if i > 0 {
			sb.WriteString(",")
		}
		if positional {
			base := i * 6
			fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6)
		} else {
			sb.WriteString("(?,?,?,?,?,?)")
		}
		args = append(args, db.NextID(), c.Name, c.ISO2, c.ISO3, c.Lon, c.Lat)
	}

	switch db.Driver {
	case "pgx":
		sb.WriteString(" ON CONFLICT ON CONSTRAINT countries_unique DO NOTHING")
	case "duckdb", "sqlite", "genji":
		sb.WriteString(" ON CONFLICT DO NOTHING")
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert countries chunk: %w", err)
	}
	return nil
}

// execer is the slice of *sql.Tx / *sql.Conn both chunk writers need.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CountCountries reports how many rows the snapshot holds, for the
// startup summary line.
func (db *Database) CountCountries(ctx context.Context) (int, error) {
	var n int
	if err := db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM countries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count countries: %w", err)
	}
	return n, nil
}
