package database

import (
	"context"
	"fmt"
)

// InsertPlacement appends one manual placement to the history table.
// The current-marker semantics stay in memory; this is the audit trail.
func (db *Database) InsertPlacement(ctx context.Context, p Placement) error {
	if db == nil || db.DB == nil {
		return fmt.Errorf("database unavailable")
	}

	query := `INSERT INTO placements (id,title,lon,lat,placed_at) VALUES (?,?,?,?,?)`
	if db.Driver == "pgx" || db.Driver == "duckdb" {
		query = `INSERT INTO placements (id,title,lon,lat,placed_at) VALUES ($1,$2,$3,$4,$5)`
	}

	if _, err := db.DB.ExecContext(ctx, query, db.NextID(), p.Title, p.Lon, p.Lat, p.PlacedAt); err != nil {
		return fmt.Errorf("insert placement: %w", err)
	}
	return nil
}

// RecentPlacements returns the newest placements first, capped at limit.
func (db *Database) RecentPlacements(ctx context.Context, limit int) ([]Placement, error) {
	if db == nil || db.DB == nil {
		return nil, fmt.Errorf("database unavailable")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id,title,lon,lat,placed_at FROM placements ORDER BY placed_at DESC, id DESC LIMIT ?`
	if db.Driver == "pgx" || db.Driver == "duckdb" {
		query = `SELECT id,title,lon,lat,placed_at FROM placements ORDER BY placed_at DESC, id DESC LIMIT $1`
	}

	rows, err := db.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query placements: %w", err)
	}
	defer rows.Close()

	var out []Placement
	for rows.Next() {
		var p Placement
		if err := rows.Scan(&p.ID, &p.Title, &p.Lon, &p.Lat, &p.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placements: %w", err)
	}
	return out, nil
}
