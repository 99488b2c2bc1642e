package database

// Country is one row of the countries snapshot: the resolvable name,
// its ISO codes, and the centroid a marker lands on. The snapshot
// mirrors what the ingest pass produced so operators can query the
// dataset with plain SQL.
type Country struct {
	ID   int64   `json:"id"`
	Name string  `json:"name"`
	ISO2 string  `json:"iso2"`
	ISO3 string  `json:"iso3"`
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
}

// Placement is one manual marker placement. The in-memory controller
// keeps only the current marker; this table keeps the history.
type Placement struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Lon      float64 `json:"lon"`
	Lat      float64 `json:"lat"`
	PlacedAt int64   `json:"placedAt"` // UNIX seconds
}
