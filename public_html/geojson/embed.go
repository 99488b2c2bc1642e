package geojson

import _ "embed"

// Countries stores the fallback country dataset so other packages can
// stay detached from the filesystem at runtime. The -geojson flag
// replaces it with a full-resolution file such as Natural Earth
// admin-0 countries.
//
//go:embed countries.geojson
var Countries []byte
