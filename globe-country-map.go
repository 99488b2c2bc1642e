package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"image/color"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"globe-country-map/pkg/api"
	"globe-country-map/pkg/countryindex"
	"globe-country-map/pkg/database"
	"globe-country-map/pkg/ingest"
	"globe-country-map/pkg/logger"
	"globe-country-map/pkg/marker"
	"globe-country-map/pkg/qrshare"
	"globe-country-map/public_html/geojson"
)

//go:embed public_html/*
var content embed.FS

var domain = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
var dbType = flag.String("db-type", "sqlite", "Type of the database driver: genji, sqlite, duckdb, or pgx (postgresql)")
var dbPath = flag.String("db-path", "", "Path to the database file (defaults to the current folder, applicable for genji, sqlite drivers.)")
var dbHost = flag.String("db-host", "127.0.0.1", "Database host (applicable for pgx driver)")
var dbPort = flag.Int("db-port", 5432, "Database port (applicable for pgx driver)")
var dbUser = flag.String("db-user", "postgres", "Database user (applicable for pgx driver)")
var dbPass = flag.String("db-pass", "", "Database password (applicable for pgx driver)")
var dbName = flag.String("db-name", "GlobeCountryMap", "Database name (applicable for pgx driver)")
var pgSSLMode = flag.String("pg-ssl-mode", "prefer", "PostgreSQL SSL mode: disable, allow, prefer, require, verify-ca, or verify-full")
var port = flag.Int("port", 8765, "Port for running the server")
var version = flag.Bool("version", false, "Show the application version")
var geojsonPath = flag.String("geojson", "", "Path to a country GeoJSON file (defaults to the embedded dataset)")
var defaultLat = flag.Float64("default-lat", 20.0, "Initial camera latitude")
var defaultLon = flag.Float64("default-lon", 0.0, "Initial camera longitude")
var defaultHeight = flag.Float64("default-height", 20000000, "Initial camera height in meters")

var CompileVersion = "dev"

var db *database.Database
var index = countryindex.New(runtime.GOMAXPROCS(0))
var markers = marker.New(index)

// countriesPayload is the pre-rendered /api/countries JSON. It is
// written once by the ingest goroutine before the index is sealed;
// the closed Ready channel publishes it to every handler.
var countriesPayload []byte

// responseCache and rateLimiter sit in front of the payload endpoints.
var responseCache = api.NewResponseCache(5 * time.Minute)
var rateLimiter = api.NewRateLimiter(3 * time.Second)

// withServerHeader stamps every response and short-circuits HEAD /
// with 200 so load balancers get a cheap health probe.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "globe-country-map/"+CompileVersion)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs:
//   - :80  — ACME HTTP-01 challenge + 301 redirect to https://<domain>/…
//   - :443 — HTTPS with automatic Let's Encrypt certificates.
//
// When autocert cannot issue a cert for a host/SNI, the server still
// answers with the previously obtained fallback cert, which removes
// "host not configured" noise for bare-IP requests.
// All errors are only logged.
func serveWithDomain(domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			// Allow the bare domain and www.<domain>.
			if host == domain || host == "www."+domain {
				return nil
			}
			// An IP address is not blocked, we just never request a cert for it.
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	// :80 — challenge + redirect
	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + domain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})

		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			log.Printf("HTTP  server error: %v", err)
		}
	}()

	// Daily certificate check so renewals happen while traffic is low.
	go func() {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for range t.C {
			if _, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
				log.Printf("autocert renewal check: %v", err)
			}
		}
	}()

	// :443 — HTTPS
	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS10
	tlsCfg.NextProtos = append([]string{"http/1.0"}, tlsCfg.NextProtos...)

	// Fallback certificate for IPs and odd SNI values.
	var defaultCert *tls.Certificate
	go func() {
		for defaultCert == nil {
			if c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err == nil {
				defaultCert = c
			}
			time.Sleep(time.Minute)
		}
	}()
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if defaultCert != nil {
			return defaultCert, nil
		}
		return nil, err
	}

	log.Printf("HTTPS server for %s ➜ :443 (TLS ≥1.0, ALPN h2/http1.1/1.0)", domain)
	if err := (&http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}).ListenAndServeTLS("", ""); err != nil {
		log.Printf("HTTPS server error: %v", err)
	}
}

// isClientDisconnect reports network errors meaning the browser went
// away mid-response. Normal churn, never worth an error line.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

// clientIP strips the port so the rate limiter keys on the address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ===================
// Country ingestion
// ===================

// ingestCountries runs the one-shot load: read the GeoJSON, build the
// render features, fill the index, snapshot to the database, seal.
// Any failure is logged through the buffered logger and the server
// keeps running; placing markers by coordinates still works.
func ingestCountries(path string) {
	const jobID = "ingest"
	logger.Begin(jobID)
	defer index.Seal()

	raw := geojson.Countries
	source := "embedded dataset"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Append(jobID, fmt.Sprintf("[%s] read %q failed, falling back to embedded dataset: %v", jobID, path, err))
		} else {
			raw = data
			source = path
		}
	}
	logger.Append(jobID, fmt.Sprintf("[%s] loading countries from %s (%d bytes)", jobID, source, len(raw)))

	features, err := ingest.Build(raw, ingest.DefaultPropertyMap())
	if err != nil {
		logger.FlushError(jobID, fmt.Errorf("build countries: %w", err))
		return
	}

	for _, f := range features {
		index.Add(countryindex.Entry{
			Name: f.Name,
			ISO2: f.ISO2,
			ISO3: f.ISO3,
			Lon:  f.Centroid.Lon,
			Lat:  f.Centroid.Lat,
		})
	}

	payload, err := json.Marshal(features)
	if err != nil {
		logger.FlushError(jobID, fmt.Errorf("marshal countries payload: %w", err))
		return
	}
	countriesPayload = payload

	// Snapshot to SQL so operators can query the ingested set. The map
	// works without it, so a storage failure only logs.
	snapshot := make([]database.Country, 0, len(features))
	for _, f := range features {
		snapshot = append(snapshot, database.Country{
			Name: f.Name,
			ISO2: f.ISO2,
			ISO3: f.ISO3,
			Lon:  f.Centroid.Lon,
			Lat:  f.Centroid.Lat,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.ReplaceCountries(ctx, snapshot); err != nil {
		logger.Append(jobID, fmt.Sprintf("[%s] countries snapshot not stored: %v", jobID, err))
	} else if stored, err := db.CountCountries(ctx); err == nil {
		logger.Append(jobID, fmt.Sprintf("[%s] %d countries in the snapshot table", jobID, stored))
	}

	logger.Success(jobID, fmt.Sprintf("%d countries indexed from %s", index.Len(), source))
}

// ===================
// WEB — globe page
// ===================

func mapHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	tmpl := template.Must(template.New("map.html").Funcs(template.FuncMap{
		"toJSON": func(data interface{}) (string, error) {
			bytes, err := json.Marshal(data)
			return string(bytes), err
		},
	}).ParseFS(content, "public_html/map.html"))

	if CompileVersion == "dev" {
		CompileVersion = "latest"
	}

	data := struct {
		Version       string
		DefaultLat    float64
		DefaultLon    float64
		DefaultHeight float64
		FlyHeight     float64
		FlyDuration   float64
	}{
		Version:       CompileVersion,
		DefaultLat:    *defaultLat,
		DefaultLon:    *defaultLon,
		DefaultHeight: *defaultHeight,
		FlyHeight:     marker.FlyHeightMeters,
		FlyDuration:   marker.FlyDurationSecs,
	}

	// Render into a buffer first so errors never produce a half-written page.
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Printf("Error executing template: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		if isClientDisconnect(err) {
			log.Printf("client disconnected while writing response")
		} else {
			log.Printf("Error writing response: %v", err)
		}
	}
}

// ===================
// JSON API
// ===================

// countriesHandler serves the render payload for the globe. The full
// polygon set is the heaviest response we have, so it goes through
// both the per-IP limiter and the response cache.
func countriesHandler(w http.ResponseWriter, r *http.Request) {
	permit, err := rateLimiter.Acquire(r.Context(), clientIP(r), api.RequestHeavy)
	if err != nil {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	defer permit.Release()

	select {
	case <-index.Ready():
	default:
		http.Error(w, "countries still loading", http.StatusServiceUnavailable)
		return
	}

	payload, err := responseCache.Get(r.Context(), "countries", func(context.Context) ([]byte, error) {
		if countriesPayload == nil {
			return []byte("[]"), nil
		}
		return countriesPayload, nil
	})
	if err != nil {
		http.Error(w, "Error fetching countries", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(payload); err != nil && !isClientDisconnect(err) {
		log.Printf("write countries: %v", err)
	}
}

// countryNamesHandler lists every display name alphabetically, mostly
// for eyeballing what the ingest produced.
func countryNamesHandler(w http.ResponseWriter, r *http.Request) {
	names, err := index.Names()
	if err != nil {
		http.Error(w, "countries still loading", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(names)
}

func suggestHandler(w http.ResponseWriter, r *http.Request) {
	permit, err := rateLimiter.Acquire(r.Context(), clientIP(r), api.RequestGeneral)
	if err != nil {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	defer permit.Release()

	q := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	suggestions, err := index.Suggest(q, limit)
	if err != nil {
		http.Error(w, "countries still loading", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(suggestions)
}

// markerRequest is the POST /api/marker body: either a country name or
// explicit coordinates.
type markerRequest struct {
	Name  string   `json:"name"`
	Lon   *float64 `json:"lon"`
	Lat   *float64 `json:"lat"`
	Title string   `json:"title"`
}

// markerHandler reads the current marker (GET) or places one (POST).
func markerHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m, ok := markers.Current()
		if !ok {
			http.Error(w, "no marker placed", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m)

	case http.MethodPost:
		var req markerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		// Explicit coordinates bypass the index entirely.
		if req.Lon != nil && req.Lat != nil {
			title := strings.TrimSpace(req.Title)
			if title == "" {
				title = "Manual marker"
			}
			m := markers.PlaceAt(*req.Lon, *req.Lat, title, "")
			storePlacement(m)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(m)
			return
		}

		m, ok, err := markers.PlaceByName(req.Name)
		var notFound *marker.NotFoundError
		switch {
		case errors.As(err, &notFound):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(struct {
				Error       string   `json:"error"`
				Suggestions []string `json:"suggestions"`
			}{
				Error:       notFound.Error(),
				Suggestions: notFound.Suggestions,
			})
		case errors.Is(err, countryindex.ErrNotReady):
			http.Error(w, "countries still loading", http.StatusServiceUnavailable)
		case err != nil:
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		case !ok:
			// Blank input is ignored on purpose.
			w.WriteHeader(http.StatusNoContent)
		default:
			storePlacement(m)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(m)
		}

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// placementsHandler lists the newest placements from the history table.
func placementsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := db.RecentPlacements(r.Context(), limit)
	if err != nil {
		log.Printf("placement history: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []database.Placement{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(history)
}

// storePlacement appends the placement to the history table without
// blocking the request path.
func storePlacement(m marker.Marker) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.InsertPlacement(ctx, database.Placement{
			Title:    m.Title,
			Lon:      m.Lon,
			Lat:      m.Lat,
			PlacedAt: m.PlacedAt.Unix(),
		}); err != nil {
			log.Printf("placement history: %v", err)
		}
	}()
}

// ========
// Streaming marker events via SSE
// ========

// streamEventsHandler pushes marker placements and camera fly-to
// events to the browser so every open globe follows along.
func streamEventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	ctx := r.Context()
	events := markers.Subscribe(ctx)

	// Replay the current marker first so late joiners see it.
	if m, placed := markers.Current(); placed {
		b, _ := json.Marshal(marker.Event{
			Marker: m, FlyLon: m.Lon, FlyLat: m.Lat,
			Height: marker.FlyHeightMeters, Duration: marker.FlyDurationSecs,
		})
		fmt.Fprintf(w, "data: %s\n\n", b)
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}

// ========
// Sharing: QR + short links
// ========

func qrPngHandler(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("u")
	if u == "" {
		if ref := r.Referer(); ref != "" {
			u = ref
		} else {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			u = scheme + "://" + r.Host + "/"
		}
	}
	if len(u) > 4096 {
		u = u[:4096]
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", "inline; filename=\"qr.png\"")

	opts := qrshare.Options{
		TargetPx:    1500,
		Fg:          color.RGBA{0, 0, 0, 255},
		Bg:          color.RGBA{255, 255, 255, 255},
		Pin:         color.RGBA{0x1A, 0x73, 0xE8, 0xFF},
		LogoBoxFrac: 0.32,
		LogoPadding: 16,
	}

	if err := qrshare.EncodePNG(w, []byte(u), nil, opts); err != nil {
		http.Error(w, "QR encode: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// shortlinkHandler mints a code for a share URL.
func shortlinkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	code, err := db.PersistShortLink(r.Context(), req.Target, time.Now())
	if err != nil {
		log.Printf("short link: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Code string `json:"code"`
	}{Code: code})
}

// shortRedirectHandler expands /s/<code> into the stored URL.
func shortRedirectHandler(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimPrefix(r.URL.Path, "/s/")
	target, err := db.ResolveShortLink(r.Context(), code)
	if err != nil {
		log.Printf("short link resolve: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if target == "" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func main() {
	// 1. Flags and version
	flag.Parse()

	if *version {
		fmt.Printf("globe-country-map version %s\n", CompileVersion)
		return
	}

	// 2. Privilege warning for :80 / :443
	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	// 3. Database
	dbCfg := database.Config{
		DBType:    *dbType,
		DBPath:    *dbPath,
		DBHost:    *dbHost,
		DBPort:    *dbPort,
		DBUser:    *dbUser,
		DBPass:    *dbPass,
		DBName:    *dbName,
		PGSSLMode: *pgSSLMode,
		Port:      *port,
	}
	var err error
	db, err = database.NewDatabase(dbCfg)
	if err != nil {
		log.Fatalf("DB init: %v", err)
	}
	if err = db.InitSchema(dbCfg); err != nil {
		log.Fatalf("DB schema: %v", err)
	}

	// 4. Country ingestion in the background; the listeners come up
	// immediately and the index seals when the load finishes.
	go ingestCountries(*geojsonPath)

	// 5. Routes and static files
	staticFS, err := fs.Sub(content, "public_html")
	if err != nil {
		log.Fatalf("static fs: %v", err)
	}

	http.Handle("/static/", http.StripPrefix("/static/",
		http.FileServer(http.FS(staticFS))))
	http.HandleFunc("/", mapHandler)
	http.HandleFunc("/api/countries", countriesHandler)
	http.HandleFunc("/api/country_names", countryNamesHandler)
	http.HandleFunc("/api/suggest", suggestHandler)
	http.HandleFunc("/api/marker", markerHandler)
	http.HandleFunc("/api/placements", placementsHandler)
	http.HandleFunc("/api/shortlink", shortlinkHandler)
	http.HandleFunc("/stream_events", streamEventsHandler)
	http.HandleFunc("/qrpng", qrPngHandler)
	http.HandleFunc("/s/", shortRedirectHandler)

	rootHandler := withServerHeader(http.DefaultServeMux)

	// 6. HTTP/HTTPS servers
	if *domain != "" {
		// Dual server :80 + :443 with Let's Encrypt
		go serveWithDomain(*domain, rootHandler)
	} else {
		addr := fmt.Sprintf(":%d", *port)
		go func() {
			log.Printf("HTTP server ➜ http://localhost%s", addr)
			if err := http.ListenAndServe(addr, rootHandler); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	// 7. Keep the main goroutine alive
	select {}
}
