package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
const defaultShortCodeLength = 8

// PersistShortLink returns the code for target, minting and storing a
// fresh one when no mapping exists yet. Codes are random base62 drawn
// from crypto/rand so shared links stay unguessable.
func (db *Database) PersistShortLink(ctx context.Context, target string, now time.Time) (string, error) {
	if db == nil || db.DB == nil {
		return "", errors.New("database not initialized")
	}
	cleaned := strings.TrimSpace(target)
	if cleaned == "" {
		return "", errors.New("empty target")
	}
	if len(cleaned) > 4096 {
		return "", errors.New("target too long")
	}

	if existing, err := db.lookupShortLinkByTarget(ctx, cleaned); err != nil {
		return "", err
	} else if existing != "" {
		return existing, nil
	}

	const maxAttempts = 64
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		candidate, err := db.randomUnusedCode(ctx, defaultShortCodeLength)
		if err != nil {
			return "", err
		}
		if err := db.insertShortLink(ctx, candidate, cleaned, now); err != nil {
			// A concurrent mint may have raced us; draw again.
			if isUniqueConstraintError(err) {
				continue
			}
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("persist short link: exhausted %d attempts", maxAttempts)
}

// ResolveShortLink expands a short code into the stored absolute URL.
// An unknown code returns "" with no error; the HTTP layer answers 404.
func (db *Database) ResolveShortLink(ctx context.Context, code string) (string, error) {
	if db == nil || db.DB == nil {
		return "", errors.New("database not initialized")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || !isBase62(trimmed) {
		return "", nil
	}

	query := "SELECT target FROM short_links WHERE code = ? LIMIT 1"
	if db.Driver == "pgx" || db.Driver == "duckdb" {
		query = "SELECT target FROM short_links WHERE code = $1 LIMIT 1"
	}

	var target string
	err := db.DB.QueryRowContext(ctx, query, trimmed).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return target, nil
}

// lookupShortLinkByTarget checks whether a mapping already exists, so
// repeated shares of the same view reuse one code.
func (db *Database) lookupShortLinkByTarget(ctx context.Context, target string) (string, error) {
	query := "SELECT code FROM short_links WHERE target = ? ORDER BY id LIMIT 1"
	if db.Driver == "pgx" || db.Driver == "duckdb" {
		query = "SELECT code FROM short_links WHERE target = $1 ORDER BY id LIMIT 1"
	}

	var code string
	err := db.DB.QueryRowContext(ctx, query, target).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

// shortCodeExists reports whether a code is already taken. One SELECT
// with LIMIT keeps the probe index-friendly.
func (db *Database) shortCodeExists(ctx context.Context, code string) (bool, error) {
	query := "SELECT 1 FROM short_links WHERE code = ? LIMIT 1"
	if db.Driver == "pgx" || db.Driver == "duckdb" {
		query = "SELECT 1 FROM short_links WHERE code = $1 LIMIT 1"
	}

	var dummy int
	err := db.DB.QueryRowContext(ctx, query, code).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// randomUnusedCode draws random codes until one is free. Rejection
// sampling keeps the loop simple while staying uniform.
func (db *Database) randomUnusedCode(ctx context.Context, length int) (string, error) {
	const maxAttempts = 64
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		candidate, err := randomBase62String(length)
		if err != nil {
			return "", err
		}
		exists, err := db.shortCodeExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("random code generation exhausted %d attempts", maxAttempts)
}

// randomBase62String maps secure random bytes onto the base62 alphabet.
// math/rand would make links predictable, so we pay for crypto/rand.
func randomBase62String(length int) (string, error) {
	if length <= 0 {
		length = defaultShortCodeLength
	}
	buf := make([]byte, length)
	for i := 0; i < length; i++ {
		var b [1]byte
		for {
			if _, err := rand.Read(b[:]); err != nil {
				return "", err
			}
			v := int(b[0])
			if v < 62*4 { // 248 keeps the rejection rate low while staying uniform
				buf[i] = base62Alphabet[v%62]
				break
			}
		}
	}
	return string(buf), nil
}

// isBase62 validates that code only uses our alphabet.
func isBase62(code string) bool {
	if code == "" {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}

// insertShortLink writes the code → target mapping.
func (db *Database) insertShortLink(ctx context.Context, code, target string, now time.Time) error {
	switch db.Driver {
	case "pgx", "duckdb":
		_, err := db.DB.ExecContext(ctx,
			"INSERT INTO short_links (code,target,created_at) VALUES ($1,$2,$3)",
			code, target, now.UTC())
		return err
	default:
		_, err := db.DB.ExecContext(ctx,
			"INSERT INTO short_links (code,target,created_at) VALUES (?,?,?)",
			code, target, now.Unix())
		return err
	}
}

// isUniqueConstraintError normalizes driver-specific duplicate errors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "unique violation")
}
