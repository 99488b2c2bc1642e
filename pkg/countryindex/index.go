// Package countryindex maps user-typed country names to the entry the
// ingest pass produced for them. The index is written once during
// startup, sealed, and then serves lookups forever after. Serving goes
// through a small channel-fed worker pool rather than a mutex, following
// the Go proverb "Share memory by communicating".
package countryindex

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Entry is one resolvable country: the normalized key it answers to,
// the display name the user typed against, and the centroid a marker
// lands on.
type Entry struct {
	Key  string
	Name string
	ISO2 string
	ISO3 string
	Lon  float64
	Lat  float64
}

// ErrNotReady is returned by lookups that arrive before the ingest pass
// has sealed the index. Callers decide whether to wait on Ready() or
// tell the user to retry.
var ErrNotReady = errors.New("country index not ready")

// deaccent strips combining marks after NFD decomposition, so
// "República" and "Republica" normalize to the same key. Built once;
// transform.Chain values are safe for concurrent use via Transform on
// fresh buffers, but we keep all use inside Normalize anyway.
var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize folds a user-typed name into the index key form: trimmed,
// lower-cased, inner whitespace collapsed to single spaces, diacritics
// removed. Matching stays forgiving without fuzzy scoring.
func Normalize(name string) string {
	folded, _, err := transform.String(deaccent, name)
	if err != nil {
		// Transform only fails on invalid UTF-8; fall back to the raw
		// bytes so a garbled query still normalizes deterministically.
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// query is one lookup request forwarded to the worker pool. The reply
// channel is buffered so an abandoned caller never wedges a worker.
type query struct {
	kind  queryKind
	key   string
	limit int
	reply chan answer
}

type queryKind int

const (
	kindLookup queryKind = iota
	kindSuggest
	kindNames
)

type answer struct {
	entry       Entry
	found       bool
	suggestions []string
	names       []string
}

// Index holds the sealed country table. Writes happen on the single
// ingest goroutine before Seal; afterwards the data is immutable and
// workers read it freely.
type Index struct {
	entries map[string]Entry
	order   []string // insertion order of keys, for the suggestion fallback
	ready   chan struct{}
	queries chan query
}

// New returns an empty, unsealed index with the given worker count.
// workers below 1 is clamped to 1.
func New(workers int) *Index {
	if workers < 1 {
		workers = 1
	}
	ix := &Index{
		entries: make(map[string]Entry),
		ready:   make(chan struct{}),
		queries: make(chan query, workers),
	}
	for i := 0; i < workers; i++ {
		go ix.worker()
	}
	return ix
}

// Add records an entry under its normalized key. The first writer of a
// key wins; later duplicates are dropped so the dataset's own ordering
// decides which feature represents a shared name. Add must only be
// called before Seal, from the ingest goroutine.
func (ix *Index) Add(e Entry) {
	key := Normalize(e.Name)
	if key == "" {
		return
	}
	if _, taken := ix.entries[key]; taken {
		return
	}
	e.Key = key
	ix.entries[key] = e
	ix.order = append(ix.order, key)
}

// Seal marks the index read-only and wakes every waiter on Ready().
// Closing the channel is the readiness signal itself, so there is no
// flag to poll and no race to guard.
func (ix *Index) Seal() {
	close(ix.ready)
}

// Ready returns a channel that is closed once the index is sealed.
func (ix *Index) Ready() <-chan struct{} {
	return ix.ready
}

// Len reports how many entries the index holds. Only meaningful after
// Seal; the ingest logger calls it for its summary line.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// worker serves queries one at a time. All workers read the same sealed
// map, which is safe because nothing writes after Seal.
func (ix *Index) worker() {
	for q := range ix.queries {
		switch q.kind {
		case kindLookup:
			e, ok := ix.entries[q.key]
			q.reply <- answer{entry: e, found: ok}
		case kindSuggest:
			q.reply <- answer{suggestions: ix.suggest(q.key, q.limit)}
		case kindNames:
			q.reply <- answer{names: ix.names()}
		}
	}
}

func (ix *Index) ask(q query) (answer, error) {
	select {
	case <-ix.ready:
	default:
		return answer{}, ErrNotReady
	}
	q.reply = make(chan answer, 1)
	ix.queries <- q
	return <-q.reply, nil
}

// Lookup resolves a user-typed name to its entry. The boolean is false
// on a miss; ErrNotReady is returned when ingestion has not finished.
func (ix *Index) Lookup(name string) (Entry, bool, error) {
	res, err := ix.ask(query{kind: kindLookup, key: Normalize(name)})
	if err != nil {
		return Entry{}, false, err
	}
	return res.entry, res.found, nil
}

// Suggest returns up to limit display names related to the query:
// prefix matches first, then substring matches, no duplicates. When
// nothing matches at all it falls back to the first entries in
// insertion order, so the user always sees something clickable.
func (ix *Index) Suggest(name string, limit int) ([]string, error) {
	res, err := ix.ask(query{kind: kindSuggest, key: Normalize(name), limit: limit})
	if err != nil {
		return nil, err
	}
	return res.suggestions, nil
}

// Names lists every display name alphabetically. Served on the debug
// endpoint so operators can eyeball what the ingest pass produced.
func (ix *Index) Names() ([]string, error) {
	res, err := ix.ask(query{kind: kindNames})
	if err != nil {
		return nil, err
	}
	return res.names, nil
}

func (ix *Index) suggest(key string, limit int) []string {
	if limit <= 0 {
		limit = 10
	}
	seen := make(map[string]bool, limit)
	out := make([]string, 0, limit)
	take := func(k string) bool {
		if seen[k] {
			return false
		}
		seen[k] = true
		out = append(out, ix.entries[k].Name)
		return len(out) >= limit
	}

	if key != "" {
		for _, k := range ix.order {
			if strings.HasPrefix(k, key) && take(k) {
				return out
			}
		}
		for _, k := range ix.order {
			if strings.Contains(k, key) && take(k) {
				return out
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	// No match at all: show the head of the dataset instead of an empty
	// box, so a typo still leads somewhere.
	for _, k := range ix.order {
		if take(k) {
			break
		}
	}
	return out
}

func (ix *Index) names() []string {
	out := make([]string, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out
}
