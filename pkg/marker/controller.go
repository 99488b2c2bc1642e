// Package marker owns the single manual marker. One goroutine holds the
// state and every mutation travels through its command channel, so a
// replacement (remove old, add new) is atomic by construction and no
// reader ever observes two markers. "Share memory by communicating."
package marker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"globe-country-map/pkg/countryindex"
)

// Camera constants for the fly-to event every placement emits. The
// viewer treats them as-is; keeping them server-side means every open
// browser flies the same way.
const (
	FlyHeightMeters  = 1500000
	FlyDurationSecs  = 2
	maxSuggestions   = 10
	subscriberBuffer = 8
)

// Marker is the current manual marker, or the zero value when none has
// been placed yet (Current reports that through its boolean).
type Marker struct {
	Lon         float64   `json:"lon"`
	Lat         float64   `json:"lat"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PlacedAt    time.Time `json:"placed_at"`
}

// Event is what subscribers receive on every placement: the new marker
// plus the camera move the viewer should perform.
type Event struct {
	Marker   Marker  `json:"marker"`
	FlyLon   float64 `json:"fly_lon"`
	FlyLat   float64 `json:"fly_lat"`
	Height   float64 `json:"height"`
	Duration float64 `json:"duration"`
}

// NotFoundError reports a failed name lookup together with up to ten
// alternatives the user can try instead.
type NotFoundError struct {
	Query       string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("country %q not found", e.Query)
}

// command verbs handled by the owner goroutine.
type placeCmd struct {
	m     Marker
	reply chan Marker
}

type currentCmd struct {
	reply chan currentReply
}

type currentReply struct {
	m  Marker
	ok bool
}

type subscribeCmd struct {
	ch    chan Event
	reply chan struct{}
}

type unsubscribeCmd struct {
	ch chan Event
}

// Controller routes all marker traffic through its owner goroutine.
type Controller struct {
	index *countryindex.Index
	place chan placeCmd
	get   chan currentCmd
	sub   chan subscribeCmd
	unsub chan unsubscribeCmd
}

// New starts the owner goroutine. The index may still be unsealed;
// PlaceByName surfaces countryindex.ErrNotReady until it is.
func New(index *countryindex.Index) *Controller {
	c := &Controller{
		index: index,
		place: make(chan placeCmd),
		get:   make(chan currentCmd),
		sub:   make(chan subscribeCmd),
		unsub: make(chan unsubscribeCmd),
	}
	go c.run()
	return c
}

// run is the only goroutine that touches the marker and the subscriber
// set. Slow subscribers are skipped, not waited on: a stalled browser
// tab must never delay a placement.
func (c *Controller) run() {
	var (
		current Marker
		placed  bool
		subs    = make(map[chan Event]bool)
	)
	for {
		select {
		case cmd := <-c.place:
			current, placed = cmd.m, true
			ev := Event{
				Marker:   cmd.m,
				FlyLon:   cmd.m.Lon,
				FlyLat:   cmd.m.Lat,
				Height:   FlyHeightMeters,
				Duration: FlyDurationSecs,
			}
			for ch := range subs {
				select {
				case ch <- ev:
				default:
				}
			}
			cmd.reply <- cmd.m
		case cmd := <-c.get:
			cmd.reply <- currentReply{m: current, ok: placed}
		case cmd := <-c.sub:
			subs[cmd.ch] = true
			cmd.reply <- struct{}{}
		case cmd := <-c.unsub:
			delete(subs, cmd.ch)
		}
	}
}

// PlaceAt replaces the marker with one at the given position and tells
// every subscriber to fly there.
func (c *Controller) PlaceAt(lon, lat float64, title, description string) Marker {
	reply := make(chan Marker, 1)
	c.place <- placeCmd{
		m: Marker{
			Lon:         lon,
			Lat:         lat,
			Title:       title,
			Description: description,
			PlacedAt:    time.Now().UTC(),
		},
		reply: reply,
	}
	return <-reply
}

// PlaceByName resolves a typed country name and places the marker on
// its centroid. A miss returns *NotFoundError carrying suggestions; a
// blank name returns ok=false with a nil error so HTTP can answer 204.
func (c *Controller) PlaceByName(name string) (Marker, bool, error) {
	if strings.TrimSpace(name) == "" {
		return Marker{}, false, nil
	}
	entry, found, err := c.index.Lookup(name)
	if err != nil {
		return Marker{}, false, err
	}
	if !found {
		sugg, serr := c.index.Suggest(name, maxSuggestions)
		if serr != nil {
			sugg = nil
		}
		return Marker{}, false, &NotFoundError{Query: name, Suggestions: sugg}
	}
	desc := describe(entry)
	return c.PlaceAt(entry.Lon, entry.Lat, entry.Name, desc), true, nil
}

// Current returns the marker and whether one has been placed.
func (c *Controller) Current() (Marker, bool) {
	r := make(chan currentReply, 1)
	c.get <- currentCmd{reply: r}
	res := <-r
	return res.m, res.ok
}

// Subscribe registers an event channel until ctx is done. The returned
// channel is buffered; events that arrive while the buffer is full are
// dropped for this subscriber only.
func (c *Controller) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	done := make(chan struct{}, 1)
	c.sub <- subscribeCmd{ch: ch, reply: done}
	<-done
	go func() {
		<-ctx.Done()
		c.unsub <- unsubscribeCmd{ch: ch}
	}()
	return ch
}

// describe builds the popup body for a resolved country.
func describe(e countryindex.Entry) string {
	parts := make([]string, 0, 2)
	if e.ISO2 != "" {
		parts = append(parts, "ISO2: "+e.ISO2)
	}
	if e.ISO3 != "" {
		parts = append(parts, "ISO3: "+e.ISO3)
	}
	if len(parts) == 0 {
		return e.Name
	}
	return strings.Join(parts, " / ")
}
