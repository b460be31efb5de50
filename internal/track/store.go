// Package track holds live per-aircraft state: the Store that reconciles
// observations into tracks and the Selector that decides which single
// track has its trail shown.
package track

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

var (
	// ErrInvalidObservation is returned for an observation with an empty id
	// or a missing/non-finite coordinate.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrUnknownTrack is returned when an id has no track.
	ErrUnknownTrack = errors.New("unknown track")
)

// Outcome reports what ApplyObservation did.
type Outcome int

const (
	// Rejected means the observation was not applied.
	Rejected Outcome = iota
	// Created means a new track was started.
	Created
	// Updated means an existing track moved.
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "rejected"
	}
}

// Track is the maintained state for one aircraft.
type Track struct {
	// ID is the ICAO hex code, immutable for the track's lifetime
	ID string `json:"id"`

	// Label is the flight designator captured at creation (may be empty)
	Label string `json:"label"`

	// Position is the latest accepted position
	Position coordinates.Geographic `json:"position"`

	// PreviousPosition is the position before the latest update, nil until
	// the second accepted observation
	PreviousPosition *coordinates.Geographic `json:"previous_position,omitempty"`

	// Heading in degrees [0, 360), 0 until the track has moved once
	Heading float64 `json:"heading"`

	// Trail is every accepted position in arrival order
	Trail []coordinates.Geographic `json:"trail"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// Updates counts accepted observations
	Updates int `json:"updates"`

	// MissedCycles counts consecutive batches without this track
	MissedCycles int `json:"missed_cycles"`
}

// Fix is one accepted observation as it was applied to a track.
type Fix struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Position   coordinates.Geographic `json:"position"`
	Heading    float64                `json:"heading"`
	ObservedAt time.Time              `json:"observed_at"`
}

// HasHeading reports whether the track has moved at least once.
func (t Track) HasHeading() bool {
	return t.PreviousPosition != nil
}

// clone returns a copy that shares no memory with t.
func (t *Track) clone() Track {
	c := *t
	c.Trail = slices.Clone(t.Trail)
	if t.PreviousPosition != nil {
		prev := *t.PreviousPosition
		c.PreviousPosition = &prev
	}
	return c
}

// Store owns all tracks keyed by id. It is safe for concurrent use;
// the reconciliation loop is the only writer.
type Store struct {
	mu     sync.RWMutex
	tracks map[string]*Track
}

// NewStore creates an empty track store.
func NewStore() *Store {
	return &Store{
		tracks: make(map[string]*Track),
	}
}

// ApplyObservation merges one observation into the store.
// An unknown id creates a track; a known id shifts its position into
// PreviousPosition, recomputes the heading and extends the trail.
// Invalid input is rejected before anything is touched.
func (s *Store) ApplyObservation(id, label string, pos coordinates.Geographic, now time.Time) (Outcome, error) {
	if id == "" {
		return Rejected, fmt.Errorf("%w: empty id", ErrInvalidObservation)
	}
	if !pos.Finite() {
		return Rejected, fmt.Errorf("%w: %s has non-finite position %v", ErrInvalidObservation, id, pos)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		s.tracks[id] = &Track{
			ID:        id,
			Label:     label,
			Position:  pos,
			Heading:   0,
			Trail:     []coordinates.Geographic{pos},
			FirstSeen: now,
			LastSeen:  now,
			Updates:   1,
		}
		return Created, nil
	}

	prev := t.Position
	t.PreviousPosition = &prev
	t.Position = pos
	t.Heading = coordinates.Bearing(prev, pos)
	t.Trail = append(t.Trail, pos)
	t.LastSeen = now
	t.Updates++
	t.MissedCycles = 0

	return Updated, nil
}

// Get returns a copy of the track for id.
func (s *Store) Get(id string) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracks[id]
	if !ok {
		return Track{}, false
	}
	return t.clone(), true
}

// Heading returns the current heading for id.
func (s *Store) Heading(id string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracks[id]
	if !ok {
		return 0, false
	}
	return t.Heading, true
}

// Has reports whether id is a known track.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracks[id]
	return ok
}

// IDs returns every known id in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns copies of all tracks sorted by id.
func (s *Store) Snapshot() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tracks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// Sweep ages every track not present in seen by one cycle. With
// maxMissed > 0, tracks missing for more than maxMissed consecutive
// batches are removed and their ids returned in sorted order.
// maxMissed == 0 keeps every track forever.
func (s *Store) Sweep(seen map[string]bool, maxMissed int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, t := range s.tracks {
		if seen[id] {
			continue
		}
		t.MissedCycles++
		if maxMissed > 0 && t.MissedCycles > maxMissed {
			delete(s.tracks, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Remove deletes a track. It returns ErrUnknownTrack for an unknown id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracks[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrack, id)
	}
	delete(s.tracks, id)
	return nil
}
