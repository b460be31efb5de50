// Package scene is an in-memory render target. Terminal viewers attach a
// Scene to the reconciliation loop and draw from it on their own schedule.
package scene

import (
	"slices"
	"sort"
	"sync"

	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

// Marker is the drawn state of one aircraft.
type Marker struct {
	ID       string
	Label    string
	Position coordinates.Geographic
	Heading  float64
}

// DisplayName returns the label, or the id for unlabeled aircraft.
func (m Marker) DisplayName() string {
	if m.Label != "" {
		return m.Label
	}
	return m.ID
}

// TrailView is the drawn state of one trail.
type TrailView struct {
	ID      string
	Points  []coordinates.Geographic
	Visible bool
}

// Scene implements render.Sink by keeping markers and trails in memory.
// It is safe for concurrent use.
type Scene struct {
	mu       sync.RWMutex
	markers  map[string]*Marker
	trails   map[string]*TrailView
	onChange func()
	version  uint64
}

// New creates an empty scene.
func New() *Scene {
	return &Scene{
		markers: make(map[string]*Marker),
		trails:  make(map[string]*TrailView),
	}
}

// OnChange registers f to run after every command. f runs on the
// caller's goroutine without the scene lock held.
func (s *Scene) OnChange(f func()) {
	s.mu.Lock()
	s.onChange = f
	s.mu.Unlock()
}

// mutate applies f under the write lock and then notifies.
func (s *Scene) mutate(f func()) {
	s.mu.Lock()
	f()
	s.version++
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (s *Scene) PlaceMarker(id string, pos coordinates.Geographic, heading float64, label string) {
	s.mutate(func() {
		s.markers[id] = &Marker{ID: id, Label: label, Position: pos, Heading: heading}
	})
}

func (s *Scene) MoveMarker(id string, pos coordinates.Geographic) {
	s.mutate(func() {
		if m, ok := s.markers[id]; ok {
			m.Position = pos
		}
	})
}

func (s *Scene) SetMarkerHeading(id string, heading float64) {
	s.mutate(func() {
		if m, ok := s.markers[id]; ok {
			m.Heading = heading
		}
	})
}

func (s *Scene) CreateTrail(id string, start coordinates.Geographic) {
	s.mutate(func() {
		s.trails[id] = &TrailView{ID: id, Points: []coordinates.Geographic{start}}
	})
}

func (s *Scene) AppendTrailPoint(id string, pos coordinates.Geographic) {
	s.mutate(func() {
		if t, ok := s.trails[id]; ok {
			t.Points = append(t.Points, pos)
		}
	})
}

func (s *Scene) SetTrailVisibility(id string, visible bool) {
	s.mutate(func() {
		if t, ok := s.trails[id]; ok {
			t.Visible = visible
		}
	})
}

func (s *Scene) RemoveTrack(id string) {
	s.mutate(func() {
		delete(s.markers, id)
		delete(s.trails, id)
	})
}

// Markers returns all markers sorted by id.
func (s *Scene) Markers() []Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Marker returns one marker.
func (s *Scene) Marker(id string) (Marker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markers[id]
	if !ok {
		return Marker{}, false
	}
	return *m, true
}

// Trail returns a copy of the trail for id.
func (s *Scene) Trail(id string) (TrailView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trails[id]
	if !ok {
		return TrailView{}, false
	}
	return TrailView{ID: t.ID, Points: slices.Clone(t.Points), Visible: t.Visible}, true
}

// VisibleTrails returns every trail currently shown, sorted by id.
// The loop keeps this at most one entry.
func (s *Scene) VisibleTrails() []TrailView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TrailView
	for _, t := range s.trails {
		if t.Visible {
			out = append(out, TrailView{ID: t.ID, Points: slices.Clone(t.Points), Visible: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VisibleTrail returns the shown trail, if any.
func (s *Scene) VisibleTrail() (TrailView, bool) {
	trails := s.VisibleTrails()
	if len(trails) == 0 {
		return TrailView{}, false
	}
	return trails[0], true
}

// Version increases on every command; viewers use it to skip redraws.
func (s *Scene) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of markers.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers)
}
