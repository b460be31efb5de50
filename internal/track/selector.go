package track

import "sync"

// Selector holds the single track whose trail is shown, if any.
type Selector struct {
	mu       sync.RWMutex
	selected string
	active   bool
}

// NewSelector creates a selector with nothing selected.
func NewSelector() *Selector {
	return &Selector{}
}

// Toggle selects id, or clears the selection when id is already selected.
// It returns the new selection and whether anything is selected.
func (s *Selector) Toggle(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active && s.selected == id {
		s.selected, s.active = "", false
		return "", false
	}
	s.selected, s.active = id, true
	return id, true
}

// Current returns the selected id, if any.
func (s *Selector) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, s.active
}

// IsSelected reports whether id is the current selection.
func (s *Selector) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active && s.selected == id
}

// Clear drops the selection.
func (s *Selector) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected, s.active = "", false
}
