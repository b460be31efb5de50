// Package render defines the command contract between the reconciliation
// loop and whatever draws the map.
package render

import (
	"fmt"
	"sync"

	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

// Sink receives render commands. Implementations draw markers and trails
// on a concrete surface (web map, terminal, log). Commands arrive from a
// single goroutine; sinks that are also read elsewhere must lock.
//
// A sink reports user clicks by calling the loop's Select method with the
// clicked id; it never holds callbacks.
type Sink interface {
	// PlaceMarker draws a new marker with its label.
	PlaceMarker(id string, pos coordinates.Geographic, heading float64, label string)

	// MoveMarker moves an existing marker.
	MoveMarker(id string, pos coordinates.Geographic)

	// SetMarkerHeading rotates an existing marker.
	SetMarkerHeading(id string, heading float64)

	// CreateTrail starts the trail for id at start.
	CreateTrail(id string, start coordinates.Geographic)

	// AppendTrailPoint extends the trail for id.
	AppendTrailPoint(id string, pos coordinates.Geographic)

	// SetTrailVisibility shows or hides the trail for id.
	SetTrailVisibility(id string, visible bool)

	// RemoveTrack drops the marker and trail for id.
	RemoveTrack(id string)
}

// Op names a render command.
type Op string

// Render command operations. The string values are the wire names used
// by the web viewer.
const (
	OpPlace      Op = "place"
	OpMove       Op = "move"
	OpHeading    Op = "heading"
	OpTrail      Op = "trail"
	OpAppend     Op = "append"
	OpVisibility Op = "visibility"
	OpRemove     Op = "remove"
)

// Command is one render command as a value.
type Command struct {
	Op      Op                      `json:"op"`
	ID      string                  `json:"id"`
	Pos     *coordinates.Geographic `json:"pos,omitempty"`
	Heading *float64                `json:"heading,omitempty"`
	Label   string                  `json:"label,omitempty"`
	Visible *bool                   `json:"visible,omitempty"`
}

func (c Command) String() string {
	switch c.Op {
	case OpPlace:
		return fmt.Sprintf("place %s at %v heading %.1f label %q", c.ID, *c.Pos, *c.Heading, c.Label)
	case OpMove, OpTrail, OpAppend:
		return fmt.Sprintf("%s %s %v", c.Op, c.ID, *c.Pos)
	case OpHeading:
		return fmt.Sprintf("heading %s %.1f", c.ID, *c.Heading)
	case OpVisibility:
		return fmt.Sprintf("visibility %s %t", c.ID, *c.Visible)
	default:
		return fmt.Sprintf("%s %s", c.Op, c.ID)
	}
}

// Apply replays the command into sink.
func (c Command) Apply(sink Sink) {
	switch c.Op {
	case OpPlace:
		sink.PlaceMarker(c.ID, *c.Pos, *c.Heading, c.Label)
	case OpMove:
		sink.MoveMarker(c.ID, *c.Pos)
	case OpHeading:
		sink.SetMarkerHeading(c.ID, *c.Heading)
	case OpTrail:
		sink.CreateTrail(c.ID, *c.Pos)
	case OpAppend:
		sink.AppendTrailPoint(c.ID, *c.Pos)
	case OpVisibility:
		sink.SetTrailVisibility(c.ID, *c.Visible)
	case OpRemove:
		sink.RemoveTrack(c.ID)
	}
}

// Place builds a place-marker command.
func Place(id string, pos coordinates.Geographic, heading float64, label string) Command {
	return Command{Op: OpPlace, ID: id, Pos: &pos, Heading: &heading, Label: label}
}

// Move builds a move-marker command.
func Move(id string, pos coordinates.Geographic) Command {
	return Command{Op: OpMove, ID: id, Pos: &pos}
}

// Heading builds a set-heading command.
func Heading(id string, heading float64) Command {
	return Command{Op: OpHeading, ID: id, Heading: &heading}
}

// Trail builds a create-trail command.
func Trail(id string, start coordinates.Geographic) Command {
	return Command{Op: OpTrail, ID: id, Pos: &start}
}

// Append builds an append-trail-point command.
func Append(id string, pos coordinates.Geographic) Command {
	return Command{Op: OpAppend, ID: id, Pos: &pos}
}

// Visibility builds a set-trail-visibility command.
func Visibility(id string, visible bool) Command {
	return Command{Op: OpVisibility, ID: id, Visible: &visible}
}

// Remove builds a remove-track command.
func Remove(id string) Command {
	return Command{Op: OpRemove, ID: id}
}

// Func adapts a function receiving Command values to a Sink.
type Func func(Command)

// PlaceMarker passes a place command to f.
func (f Func) PlaceMarker(id string, pos coordinates.Geographic, heading float64, label string) {
	f(Place(id, pos, heading, label))
}

// MoveMarker passes a move command to f.
func (f Func) MoveMarker(id string, pos coordinates.Geographic) {
	f(Move(id, pos))
}

// SetMarkerHeading passes a heading command to f.
func (f Func) SetMarkerHeading(id string, heading float64) {
	f(Heading(id, heading))
}

// CreateTrail passes a create-trail command to f.
func (f Func) CreateTrail(id string, start coordinates.Geographic) {
	f(Trail(id, start))
}

// AppendTrailPoint passes an append command to f.
func (f Func) AppendTrailPoint(id string, pos coordinates.Geographic) {
	f(Append(id, pos))
}

// SetTrailVisibility passes a visibility command to f.
func (f Func) SetTrailVisibility(id string, visible bool) {
	f(Visibility(id, visible))
}

// RemoveTrack passes a remove command to f.
func (f Func) RemoveTrack(id string) {
	f(Remove(id))
}

// Recorder is a Sink that keeps every command it receives.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(c Command) {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
}

// PlaceMarker records a place command.
func (r *Recorder) PlaceMarker(id string, pos coordinates.Geographic, heading float64, label string) {
	r.record(Place(id, pos, heading, label))
}

// MoveMarker records a move command.
func (r *Recorder) MoveMarker(id string, pos coordinates.Geographic) {
	r.record(Move(id, pos))
}

// SetMarkerHeading records a heading command.
func (r *Recorder) SetMarkerHeading(id string, heading float64) {
	r.record(Heading(id, heading))
}

// CreateTrail records a create-trail command.
func (r *Recorder) CreateTrail(id string, start coordinates.Geographic) {
	r.record(Trail(id, start))
}

// AppendTrailPoint records an append command.
func (r *Recorder) AppendTrailPoint(id string, pos coordinates.Geographic) {
	r.record(Append(id, pos))
}

// SetTrailVisibility records a visibility command.
func (r *Recorder) SetTrailVisibility(id string, visible bool) {
	r.record(Visibility(id, visible))
}

// RemoveTrack records a remove command.
func (r *Recorder) RemoveTrack(id string) {
	r.record(Remove(id))
}

// Commands returns a copy of everything recorded so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Reset forgets all recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.commands = nil
	r.mu.Unlock()
}

// Replay applies every recorded command to sink in order.
func (r *Recorder) Replay(sink Sink) {
	for _, c := range r.Commands() {
		c.Apply(sink)
	}
}

// Multi fans every command out to several sinks in order.
type Multi []Sink

// PlaceMarker places the marker on every sink.
func (m Multi) PlaceMarker(id string, pos coordinates.Geographic, heading float64, label string) {
	for _, s := range m {
		s.PlaceMarker(id, pos, heading, label)
	}
}

// MoveMarker moves the marker on every sink.
func (m Multi) MoveMarker(id string, pos coordinates.Geographic) {
	for _, s := range m {
		s.MoveMarker(id, pos)
	}
}

// SetMarkerHeading rotates the marker on every sink.
func (m Multi) SetMarkerHeading(id string, heading float64) {
	for _, s := range m {
		s.SetMarkerHeading(id, heading)
	}
}

// CreateTrail starts the trail on every sink.
func (m Multi) CreateTrail(id string, start coordinates.Geographic) {
	for _, s := range m {
		s.CreateTrail(id, start)
	}
}

// AppendTrailPoint extends the trail on every sink.
func (m Multi) AppendTrailPoint(id string, pos coordinates.Geographic) {
	for _, s := range m {
		s.AppendTrailPoint(id, pos)
	}
}

// SetTrailVisibility shows or hides the trail on every sink.
func (m Multi) SetTrailVisibility(id string, visible bool) {
	for _, s := range m {
		s.SetTrailVisibility(id, visible)
	}
}

// RemoveTrack removes the marker and trail from every sink.
func (m Multi) RemoveTrack(id string) {
	for _, s := range m {
		s.RemoveTrack(id)
	}
}

// Discard is a Sink that drops every command.
var Discard Sink = Func(func(Command) {})
