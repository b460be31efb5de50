// Package livemap runs the reconciliation loop: it polls a data source on
// a fixed interval, merges every batch into the track store and turns the
// result into render commands. User clicks and viewer resyncs are queued
// into the same goroutine so no two mutations ever interleave.
package livemap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/unklstewy/ads-livemap/internal/render"
	"github.com/unklstewy/ads-livemap/internal/track"
	"github.com/unklstewy/ads-livemap/pkg/adsb"
)

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 5 * time.Second

const (
	// DefaultArchiveTimeout bounds a single archive write.
	DefaultArchiveTimeout = 5 * time.Second

	// DefaultArchiveBuffer is how many fixes wait for the archive writer
	// before new ones are dropped.
	DefaultArchiveBuffer = 4096
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("loop already running")

// Archive receives every accepted observation. Errors are logged and
// never stop the loop.
type Archive interface {
	Record(ctx context.Context, fix track.Fix) error
}

// Stats is a point-in-time view of loop counters.
type Stats struct {
	Cycles       int       `json:"cycles"`
	PollsFailed  int       `json:"polls_failed"`
	TicksDropped int       `json:"ticks_dropped"`
	Accepted     int       `json:"accepted"`
	Rejected     int       `json:"rejected"`
	Created      int       `json:"created"`
	Pruned       int       `json:"pruned"`
	Clicks       int       `json:"clicks"`
	ArchiveFails int       `json:"archive_failures"`
	Tracks       int       `json:"tracks"`
	LastPoll     time.Time `json:"last_poll"`
	LastError    string    `json:"last_error,omitempty"`
	Selected     string    `json:"selected,omitempty"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithStaleAfter removes tracks missing from more than n consecutive
// batches. 0 keeps tracks forever.
func WithStaleAfter(n int) Option {
	return func(l *Loop) {
		if n >= 0 {
			l.staleAfter = n
		}
	}
}

// WithArchive hands every accepted observation to a. While Run is active
// writes happen on a separate goroutine so a slow database never holds up
// polling or clicks.
func WithArchive(a Archive) Option {
	return func(l *Loop) { l.archive = a }
}

// WithArchiveTimeout bounds each archive write.
func WithArchiveTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.archiveTimeout = d
		}
	}
}

// WithArchiveBuffer sets how many fixes may queue for the archive writer.
func WithArchiveBuffer(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.archiveBuffer = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

type eventKind int

const (
	eventSelect eventKind = iota
	eventResync
)

type event struct {
	kind eventKind
	id   string
	sink render.Sink
	done chan struct{}
}

type pollResult struct {
	batch []adsb.Observation
	err   error
	at    time.Time
}

// Loop owns the track store and selector and drives the sink.
type Loop struct {
	source adsb.DataSource
	sink   render.Sink

	store    *track.Store
	selector *track.Selector

	interval   time.Duration
	staleAfter int
	logger     *slog.Logger
	now        func() time.Time

	archive        Archive
	archiveTimeout time.Duration
	archiveBuffer  int
	// fixes feeds the archive writer; nil until Run starts it.
	fixes chan track.Fix

	events  chan event
	done    chan struct{}
	started sync.Once
	running bool

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a loop reading from source and drawing into sink.
func New(source adsb.DataSource, sink render.Sink, opts ...Option) *Loop {
	if sink == nil {
		sink = render.Discard
	}
	l := &Loop{
		source:   source,
		sink:     sink,
		store:    track.NewStore(),
		selector: track.NewSelector(),
		interval: DefaultInterval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		events:   make(chan event, 64),
		done:     make(chan struct{}),

		archiveTimeout: DefaultArchiveTimeout,
		archiveBuffer:  DefaultArchiveBuffer,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run polls immediately and then once per interval until ctx is done.
// Only one fetch is ever in flight; a tick that fires while a fetch is
// pending is dropped. It returns ctx.Err() after tear-down.
func (l *Loop) Run(ctx context.Context) error {
	first := false
	l.started.Do(func() { first = true })
	if !first {
		return ErrAlreadyRunning
	}
	l.statsMu.Lock()
	l.running = true
	l.statsMu.Unlock()
	defer close(l.done)

	l.logger.Info("reconciliation loop started",
		slog.Duration("interval", l.interval),
		slog.Int("stale_after_cycles", l.staleAfter))

	if l.archive != nil {
		l.fixes = make(chan track.Fix, l.archiveBuffer)
		go l.writeArchive(ctx, l.fixes)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// Buffered so a fetch finishing after tear-down never blocks.
	results := make(chan pollResult, 1)
	inFlight := true
	go l.poll(ctx, results)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reconciliation loop stopped", slog.Any("reason", ctx.Err()))
			return ctx.Err()

		case <-ticker.C:
			if inFlight {
				l.logger.Debug("previous poll still in flight, dropping tick")
				l.bump(func(s *Stats) { s.TicksDropped++ })
				continue
			}
			inFlight = true
			go l.poll(ctx, results)

		case res := <-results:
			inFlight = false
			if ctx.Err() != nil {
				// Torn down while fetching
				continue
			}
			if res.err != nil {
				l.logger.Warn("poll failed", slog.Any("error", res.err))
				l.bump(func(s *Stats) {
					s.PollsFailed++
					s.LastError = res.err.Error()
				})
				continue
			}
			l.apply(ctx, res.batch, res.at)

		case ev := <-l.events:
			l.handle(ev)
		}
	}
}

func (l *Loop) poll(ctx context.Context, results chan<- pollResult) {
	batch, err := l.source.Fetch(ctx)
	results <- pollResult{batch: batch, err: err, at: l.now()}
}

// Apply merges one batch synchronously. Run calls it for every successful
// poll; it must not be called concurrently with Run.
func (l *Loop) Apply(ctx context.Context, batch []adsb.Observation) {
	l.apply(ctx, batch, l.now())
}

func (l *Loop) apply(ctx context.Context, batch []adsb.Observation, now time.Time) {
	seen := make(map[string]bool, len(batch))
	var accepted, rejected, created, dropped int

	for _, obs := range batch {
		id, label, pos := obs.Hex, obs.Label(), obs.Position()
		if id != "" {
			seen[id] = true
		}

		outcome, err := l.store.ApplyObservation(id, label, pos, now)
		if err != nil {
			rejected++
			l.logger.Warn("observation rejected",
				slog.String("id", id),
				slog.Any("error", err))
			continue
		}
		accepted++

		heading := 0.0
		switch outcome {
		case track.Created:
			created++
			l.sink.PlaceMarker(id, pos, 0, label)
			l.sink.CreateTrail(id, pos)
			l.sink.SetTrailVisibility(id, false)
			l.logger.Debug("track created", slog.String("id", id), slog.String("label", label))

		case track.Updated:
			heading, _ = l.store.Heading(id)
			l.sink.MoveMarker(id, pos)
			l.sink.SetMarkerHeading(id, heading)
			l.sink.AppendTrailPoint(id, pos)
		}

		if l.archive != nil {
			fix := track.Fix{ID: id, Label: label, Position: pos, Heading: heading, ObservedAt: obs.ObservedAt(now)}
			if !l.queueFix(ctx, fix) {
				dropped++
			}
		}
	}

	if dropped > 0 {
		l.logger.Warn("archive writer behind, fixes dropped", slog.Int("dropped", dropped))
		l.bump(func(s *Stats) { s.ArchiveFails += dropped })
	}

	pruned := l.store.Sweep(seen, l.staleAfter)
	for _, id := range pruned {
		if l.selector.IsSelected(id) {
			l.selector.Clear()
		}
		l.sink.RemoveTrack(id)
		l.logger.Info("track pruned", slog.String("id", id), slog.Int("after_cycles", l.staleAfter))
	}

	l.bump(func(s *Stats) {
		s.Cycles++
		s.Accepted += accepted
		s.Rejected += rejected
		s.Created += created
		s.Pruned += len(pruned)
		s.LastPoll = now
		s.LastError = ""
	})

	l.logger.Debug("batch applied",
		slog.Int("observations", len(batch)),
		slog.Int("accepted", accepted),
		slog.Int("rejected", rejected),
		slog.Int("created", created),
		slog.Int("pruned", len(pruned)),
		slog.Int("tracks", l.store.Len()))
}

// queueFix hands fix to the archive writer, or writes it inline when Run
// is not active. It returns false if the writer's queue is full.
func (l *Loop) queueFix(ctx context.Context, fix track.Fix) bool {
	if l.fixes == nil {
		l.writeFix(ctx, fix)
		return true
	}
	select {
	case l.fixes <- fix:
		return true
	default:
		return false
	}
}

// writeArchive drains fixes until ctx is done.
func (l *Loop) writeArchive(ctx context.Context, fixes <-chan track.Fix) {
	for {
		select {
		case <-ctx.Done():
			return
		case fix := <-fixes:
			l.writeFix(ctx, fix)
		}
	}
}

func (l *Loop) writeFix(ctx context.Context, fix track.Fix) {
	ctx, cancel := context.WithTimeout(ctx, l.archiveTimeout)
	defer cancel()

	if err := l.archive.Record(ctx, fix); err != nil {
		l.logger.Warn("archive write failed", slog.String("id", fix.ID), slog.Any("error", err))
		l.bump(func(s *Stats) { s.ArchiveFails++ })
	}
}

// Select reports a click on id. The toggle runs inside the loop; Select
// returns once it is queued, or immediately after the loop has stopped.
// Before Run starts clicks are queued while there is room and dropped
// after that.
func (l *Loop) Select(id string) {
	ev := event{kind: eventSelect, id: id}
	if !l.Running() {
		select {
		case l.events <- ev:
		default:
			l.logger.Warn("loop not running, click dropped", slog.String("id", id))
		}
		return
	}
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// Resync replays the full current state into sink, which is typically a
// viewer that just attached. It blocks until the replay is done or the
// loop has stopped, and returns at once if Run was never started.
func (l *Loop) Resync(sink render.Sink) {
	if !l.Running() {
		l.logger.Warn("loop not running, resync skipped")
		return
	}
	ev := event{kind: eventResync, sink: sink, done: make(chan struct{})}
	select {
	case l.events <- ev:
	case <-l.done:
		return
	}
	select {
	case <-ev.done:
	case <-l.done:
	}
}

func (l *Loop) handle(ev event) {
	switch ev.kind {
	case eventSelect:
		l.toggle(ev.id)
	case eventResync:
		l.replay(ev.sink)
		close(ev.done)
	}
}

// toggle flips the selection for id and re-applies trail visibility to
// every known track, so at most one trail is ever shown.
func (l *Loop) toggle(id string) {
	if !l.store.Has(id) {
		l.logger.Warn("click on unknown track ignored", slog.String("id", id))
		return
	}

	selected, ok := l.selector.Toggle(id)
	l.bump(func(s *Stats) { s.Clicks++ })
	l.logger.Debug("selection changed", slog.String("selected", selected), slog.Bool("active", ok))

	l.applyVisibility(l.sink)
}

func (l *Loop) applyVisibility(sink render.Sink) {
	selected, ok := l.selector.Current()
	for _, id := range l.store.IDs() {
		sink.SetTrailVisibility(id, ok && id == selected)
	}
}

// replay draws every track from scratch into sink.
func (l *Loop) replay(sink render.Sink) {
	tracks := l.store.Snapshot()
	for _, t := range tracks {
		sink.PlaceMarker(t.ID, t.Position, t.Heading, t.Label)
		sink.CreateTrail(t.ID, t.Trail[0])
		for _, p := range t.Trail[1:] {
			sink.AppendTrailPoint(t.ID, p)
		}
	}
	l.applyVisibility(sink)
	l.logger.Debug("viewer resynced", slog.Int("tracks", len(tracks)))
}

func (l *Loop) bump(f func(*Stats)) {
	l.statsMu.Lock()
	f(&l.stats)
	l.statsMu.Unlock()
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	l.statsMu.RLock()
	s := l.stats
	l.statsMu.RUnlock()

	s.Tracks = l.store.Len()
	s.Selected, _ = l.selector.Current()
	return s
}

// Running reports whether Run has been started.
func (l *Loop) Running() bool {
	l.statsMu.RLock()
	defer l.statsMu.RUnlock()
	return l.running
}

// Tracks returns copies of all tracks sorted by id.
func (l *Loop) Tracks() []track.Track {
	return l.store.Snapshot()
}

// Track returns a copy of one track.
func (l *Loop) Track(id string) (track.Track, bool) {
	return l.store.Get(id)
}

// Selection returns the id whose trail is shown, if any.
func (l *Loop) Selection() (string, bool) {
	return l.selector.Current()
}
