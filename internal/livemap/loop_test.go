package livemap

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/unklstewy/ads-livemap/internal/render"
	"github.com/unklstewy/ads-livemap/internal/track"
	"github.com/unklstewy/ads-livemap/pkg/adsb"
	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

// fakeSource returns queued batches; the last one repeats.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]adsb.Observation
	err     error
	calls   int
	block   chan struct{}
}

func (f *fakeSource) Fetch(ctx context.Context) ([]adsb.Observation, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	if len(f.batches) > 1 {
		f.batches = f.batches[1:]
	}
	return b, nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchive struct {
	mu    sync.Mutex
	fixes []track.Fix
	err   error
}

func (a *fakeArchive) Record(ctx context.Context, fix track.Fix) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.fixes = append(a.fixes, fix)
	return nil
}

// hangingArchive blocks every write until its context is done.
type hangingArchive struct {
	mu    sync.Mutex
	calls int
}

func (a *hangingArchive) Record(ctx context.Context, fix track.Fix) error {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (a *hangingArchive) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func obs(hex, flight string, lat, lon float64) adsb.Observation {
	return adsb.Observation{Hex: hex, Flight: flight, Lat: &lat, Lon: &lon}
}

func geo(lat, lon float64) coordinates.Geographic {
	return coordinates.Geographic{Latitude: lat, Longitude: lon}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLoop(src adsb.DataSource, sink render.Sink, opts ...Option) *Loop {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(src, sink, opts...)
}

// TestApplyCreateAndUpdate tests the render commands for both outcomes.
func TestApplyCreateAndUpdate(t *testing.T) {
	rec := render.NewRecorder()
	l := newTestLoop(&fakeSource{}, rec)
	ctx := context.Background()

	l.Apply(ctx, []adsb.Observation{obs("A", "THY7AB ", 39.9, 32.8)})
	want := []render.Command{
		render.Place("A", geo(39.9, 32.8), 0, "THY7AB"),
		render.Trail("A", geo(39.9, 32.8)),
		render.Visibility("A", false),
	}
	if got := rec.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("Created commands:\n got %v\nwant %v", got, want)
	}

	rec.Reset()
	l.Apply(ctx, []adsb.Observation{obs("A", "THY7AB", 40.0, 32.9)})
	heading := coordinates.Bearing(geo(39.9, 32.8), geo(40.0, 32.9))
	want = []render.Command{
		render.Move("A", geo(40.0, 32.9)),
		render.Heading("A", heading),
		render.Append("A", geo(40.0, 32.9)),
	}
	if got := rec.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("Updated commands:\n got %v\nwant %v", got, want)
	}

	tr, ok := l.Track("A")
	if !ok {
		t.Fatal("Expected track A")
	}
	if !reflect.DeepEqual(tr.Trail, []coordinates.Geographic{geo(39.9, 32.8), geo(40.0, 32.9)}) {
		t.Errorf("Unexpected trail %v", tr.Trail)
	}
	if tr.Heading <= 0 || tr.Heading >= 90 {
		t.Errorf("Expected heading strictly between 0 and 90, got %f", tr.Heading)
	}

	stats := l.Stats()
	if stats.Cycles != 2 || stats.Accepted != 2 || stats.Created != 1 || stats.Tracks != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

// TestApplyRejectsMissingPosition tests that a record without latitude
// leaves the store untouched and emits nothing.
func TestApplyRejectsMissingPosition(t *testing.T) {
	rec := render.NewRecorder()
	l := newTestLoop(&fakeSource{}, rec)
	ctx := context.Background()

	l.Apply(ctx, []adsb.Observation{obs("A", "", 39.9, 32.8), obs("B", "", 41.0, 29.0)})
	before := l.Tracks()
	rec.Reset()

	lon := 33.0
	l.Apply(ctx, []adsb.Observation{{Hex: "A", Lon: &lon}, {Hex: "B"}, {Hex: "C"}})

	if len(rec.Commands()) != 0 {
		t.Errorf("Expected no render commands, got %v", rec.Commands())
	}
	if after := l.Tracks(); !reflect.DeepEqual(before, after) {
		t.Errorf("Tracks changed:\nbefore %+v\nafter  %+v", before, after)
	}
	if got := l.Stats().Rejected; got != 3 {
		t.Errorf("Expected 3 rejected, got %d", got)
	}
}

// TestApplyContinuesAfterRejection tests that one bad record does not stop a batch.
func TestApplyContinuesAfterRejection(t *testing.T) {
	l := newTestLoop(&fakeSource{}, render.Discard)

	l.Apply(context.Background(), []adsb.Observation{
		{Hex: "BAD"},
		obs("A", "", 1, 1),
		obs("B", "", 2, 2),
	})

	if got := l.Stats(); got.Tracks != 2 || got.Accepted != 2 || got.Rejected != 1 {
		t.Errorf("Unexpected stats %+v", got)
	}
}

// TestThreeClicksOnB tests exclusive visibility across clicks.
func TestThreeClicksOnB(t *testing.T) {
	rec := render.NewRecorder()
	l := newTestLoop(&fakeSource{}, rec)
	l.Apply(context.Background(), []adsb.Observation{obs("A", "", 1, 1), obs("B", "", 2, 2)})

	steps := []struct {
		wantSelected string
		wantActive   bool
		wantCommands []render.Command
	}{
		{"B", true, []render.Command{render.Visibility("A", false), render.Visibility("B", true)}},
		{"", false, []render.Command{render.Visibility("A", false), render.Visibility("B", false)}},
		{"B", true, []render.Command{render.Visibility("A", false), render.Visibility("B", true)}},
	}

	for i, step := range steps {
		rec.Reset()
		l.toggle("B")

		sel, ok := l.Selection()
		if sel != step.wantSelected || ok != step.wantActive {
			t.Errorf("Click %d: expected selection (%q, %v), got (%q, %v)", i+1, step.wantSelected, step.wantActive, sel, ok)
		}
		if got := rec.Commands(); !reflect.DeepEqual(got, step.wantCommands) {
			t.Errorf("Click %d commands:\n got %v\nwant %v", i+1, got, step.wantCommands)
		}
	}
}

// TestToggleMovesSelection tests that selecting another track hides the first.
func TestToggleMovesSelection(t *testing.T) {
	rec := render.NewRecorder()
	l := newTestLoop(&fakeSource{}, rec)
	l.Apply(context.Background(), []adsb.Observation{obs("A", "", 1, 1), obs("B", "", 2, 2), obs("C", "", 3, 3)})

	l.toggle("A")
	rec.Reset()
	l.toggle("C")

	visible := map[string]bool{}
	for _, c := range rec.Commands() {
		visible[c.ID] = *c.Visible
	}
	want := map[string]bool{"A": false, "B": false, "C": true}
	if !reflect.DeepEqual(visible, want) {
		t.Errorf("Expected visibility %v, got %v", want, visible)
	}
}

// TestToggleUnknownIgnored tests clicks on ids without a track.
func TestToggleUnknownIgnored(t *testing.T) {
	rec := render.NewRecorder()
	l := newTestLoop(&fakeSource{}, rec)
	l.Apply(context.Background(), []adsb.Observation{obs("A", "", 1, 1)})
	rec.Reset()

	l.toggle("ZZZ")

	if _, ok := l.Selection(); ok {
		t.Error("Expected no selection")
	}
	if len(rec.Commands()) != 0 {
		t.Errorf("Expected no commands, got %v", rec.Commands())
	}
}

// TestNewTrackHiddenWhileOtherSelected tests that creation never shows a trail.
func TestNewTrackHiddenWhileOtherSelected(t *testing.T) {
	rec := render.NewRecorder()
	l := newTestLoop(&fakeSource{}, rec)
	l.Apply(context.Background(), []adsb.Observation{obs("A", "", 1, 1)})
	l.toggle("A")
	rec.Reset()

	l.Apply(context.Background(), []adsb.Observation{obs("A", "", 1.1, 1.1), obs("B", "", 2, 2)})

	for _, c := range rec.Commands() {
		if c.Op == render.OpVisibility && c.ID == "B" && *c.Visible {
			t.Error("New track trail shown")
		}
	}
	if sel, _ := l.Selection(); sel != "A" {
		t.Errorf("Expected selection to stay on A, got %q", sel)
	}
}

// TestNeverPrunedByDefault tests that absent tracks survive.
func TestNeverPrunedByDefault(t *testing.T) {
	rec := render.NewRecorder()
	l := newTestLoop(&fakeSource{}, rec)
	l.Apply(context.Background(), []adsb.Observation{obs("A", "", 1, 1)})

	for i := 0; i < 50; i++ {
		l.Apply(context.Background(), nil)
	}

	if _, ok := l.Track("A"); !ok {
		t.Error("Expected A to survive")
	}
	for _, c := range rec.Commands() {
		if c.Op == render.OpRemove {
			t.Errorf("Unexpected remove command %v", c)
		}
	}
}

// TestPruneStaleTracks tests the staleness policy and selection cleanup.
func TestPruneStaleTracks(t *testing.T) {
	rec := render.NewRecorder()
	l := newTestLoop(&fakeSource{}, rec, WithStaleAfter(2))
	ctx := context.Background()

	l.Apply(ctx, []adsb.Observation{obs("A", "", 1, 1), obs("B", "", 2, 2)})
	l.toggle("B")

	l.Apply(ctx, []adsb.Observation{obs("A", "", 1.1, 1.1)})
	l.Apply(ctx, []adsb.Observation{obs("A", "", 1.2, 1.2)})
	if _, ok := l.Track("B"); !ok {
		t.Fatal("B pruned too early")
	}

	rec.Reset()
	l.Apply(ctx, []adsb.Observation{obs("A", "", 1.3, 1.3)})

	if _, ok := l.Track("B"); ok {
		t.Error("Expected B pruned")
	}
	if _, ok := l.Selection(); ok {
		t.Error("Expected selection cleared with pruned track")
	}

	found := false
	for _, c := range rec.Commands() {
		if c.Op == render.OpRemove && c.ID == "B" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected remove command for B, got %v", rec.Commands())
	}
	if got := l.Stats().Pruned; got != 1 {
		t.Errorf("Expected 1 pruned, got %d", got)
	}
}

// TestRejectedRecordKeepsTrackAlive tests that an aircraft still in the
// batch without a position is not counted as missing.
func TestRejectedRecordKeepsTrackAlive(t *testing.T) {
	l := newTestLoop(&fakeSource{}, render.Discard, WithStaleAfter(1))
	ctx := context.Background()

	l.Apply(ctx, []adsb.Observation{obs("A", "", 1, 1)})
	for i := 0; i < 5; i++ {
		l.Apply(ctx, []adsb.Observation{{Hex: "A"}})
	}

	if _, ok := l.Track("A"); !ok {
		t.Error("Expected A to survive while still reported")
	}
}

// TestReplay tests that a new viewer receives the full state.
func TestReplay(t *testing.T) {
	live := render.NewRecorder()
	l := newTestLoop(&fakeSource{}, live)
	ctx := context.Background()

	l.Apply(ctx, []adsb.Observation{obs("A", "X1", 1, 1), obs("B", "X2", 5, 5)})
	l.Apply(ctx, []adsb.Observation{obs("A", "X1", 1.5, 1.5)})
	l.toggle("A")

	viewer := render.NewRecorder()
	l.replay(viewer)

	heading := coordinates.Bearing(geo(1, 1), geo(1.5, 1.5))
	want := []render.Command{
		render.Place("A", geo(1.5, 1.5), heading, "X1"),
		render.Trail("A", geo(1, 1)),
		render.Append("A", geo(1.5, 1.5)),
		render.Place("B", geo(5, 5), 0, "X2"),
		render.Trail("B", geo(5, 5)),
		render.Visibility("A", true),
		render.Visibility("B", false),
	}
	if got := viewer.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("Replay:\n got %v\nwant %v", got, want)
	}
}

// TestArchive tests that accepted observations reach the archive.
func TestArchive(t *testing.T) {
	arch := &fakeArchive{}
	l := newTestLoop(&fakeSource{}, render.Discard, WithArchive(arch))
	ctx := context.Background()

	seen := 2.0
	o := obs("A", "THY1", 1, 1)
	o.Seen = &seen
	l.Apply(ctx, []adsb.Observation{o, {Hex: "B"}})
	l.Apply(ctx, []adsb.Observation{obs("A", "THY1", 2, 2)})

	if len(arch.fixes) != 2 {
		t.Fatalf("Expected 2 fixes, got %d", len(arch.fixes))
	}
	if !arch.fixes[0].ObservedAt.Equal(fixedNow.Add(-2 * time.Second)) {
		t.Errorf("Unexpected observed_at %v", arch.fixes[0].ObservedAt)
	}
	if arch.fixes[1].Heading != coordinates.Bearing(geo(1, 1), geo(2, 2)) {
		t.Errorf("Unexpected heading %f", arch.fixes[1].Heading)
	}

	t.Run("Failures are not fatal", func(t *testing.T) {
		failing := &fakeArchive{err: errors.New("connection refused")}
		l := newTestLoop(&fakeSource{}, render.Discard, WithArchive(failing))
		l.Apply(ctx, []adsb.Observation{obs("A", "", 1, 1)})

		stats := l.Stats()
		if stats.Tracks != 1 || stats.ArchiveFails != 1 {
			t.Errorf("Unexpected stats %+v", stats)
		}
	})
}

// TestArchiveWriteTimeout tests that an inline write gives up after the
// configured timeout.
func TestArchiveWriteTimeout(t *testing.T) {
	arch := &hangingArchive{}
	l := newTestLoop(&fakeSource{}, render.Discard, WithArchive(arch), WithArchiveTimeout(10*time.Millisecond))

	l.Apply(context.Background(), []adsb.Observation{obs("A", "", 1, 1)})

	stats := l.Stats()
	if stats.Tracks != 1 || stats.ArchiveFails != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

// TestRunWithHangingArchive tests that a stuck archive never holds up
// polling or clicks, and that fixes beyond the queue are counted as lost.
func TestRunWithHangingArchive(t *testing.T) {
	src := &fakeSource{batches: [][]adsb.Observation{
		{obs("A", "", 1, 1), obs("B", "", 2, 2), obs("C", "", 3, 3)},
	}}
	arch := &hangingArchive{}
	l := newTestLoop(src, render.Discard,
		WithInterval(10*time.Millisecond),
		WithArchive(arch),
		WithArchiveTimeout(time.Hour),
		WithArchiveBuffer(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, "first batch", func() bool { return l.Stats().Tracks == 3 })
	waitFor(t, "writer blocked", func() bool { return arch.Calls() == 1 })

	l.Select("A")
	waitFor(t, "selection while archive hangs", func() bool {
		sel, ok := l.Selection()
		return ok && sel == "A"
	})
	waitFor(t, "further polls", func() bool { return l.Stats().Cycles >= 3 })

	if fails := l.Stats().ArchiveFails; fails == 0 {
		t.Error("Expected dropped fixes to be counted")
	}
	if calls := arch.Calls(); calls != 1 {
		t.Errorf("Expected a single blocked write, got %d", calls)
	}
}

// TestSelectBeforeRun tests that clicks before Run never block.
func TestSelectBeforeRun(t *testing.T) {
	l := newTestLoop(&fakeSource{}, render.Discard)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			l.Select("A")
		}
		l.Resync(render.Discard)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Select blocked without a running loop")
	}
}

// TestRun tests polling, clicks and shutdown through the loop goroutine.
func TestRun(t *testing.T) {
	src := &fakeSource{batches: [][]adsb.Observation{
		{obs("A", "", 1, 1), obs("B", "", 2, 2)},
		{obs("A", "", 1.1, 1.1), obs("B", "", 2.1, 2.1)},
	}}
	rec := render.NewRecorder()
	l := newTestLoop(src, rec, WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	waitFor(t, "first batch", func() bool { return l.Stats().Tracks == 2 })
	waitFor(t, "second batch", func() bool {
		tr, _ := l.Track("A")
		return tr.HasHeading()
	})

	l.Select("B")
	waitFor(t, "selection", func() bool {
		sel, ok := l.Selection()
		return ok && sel == "B"
	})

	viewer := render.NewRecorder()
	l.Resync(viewer)
	if len(viewer.Commands()) == 0 {
		t.Error("Expected resync to replay state")
	}

	if err := l.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	// After stop, Select and Resync return instead of blocking
	l.Select("A")
	l.Resync(render.Discard)
}

// TestRunPollFailure tests that failed polls are counted and never fatal.
func TestRunPollFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("connection reset")}
	l := newTestLoop(src, render.Discard, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, "failed polls", func() bool { return l.Stats().PollsFailed >= 3 })

	stats := l.Stats()
	if stats.Tracks != 0 || stats.Cycles != 0 {
		t.Errorf("Expected no mutation, got %+v", stats)
	}
	if stats.LastError != "connection reset" {
		t.Errorf("Expected last error recorded, got %q", stats.LastError)
	}
}

// TestRunDropsOverlappingTicks tests the single in-flight fetch.
func TestRunDropsOverlappingTicks(t *testing.T) {
	src := &fakeSource{
		batches: [][]adsb.Observation{{obs("A", "", 1, 1)}},
		block:   make(chan struct{}),
	}
	l := newTestLoop(src, render.Discard, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, "dropped ticks", func() bool { return l.Stats().TicksDropped >= 3 })
	if calls := src.Calls(); calls != 0 {
		t.Errorf("Expected blocked fetch to be the only one, got %d completed", calls)
	}

	close(src.block)
	waitFor(t, "batch after release", func() bool { return l.Stats().Tracks == 1 })
}
