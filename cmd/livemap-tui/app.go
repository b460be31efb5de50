package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/unklstewy/ads-livemap/internal/livemap"
	"github.com/unklstewy/ads-livemap/internal/scene"
	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

// App represents the main application
type App struct {
	loop   *livemap.Loop
	scene  *scene.Scene
	logs   *LogManager
	logger *slog.Logger

	// UI components
	tviewApp   *tview.Application
	mapView    *MapView
	telemetry  *tview.TextView
	controls   *tview.TextView
	rootLayout *tview.Flex

	// View state, read by the map view while drawing
	mu       sync.RWMutex
	viewport scene.Viewport
	home     scene.Viewport
	cursor   string

	// dirty coalesces scene changes into one redraw
	dirty chan struct{}
}

// NewApp creates a new application instance. sc must be the sink loop
// draws into.
func NewApp(loop *livemap.Loop, sc *scene.Scene, vp scene.Viewport, logs *LogManager, logger *slog.Logger) *App {
	app := &App{
		loop:     loop,
		scene:    sc,
		logs:     logs,
		logger:   logger,
		viewport: vp,
		home:     vp,
		dirty:    make(chan struct{}, 1),
	}

	sc.OnChange(app.markDirty)
	app.setupUI()
	return app
}

// setupUI initializes the user interface
func (a *App) setupUI() {
	a.tviewApp = tview.NewApplication().EnableMouse(true)

	a.mapView = NewMapView(a)

	a.telemetry = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.telemetry.SetBorder(true).SetTitle(" Telemetry ")

	a.controls = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.controls.SetBorder(true).SetTitle(" Controls ")
	a.controls.SetText(`[yellow]NAVIGATION[-]
  [white]↑/↓, j/k[-]  Cursor
  [white]click[-]     Toggle trail

[yellow]ACTIONS[-]
  [white]ENTER[-]     Toggle trail
  [white]c[-]         Center on cursor

[yellow]ZOOM[-]
  [white]+/-[-]       Zoom
  [white]0[-]         Reset

[yellow]CONTROL[-]
  [white]q[-]         Quit`)

	// Right sidebar with 3 panels
	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.telemetry, 0, 4, false).
		AddItem(a.controls, 0, 3, false).
		AddItem(a.logs.GetView(), 0, 3, false)

	a.rootLayout = tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.mapView, 0, 7, true).
		AddItem(sidebar, 0, 3, false)

	a.tviewApp.SetRoot(a.rootLayout, true)
	a.tviewApp.SetInputCapture(a.handleKeyboard)
}

// markDirty requests a redraw. It runs on the loop goroutine and must
// never block it.
func (a *App) markDirty() {
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

// handleKeyboard handles keyboard input
func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	key := event.Key()
	r := event.Rune()

	switch {
	case key == tcell.KeyEscape || r == 'q':
		a.tviewApp.Stop()
		return nil

	case key == tcell.KeyUp || r == 'k':
		a.moveCursor(-1)
		return nil
	case key == tcell.KeyDown || r == 'j':
		a.moveCursor(1)
		return nil

	case key == tcell.KeyEnter || r == ' ':
		a.mu.RLock()
		id := a.cursor
		a.mu.RUnlock()
		if id != "" {
			a.selectTrack(id)
		}
		return nil
	case r == 'c':
		a.centerOnCursor()
		return nil

	case r == '+' || r == '=':
		a.zoom(1 / 1.25)
		return nil
	case r == '-':
		a.zoom(1.25)
		return nil
	case r == '0':
		a.mu.Lock()
		a.viewport = a.home
		a.mu.Unlock()
		a.refresh()
		return nil
	}

	return event
}

// moveCursor steps the keyboard cursor through the aircraft sorted by id.
func (a *App) moveCursor(step int) {
	markers := a.scene.Markers()
	if len(markers) == 0 {
		return
	}

	a.mu.Lock()
	idx := slices.IndexFunc(markers, func(m scene.Marker) bool { return m.ID == a.cursor })
	switch {
	case idx < 0 && step > 0:
		idx = 0
	case idx < 0:
		idx = len(markers) - 1
	default:
		idx = (idx + step + len(markers)) % len(markers)
	}
	a.cursor = markers[idx].ID
	a.mu.Unlock()

	a.refresh()
}

// selectTrack moves the cursor to id and reports the click to the loop.
func (a *App) selectTrack(id string) {
	a.mu.Lock()
	a.cursor = id
	a.mu.Unlock()

	a.loop.Select(id)
	a.refresh()
}

func (a *App) centerOnCursor() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if m, ok := a.scene.Marker(a.cursor); ok {
		a.viewport.Center = m.Position
		a.logger.Debug("map centered", slog.String("id", m.ID), slog.String("center", m.Position.String()))
	}
}

func (a *App) zoom(factor float64) {
	a.mu.Lock()
	a.viewport = a.viewport.Zoom(factor)
	radius := a.viewport.RadiusNM
	a.mu.Unlock()

	a.logger.Debug("zoom", slog.Float64("radius_nm", radius))
	a.refresh()
}

// refresh updates the side panels. It runs on the UI goroutine.
func (a *App) refresh() {
	a.logs.Flush()
	a.updateTelemetry()

	a.mu.RLock()
	vp := a.viewport
	a.mu.RUnlock()
	a.mapView.SetTitle(fmt.Sprintf(" Live Map %s r=%.0fnm ", vp.Center, vp.RadiusNM))
}

// updateTelemetry updates the telemetry panel content
func (a *App) updateTelemetry() {
	a.mu.RLock()
	cursor := a.cursor
	a.mu.RUnlock()

	var b strings.Builder
	selected, _ := a.loop.Selection()

	if t, ok := a.loop.Track(cursor); ok {
		label := t.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(&b, "[yellow]AIRCRAFT:[-] [white]%s[-] [gray](%s)[-]\n", label, t.ID)
		fmt.Fprintf(&b, "[gray]Pos:[-]  [white]%.4f°, %.4f°[-]\n", t.Position.Latitude, t.Position.Longitude)
		if t.HasHeading() {
			fmt.Fprintf(&b, "[gray]Hdg:[-]  [white]%.0f° %s[-]\n", t.Heading, scene.HeadingGlyph(t.Heading))
		} else {
			b.WriteString("[gray]Hdg:[-]  [white]---[-]\n")
		}
		fmt.Fprintf(&b, "[gray]Trail:[-] [white]%d pts[-]  [gray]Updates:[-] [white]%d[-]\n", len(t.Trail), t.Updates)
		fmt.Fprintf(&b, "[gray]Seen:[-] [white]%s[-]  [gray]Missed:[-] [white]%d[-]\n", t.LastSeen.Format("15:04:05"), t.MissedCycles)
		if t.ID == selected {
			b.WriteString("[green]Trail shown[-]\n")
		}
	} else {
		b.WriteString("[gray]No aircraft under cursor[-]\n")
	}

	b.WriteString("\n")

	s := a.loop.Stats()
	fmt.Fprintf(&b, "[yellow]FEED:[-] [white]%d tracks[-]\n", s.Tracks)
	fmt.Fprintf(&b, "[gray]Cycles:[-] [white]%d[-] [gray]Failed:[-] [white]%d[-] [gray]Dropped:[-] [white]%d[-]\n",
		s.Cycles, s.PollsFailed, s.TicksDropped)
	if !s.LastPoll.IsZero() {
		fmt.Fprintf(&b, "[gray]Last poll:[-] [white]%s[-]\n", s.LastPoll.Format("15:04:05"))
	}
	if s.LastError != "" {
		fmt.Fprintf(&b, "[red]%s[-]\n", tview.Escape(s.LastError))
	}
	if s.Selected != "" {
		fmt.Fprintf(&b, "[gray]Selected:[-] [green]%s[-]\n", s.Selected)
	}
	fmt.Fprintf(&b, "[gray]Time:[-] [white]%s[-]\n", time.Now().Format("15:04:05"))

	a.telemetry.SetText(b.String())
}

// Run starts the loop and the UI and blocks until either stops.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- a.loop.Run(ctx)
	}()
	go a.redrawLoop(ctx)
	go func() {
		<-ctx.Done()
		a.tviewApp.Stop()
	}()

	err := a.tviewApp.Run()
	cancel()

	if lerr := <-loopErr; err == nil && lerr != nil && !errors.Is(lerr, context.Canceled) {
		err = lerr
	}
	return err
}

// redrawLoop redraws on scene changes and once a second for the clock
// and the log panel.
func (a *App) redrawLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.dirty:
		case <-ticker.C:
		}
		a.tviewApp.QueueUpdateDraw(a.refresh)
	}
}

// viewportFor builds the initial viewport from the map settings.
func viewportFor(lat, lon, radiusNM float64) scene.Viewport {
	return scene.Viewport{
		Center:   coordinates.Geographic{Latitude: lat, Longitude: lon},
		RadiusNM: radiusNM,
	}
}
