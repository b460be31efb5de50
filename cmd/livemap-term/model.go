package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/ads-livemap/internal/livemap"
	"github.com/unklstewy/ads-livemap/internal/scene"
	"github.com/unklstewy/ads-livemap/internal/track"
)

// Default terminal size until the first WindowSizeMsg
const (
	defaultWidth  = 100
	defaultHeight = 40
)

// radarTop is the screen row of the first radar grid row: title, blank
// line, top border.
const radarTop = 3

// engine is the part of the reconciliation loop the viewer talks to.
type engine interface {
	Select(id string)
	Selection() (string, bool)
	Track(id string) (track.Track, bool)
	Stats() livemap.Stats
}

type model struct {
	engine   engine
	scene    *scene.Scene
	viewport scene.Viewport
	home     scene.Viewport

	// cursor is the id highlighted in the aircraft list
	cursor  string
	markers []scene.Marker

	width  int
	height int
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func newModel(e engine, sc *scene.Scene, vp scene.Viewport) model {
	return model{
		engine:   e,
		scene:    sc,
		viewport: vp,
		home:     vp,
		width:    defaultWidth,
		height:   defaultHeight,
	}
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			m.moveCursor(-1)
		case "down", "j":
			m.moveCursor(1)
		case "enter", " ":
			if m.cursor != "" {
				m.engine.Select(m.cursor)
			}
		case "c":
			if mk, ok := m.scene.Marker(m.cursor); ok {
				m.viewport.Center = mk.Position
			}
		case "+", "=":
			m.viewport = m.viewport.Zoom(1 / 1.5)
		case "-", "_":
			m.viewport = m.viewport.Zoom(1.5)
		case "0":
			m.viewport = m.home
		}

	case tea.MouseMsg:
		if msg.Action != tea.MouseActionPress || msg.Button != tea.MouseButtonLeft {
			return m, nil
		}
		w, h := m.radarSize()
		id, ok := scene.Nearest(msg.X-1, msg.Y-radarTop, m.markers, m.viewport, w-2, h, 3)
		if ok {
			m.cursor = id
			m.engine.Select(id)
		}

	case tickMsg:
		m.markers = m.scene.Markers()
		if m.cursor != "" && !slices.ContainsFunc(m.markers, func(mk scene.Marker) bool { return mk.ID == m.cursor }) {
			m.cursor = ""
		}
		return m, tick()
	}

	return m, nil
}

// moveCursor steps through the aircraft list, wrapping at both ends.
func (m *model) moveCursor(step int) {
	if len(m.markers) == 0 {
		return
	}
	idx := slices.IndexFunc(m.markers, func(mk scene.Marker) bool { return mk.ID == m.cursor })
	switch {
	case idx < 0 && step > 0:
		idx = 0
	case idx < 0:
		idx = len(m.markers) - 1
	default:
		idx = (idx + step + len(m.markers)) % len(m.markers)
	}
	m.cursor = m.markers[idx].ID
}

// radarSize returns the radar box size including its border.
func (m model) radarSize() (w, h int) {
	w = m.width - 42 // Reserve space for info panel
	if w < 40 {
		w = 40
	}
	h = m.height - 12 // Reserve space for header and aircraft list
	if h < 15 {
		h = 15
	}
	return w, h
}

func (m model) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	s.WriteString(titleStyle.Render("ADS-B LIVE MAP"))
	s.WriteString("\n\n")

	radar := m.renderRadar()
	info := m.renderInfo()
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, radar, "  ", info))
	s.WriteString("\n")

	s.WriteString(m.renderAircraftList())
	s.WriteString("\n")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	s.WriteString(helpStyle.Render("↑/↓: Cursor  ENTER/click: Trail  C: Center  +/-: Zoom  0: Reset  Q: Quit"))
	s.WriteString("\n")

	return s.String()
}

func (m model) renderAircraftList() string {
	var list strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	list.WriteString(headerStyle.Render("Aircraft:"))
	list.WriteString(fmt.Sprintf(" (%d)", len(m.markers)))
	list.WriteString("\n")

	if len(m.markers) == 0 {
		list.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("  Waiting for the first batch..."))
		return list.String()
	}

	// Show up to 5 aircraft around the cursor
	cur := slices.IndexFunc(m.markers, func(mk scene.Marker) bool { return mk.ID == m.cursor })
	start := 0
	if cur > 2 && len(m.markers) > 5 {
		start = cur - 2
	}
	end := min(start+5, len(m.markers))

	selected, _ := m.engine.Selection()
	for i := start; i < end; i++ {
		mk := m.markers[i]

		prefix := "  "
		if i == cur {
			prefix = "→ "
		}
		trailIndicator := ""
		if mk.ID == selected {
			trailIndicator = " [TRAIL]"
		}

		line := fmt.Sprintf("%s%-8s  %-6s  %8.4f° %9.4f°  %s %3.0f°%s",
			prefix,
			mk.Label,
			mk.ID,
			mk.Position.Latitude,
			mk.Position.Longitude,
			scene.HeadingGlyph(mk.Heading),
			mk.Heading,
			trailIndicator,
		)
		if i == cur {
			line = lipgloss.NewStyle().Background(lipgloss.Color("237")).Render(line)
		}
		list.WriteString(line)
		list.WriteString("\n")
	}

	return list.String()
}

// renderInfo renders the side panel.
func (m model) renderInfo() string {
	var info strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	info.WriteString(headerStyle.Render("VIEW"))
	info.WriteString("\n")
	info.WriteString(fmt.Sprintf("Center: %s\n", m.viewport.Center))
	info.WriteString(fmt.Sprintf("Radius: %.0f NM\n", m.viewport.RadiusNM))
	info.WriteString("\n")

	st := m.engine.Stats()
	info.WriteString(headerStyle.Render("FEED"))
	info.WriteString("\n")
	info.WriteString(fmt.Sprintf("Tracks: %d\n", st.Tracks))
	info.WriteString(fmt.Sprintf("Cycles: %d  Failed: %d\n", st.Cycles, st.PollsFailed))
	if !st.LastPoll.IsZero() {
		info.WriteString(fmt.Sprintf("Last poll: %s\n", st.LastPoll.Format("15:04:05")))
	}
	if st.LastError != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Width(38)
		info.WriteString(errStyle.Render(st.LastError))
		info.WriteString("\n")
	}
	info.WriteString("\n")

	if t, ok := m.engine.Track(m.cursor); ok {
		info.WriteString(headerStyle.Render("AIRCRAFT"))
		info.WriteString("\n")
		label := t.Label
		if label == "" {
			label = "--------"
		}
		info.WriteString(fmt.Sprintf("%s (%s)\n", label, t.ID))
		info.WriteString(fmt.Sprintf("Pos: %s\n", t.Position))
		if t.HasHeading() {
			info.WriteString(fmt.Sprintf("Hdg: %.0f°\n", t.Heading))
		} else {
			info.WriteString("Hdg: ---\n")
		}
		info.WriteString(fmt.Sprintf("Trail: %d pts\n", len(t.Trail)))
		info.WriteString(fmt.Sprintf("First: %s\n", t.FirstSeen.Format("15:04:05")))
		info.WriteString(fmt.Sprintf("Last:  %s\n", t.LastSeen.Format("15:04:05")))
	}

	return info.String()
}
