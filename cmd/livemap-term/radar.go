package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/ads-livemap/internal/scene"
)

type cellKind int

const (
	cellEmpty cellKind = iota
	cellRing
	cellRingLabel
	cellCardinal
	cellCenter
	cellTrail
	cellAircraft
	cellSelected
	cellCursor
)

var cellStyles = map[cellKind]lipgloss.Style{
	cellRing:      lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	cellRingLabel: lipgloss.NewStyle().Foreground(lipgloss.Color("248")),
	cellCardinal:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Bold(true),
	cellCenter:    lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
	cellTrail:     lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
	cellAircraft:  lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
	cellSelected:  lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
	cellCursor:    lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
}

type cell struct {
	ch   rune
	kind cellKind
}

// grid is the radar canvas. Later layers overwrite earlier ones only
// where they rank higher, so aircraft always sit on top of rings.
type grid [][]cell

func newGrid(w, h int) grid {
	g := make(grid, h)
	for y := range g {
		g[y] = make([]cell, w)
		for x := range g[y] {
			g[y][x] = cell{ch: ' '}
		}
	}
	return g
}

// set writes a cell if it is in bounds and not covered by a higher kind.
func (g grid) set(x, y int, ch rune, kind cellKind) {
	if y < 0 || y >= len(g) || x < 0 || x >= len(g[y]) {
		return
	}
	if g[y][x].kind > kind {
		return
	}
	g[y][x] = cell{ch: ch, kind: kind}
}

func (g grid) text(x, y int, s string, kind cellKind) {
	for _, ch := range s {
		g.set(x, y, ch, kind)
		x++
	}
}

// ellipse samples an axis-aligned ellipse outline.
func (g grid) ellipse(cx, cy int, rx, ry float64, ch rune, kind cellKind) {
	if rx < 1 || ry < 1 {
		return
	}
	steps := int(2*math.Pi*math.Max(rx, ry)) + 8
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		g.set(cx+int(math.Round(rx*math.Cos(a))), cy+int(math.Round(ry*math.Sin(a))), ch, kind)
	}
}

// line draws a line using Bresenham's line algorithm.
func (g grid) line(x0, y0, x1, y1 int, ch rune, kind cellKind) {
	dx := abs(x1 - x0)
	dy := abs(y1 - y0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy

	for {
		g.set(x0, y0, ch, kind)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// renderRadar draws the scene: range rings, the visible trail and one
// heading arrow per aircraft.
func (m model) renderRadar() string {
	w, h := m.radarSize()
	innerW := w - 2
	g := m.drawGrid(innerW, h)

	var radar strings.Builder
	borderStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	radar.WriteString(borderStyle.Render("┌" + strings.Repeat("─", innerW) + "┐"))
	radar.WriteString("\n")

	for _, row := range g {
		radar.WriteString(borderStyle.Render("│"))
		for _, c := range row {
			if style, ok := cellStyles[c.kind]; ok {
				radar.WriteString(style.Render(string(c.ch)))
			} else {
				radar.WriteRune(c.ch)
			}
		}
		radar.WriteString(borderStyle.Render("│"))
		radar.WriteString("\n")
	}

	radar.WriteString(borderStyle.Render("└" + strings.Repeat("─", innerW) + "┘"))
	return radar.String()
}

// drawGrid builds the uncolored canvas for a w x h interior.
func (m model) drawGrid(w, h int) grid {
	g := newGrid(w, h)
	vp := m.viewport
	centerX, centerY := w/2, h/2

	for i := 1; i <= 3; i++ {
		nm := vp.RadiusNM * float64(i) / 3
		rx, ry := vp.RingRadius(nm, w, h)
		g.ellipse(centerX, centerY, rx, ry, '·', cellRing)
		g.text(centerX+1, centerY-int(ry), fmt.Sprintf("%.0f", nm), cellRingLabel)
	}

	rx, ry := vp.RingRadius(vp.RadiusNM, w, h)
	g.set(centerX, centerY-int(ry), 'N', cellCardinal)
	g.set(centerX, centerY+int(ry), 'S', cellCardinal)
	g.set(centerX+int(rx), centerY, 'E', cellCardinal)
	g.set(centerX-int(rx), centerY, 'W', cellCardinal)
	g.set(centerX, centerY, '+', cellCenter)

	if trail, ok := m.scene.VisibleTrail(); ok {
		px, py, have := 0, 0, false
		for _, p := range trail.Points {
			x, y, ok := vp.Project(p, w, h)
			if !ok {
				have = false
				continue
			}
			if have {
				g.line(px, py, x, y, '•', cellTrail)
			} else {
				g.set(x, y, '•', cellTrail)
			}
			px, py, have = x, y, true
		}
	}

	selected, _ := m.engine.Selection()
	for _, mk := range m.markers {
		x, y, ok := vp.Project(mk.Position, w, h)
		if !ok {
			continue
		}
		kind := cellAircraft
		switch mk.ID {
		case m.cursor:
			kind = cellCursor
		case selected:
			kind = cellSelected
		}
		g.text(x, y, scene.HeadingGlyph(mk.Heading), kind)
		if kind != cellAircraft {
			g.text(x+2, y, mk.DisplayName(), kind)
		}
	}
	return g
}

// String returns the grid as plain text, one line per row.
func (g grid) String() string {
	var b strings.Builder
	for _, row := range g {
		for _, c := range row {
			b.WriteRune(c.ch)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
