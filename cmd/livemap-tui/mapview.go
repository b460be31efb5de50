package main

import (
	"fmt"
	"image"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/unklstewy/ads-livemap/internal/scene"
)

// clickRadius is how far from a marker, in cells, a click still hits it.
const clickRadius = 3

// MapView is a custom tview primitive that draws the scene around the
// viewport center: range rings, the visible trail and one heading arrow
// per aircraft.
type MapView struct {
	*tview.Box
	app *App
}

// NewMapView creates a new map view
func NewMapView(app *App) *MapView {
	mv := &MapView{
		Box: tview.NewBox(),
		app: app,
	}
	mv.SetBorder(true).SetTitle(" Live Map ")
	return mv
}

// Draw renders the map using tcell
func (mv *MapView) Draw(screen tcell.Screen) {
	mv.Box.DrawForSubclass(screen, mv)

	x, y, width, height := mv.GetInnerRect()
	if width <= 2 || height <= 2 {
		return
	}
	bounds := image.Rect(x, y, x+width, y+height)
	centerX := x + width/2
	centerY := y + height/2

	mv.app.mu.RLock()
	vp := mv.app.viewport
	cursor := mv.app.cursor
	mv.app.mu.RUnlock()

	gridStyle := tcell.StyleDefault.Foreground(tcell.ColorGray)
	labelStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite)
	trailStyle := tcell.StyleDefault.Foreground(tcell.ColorBlue)

	// Range rings at thirds of the radius
	for i := 1; i <= 3; i++ {
		nm := vp.RadiusNM * float64(i) / 3
		rx, ry := vp.RingRadius(nm, width, height)
		plot(screen, bounds, ellipsePoints(centerX, centerY, rx, ry), '·', gridStyle)
		drawText(screen, bounds, centerX+1, centerY-int(ry), fmt.Sprintf("%.0fnm", nm), gridStyle)
	}
	screen.SetContent(centerX, centerY, '+', nil, labelStyle)

	rx, ry := vp.RingRadius(vp.RadiusNM, width, height)
	drawText(screen, bounds, centerX, centerY-int(ry)-1, "N", labelStyle)
	drawText(screen, bounds, centerX, centerY+int(ry)+1, "S", labelStyle)
	drawText(screen, bounds, centerX+int(rx)+1, centerY, "E", labelStyle)
	drawText(screen, bounds, centerX-int(rx)-1, centerY, "W", labelStyle)

	// Visible trail underneath the markers
	if trail, ok := mv.app.scene.VisibleTrail(); ok {
		var prev image.Point
		havePrev := false
		for _, p := range trail.Points {
			px, py, ok := vp.Project(p, width, height)
			if !ok {
				havePrev = false
				continue
			}
			cur := image.Pt(x+px, y+py)
			if havePrev {
				plot(screen, bounds, linePoints(prev.X, prev.Y, cur.X, cur.Y), '•', trailStyle)
			} else {
				plot(screen, bounds, []image.Point{cur}, '•', trailStyle)
			}
			prev, havePrev = cur, true
		}
	}

	selected, _ := mv.app.loop.Selection()
	for _, m := range mv.app.scene.Markers() {
		px, py, ok := vp.Project(m.Position, width, height)
		if !ok {
			continue
		}

		style := tcell.StyleDefault.Foreground(tcell.ColorLightBlue)
		showLabel := false
		switch {
		case m.ID == cursor:
			style = tcell.StyleDefault.Foreground(tcell.ColorYellow)
			showLabel = true
		case m.ID == selected:
			style = tcell.StyleDefault.Foreground(tcell.ColorGreen)
			showLabel = true
		}

		drawText(screen, bounds, x+px, y+py, scene.HeadingGlyph(m.Heading), style)
		if showLabel {
			drawText(screen, bounds, x+px+2, y+py, m.DisplayName(), style)
		}
	}
}

// MouseHandler selects the aircraft nearest to a left click.
func (mv *MapView) MouseHandler() func(action tview.MouseAction, event *tcell.EventMouse, setFocus func(p tview.Primitive)) (consumed bool, capture tview.Primitive) {
	return mv.WrapMouseHandler(func(action tview.MouseAction, event *tcell.EventMouse, setFocus func(p tview.Primitive)) (consumed bool, capture tview.Primitive) {
		if action != tview.MouseLeftClick {
			return false, nil
		}
		mx, my := event.Position()
		if !mv.InRect(mx, my) {
			return false, nil
		}
		setFocus(mv)

		x, y, width, height := mv.GetInnerRect()
		mv.app.mu.RLock()
		vp := mv.app.viewport
		mv.app.mu.RUnlock()

		id, ok := scene.Nearest(mx-x, my-y, mv.app.scene.Markers(), vp, width, height, clickRadius)
		if !ok {
			return true, nil
		}
		mv.app.selectTrack(id)
		return true, nil
	})
}
