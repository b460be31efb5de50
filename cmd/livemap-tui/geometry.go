package main

import (
	"image"
	"math"

	"github.com/gdamore/tcell/v2"
)

// linePoints returns the cells of a line using Bresenham's line algorithm.
func linePoints(x0, y0, x1, y1 int) []image.Point {
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

	pts := make([]image.Point, 0, max(dx, dy)+1)
	for {
		pts = append(pts, image.Pt(x0, y0))
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
	return pts
}

// ellipsePoints samples the outline of an axis-aligned ellipse.
// Range rings are ellipses because terminal cells are not square.
func ellipsePoints(cx, cy int, rx, ry float64) []image.Point {
	if rx < 1 || ry < 1 {
		return nil
	}
	// One sample per cell of circumference is enough
	steps := int(2*math.Pi*math.Max(rx, ry)) + 8

	seen := make(map[image.Point]bool, steps)
	pts := make([]image.Point, 0, steps)
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		p := image.Pt(cx+int(math.Round(rx*math.Cos(a))), cy+int(math.Round(ry*math.Sin(a))))
		if !seen[p] {
			seen[p] = true
			pts = append(pts, p)
		}
	}
	return pts
}

// plot draws char at every point inside the rectangle.
func plot(screen tcell.Screen, bounds image.Rectangle, pts []image.Point, char rune, style tcell.Style) {
	for _, p := range pts {
		if p.In(bounds) {
			screen.SetContent(p.X, p.Y, char, nil, style)
		}
	}
}

// drawText writes text starting at (x, y), clipped to bounds.
func drawText(screen tcell.Screen, bounds image.Rectangle, x, y int, text string, style tcell.Style) {
	for _, ch := range text {
		if image.Pt(x, y).In(bounds) {
			screen.SetContent(x, y, ch, nil, style)
		}
		x++
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
