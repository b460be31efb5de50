package scene

import (
	"math"

	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

// AspectRatio corrects for terminal cells being about twice as tall as
// they are wide; X distances are divided by it so rings look round.
const AspectRatio = 0.5

// Viewport maps geographic positions onto a grid of terminal cells
// centered on Center and reaching RadiusNM to the nearest edge.
type Viewport struct {
	Center   coordinates.Geographic
	RadiusNM float64
}

// scale returns cells per nautical mile for a w x h grid.
func (v Viewport) scale(w, h int) float64 {
	maxY := float64(h/2 - 1)
	maxX := float64(w/2-1) * AspectRatio
	r := math.Min(maxX, maxY)
	if r <= 0 || v.RadiusNM <= 0 {
		return 0
	}
	return r / v.RadiusNM
}

// Project returns the cell for pos on a w x h grid. ok is false when the
// position falls outside the radius or the grid.
func (v Viewport) Project(pos coordinates.Geographic, w, h int) (x, y int, ok bool) {
	if !pos.Finite() {
		return 0, 0, false
	}
	scale := v.scale(w, h)
	if scale == 0 {
		return 0, 0, false
	}

	distanceNM := coordinates.DistanceNauticalMiles(v.Center, pos)
	if distanceNM > v.RadiusNM {
		return 0, 0, false
	}

	// Bearing 0 = North = up, Y grows downward
	bearingRad := coordinates.Bearing(v.Center, pos) * coordinates.DegreesToRadians
	screenDist := distanceNM * scale

	x = w/2 + int(math.Round(screenDist*math.Sin(bearingRad)/AspectRatio))
	y = h/2 - int(math.Round(screenDist*math.Cos(bearingRad)))

	if x < 0 || x >= w || y < 0 || y >= h {
		return 0, 0, false
	}
	return x, y, true
}

// RingRadius returns the horizontal and vertical cell radius of a range
// ring at nm nautical miles.
func (v Viewport) RingRadius(nm float64, w, h int) (rx, ry float64) {
	s := v.scale(w, h)
	return nm * s / AspectRatio, nm * s
}

// Zoom returns the viewport with its radius multiplied by factor,
// clamped to [5, 2000] nautical miles.
func (v Viewport) Zoom(factor float64) Viewport {
	v.RadiusNM = math.Max(5, math.Min(2000, v.RadiusNM*factor))
	return v
}

// Nearest returns the marker whose cell is closest to (x, y) on a w x h
// grid, within maxCells. Horizontal cell distance is weighted by the
// aspect ratio so the hit area is round on screen.
func Nearest(x, y int, markers []Marker, v Viewport, w, h int, maxCells float64) (string, bool) {
	best, bestDist := "", math.Inf(1)
	for _, m := range markers {
		mx, my, ok := v.Project(m.Position, w, h)
		if !ok {
			continue
		}
		dx := float64(mx-x) * AspectRatio
		dy := float64(my - y)
		if d := math.Hypot(dx, dy); d < bestDist {
			best, bestDist = m.ID, d
		}
	}
	if bestDist > maxCells {
		return "", false
	}
	return best, true
}

var headingGlyphs = [8]string{"↑", "↗", "→", "↘", "↓", "↙", "←", "↖"}

// HeadingGlyph maps a heading in degrees to one of eight arrows.
func HeadingGlyph(deg float64) string {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return headingGlyphs[0]
	}
	idx := int(math.Floor(coordinates.NormalizeAzimuth(deg+22.5)/45)) % 8
	return headingGlyphs[idx]
}
