package geo

import (
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/samapviewer/tracker/internal/model/core"
)

// The world is a fixed square region rendered into a rectangular viewport.
// Projection normalizes world coordinates into [0,1]x[0,1], inverts the Y
// axis (world Y grows north, screen Y grows down) and letterboxes the
// square content box into the viewport. Pan/zoom is a separate affine
// Transform applied on top at render time, never part of the projection.

// Bounds is the world region covered by the map, a square by convention.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// DefaultBounds covers the standard [-3000,3000] world on both axes.
var DefaultBounds = Bounds{MinX: -3000, MaxX: 3000, MinY: -3000, MaxY: 3000}

// Viewport is the drawable area in screen units.
type Viewport struct {
	W, H float64
}

// Ready reports whether the viewport has been measured yet. Callers must
// render a neutral fallback until it is.
func (v Viewport) Ready() bool {
	return v.W > 0 && v.H > 0
}

// Padding is extra margin inside the content box, in screen units, for maps
// whose image does not cover the full square.
type Padding struct {
	Left, Top, Right, Bottom float64
}

// ScreenPos is a position in viewport pixel space.
type ScreenPos struct {
	X, Y float64
}

// Projector maps world positions into viewport positions.
type Projector struct {
	bounds Bounds
	pad    Padding
}

// NewProjector creates a projector over the given world bounds and edge
// padding.
func NewProjector(bounds Bounds, pad Padding) *Projector {
	return &Projector{bounds: bounds, pad: pad}
}

// ContentBox returns the top-left corner and size of the square content box
// letterboxed into the viewport: pad horizontally when the viewport is wider
// than tall, vertically otherwise. ok=false before the viewport is measured.
func (p *Projector) ContentBox(vp Viewport) (topLeft ScreenPos, w, h float64, ok bool) {
	if !vp.Ready() {
		return ScreenPos{}, 0, 0, false
	}
	if vp.W >= vp.H {
		// height-limited, horizontal letterbox
		h = vp.H
		w = vp.H
		topLeft = ScreenPos{X: (vp.W - w) / 2}
	} else {
		// width-limited, vertical letterbox
		w = vp.W
		h = vp.W
		topLeft = ScreenPos{Y: (vp.H - h) / 2}
	}
	return topLeft, w, h, true
}

// Project maps a world position into the viewport. ok=false when the
// viewport dimensions are not yet known; callers must not place markers
// from a zero result.
func (p *Projector) Project(world core.Position, vp Viewport) (ScreenPos, bool) {
	topLeft, w, h, ok := p.ContentBox(vp)
	if !ok {
		return ScreenPos{}, false
	}

	u := (world.X - p.bounds.MinX) / (p.bounds.MaxX - p.bounds.MinX)
	v := (world.Y - p.bounds.MinY) / (p.bounds.MaxY - p.bounds.MinY)

	// world Y grows north, screen Y grows down
	v = 1 - v

	usableW := w - p.pad.Left - p.pad.Right
	usableH := h - p.pad.Top - p.pad.Bottom

	return ScreenPos{
		X: topLeft.X + p.pad.Left + u*usableW,
		Y: topLeft.Y + p.pad.Top + v*usableH,
	}, true
}

// ClampToBounds pulls an out-of-range world position back inside the map
// region so markers never render far off-image.
func (p *Projector) ClampToBounds(world core.Position) core.Position {
	return core.Position{
		X: Clamp(world.X, p.bounds.MinX, p.bounds.MaxX),
		Y: Clamp(world.Y, p.bounds.MinY, p.bounds.MaxY),
	}
}

// Transform is the pan/zoom state applied on top of projected positions:
// translate by the pan offset, then scale about the viewport center.
type Transform struct {
	OffsetX float64
	OffsetY float64
	Scale   float64
}

// IdentityTransform is the neutral view: no pan, 1x zoom.
var IdentityTransform = Transform{Scale: 1}

// Apply maps a projected position through the view transform.
func (t Transform) Apply(pos ScreenPos, vp Viewport) ScreenPos {
	cx, cy := vp.W/2, vp.H/2
	return ScreenPos{
		X: cx + (pos.X+t.OffsetX-cx)*t.Scale,
		Y: cy + (pos.Y+t.OffsetY-cy)*t.Scale,
	}
}

// MarkerScale compensates fixed-size markers for zoom: scaling a marker by
// 1/zoom keeps it a constant size on screen.
func (t Transform) MarkerScale() float64 {
	if t.Scale == 0 {
		return 1
	}
	return 1 / t.Scale
}

// Clamp bounds v into [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Point builds a geometry point for records that persist world locations as
// WKT, since SQLite has no spatial awareness of its own.
func Point(x, y float64) (geom.Point, error) {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
}

// WKT renders a world position for audit details. Unrepresentable
// coordinates (NaN, infinities) degrade to the empty point rather than
// failing the write path.
func WKT(pos core.Position) string {
	pt, err := Point(pos.X, pos.Y)
	if err != nil {
		return geom.Point{}.AsText()
	}
	return pt.AsText()
}
