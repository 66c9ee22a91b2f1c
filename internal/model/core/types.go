// internal/model/core/types.go
package core

// Position is a 2D world coordinate. The world is an opaque plane;
// Y grows northward, which display layers must invert for screens.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnknownPosition is the sentinel assigned to players created by heartbeat
// before any position report arrives.
var UnknownPosition = Position{X: -10000, Y: -10000}

// IsKnown reports whether the position has been set by a real report.
func (p Position) IsKnown() bool {
	return p != UnknownPosition
}
