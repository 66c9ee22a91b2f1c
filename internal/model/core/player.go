// internal/model/core/player.go
package core

import (
	"strings"
	"time"
)

// Player represents a tracked player. Nicknames are the identity and are
// matched case-insensitively; players are never deleted, they just stop
// appearing in alive queries once LastUpdate falls outside the window.
type Player struct {
	Nick       string    `json:"nick"`
	Position   Position  `json:"position"`
	IsAFK      bool      `json:"isAFK"`
	InVehicle  bool      `json:"inVehicle"`
	BaseStatus string    `json:"baseStatus"`
	LastUpdate time.Time `json:"lastUpdate"`
	LastSeen   time.Time `json:"lastSeen"`
}

// PlayerKey normalizes a nickname for case-insensitive map lookups.
func PlayerKey(nick string) string {
	return strings.ToLower(strings.TrimSpace(nick))
}

// Alive reports whether the player updated within maxAge of now.
func (p Player) Alive(now time.Time, maxAge time.Duration) bool {
	return now.Sub(p.LastUpdate) <= maxAge
}

// ActiveAt reports whether the player counts as an active unit member:
// in a vehicle and seen within the freshness window.
func (p Player) ActiveAt(now time.Time, window time.Duration) bool {
	return p.InVehicle && now.Sub(p.LastSeen) <= window
}
