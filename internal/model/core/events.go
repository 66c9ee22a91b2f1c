// internal/model/core/events.go
package core

import "github.com/google/uuid"

// Broadcast event names. These match the vocabulary the map clients
// subscribe to; same-name events preserve emission order.
const (
	EventPlayerUpdated     = "UpdatePlayer"
	EventPlayerStatus      = "UpdatePlayerStatus"
	EventUnitUpdated       = "UnitUpdated"
	EventUnitDeleted       = "UnitDeleted"
	EventSituationCreated  = "SituationCreated"
	EventSituationUpdated  = "SituationUpdated"
	EventSituationDeleted  = "SituationDeleted"
	EventSituationLocation = "SituationLocationUpdated"
	EventChannelCreated    = "ChannelCreated"
	EventChannelUpdated    = "ChannelUpdated"
	EventPanicUpdated      = "PanicUpdated"
)

// PlayerDelta is the minimal payload broadcast after a registry mutation:
// the nickname plus the fields that may have changed.
type PlayerDelta struct {
	Nick      string  `json:"nick"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	IsAFK     bool    `json:"isAFK"`
	InVehicle bool    `json:"inVehicle"`
}

// StatusDelta carries a player's combined status string.
type StatusDelta struct {
	Nick   string `json:"nick"`
	Status string `json:"status"`
}

// PanicDelta signals a panic toggle for a player.
type PanicDelta struct {
	Nick  string `json:"nick"`
	Value int    `json:"value"`
}

// SituationRef identifies a situation in deletion events.
type SituationRef struct {
	ID uuid.UUID `json:"id"`
}

// LocationDelta carries a situation location change.
type LocationDelta struct {
	ID       uuid.UUID `json:"id"`
	Location string    `json:"location"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
}
