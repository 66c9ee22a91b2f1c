// internal/model/core/situation.go
package core

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Situation is a tracked incident: pursuit, traffic stop, 911 call, etc.
// Typed location fields are the source of truth once present; Metadata
// mirrors them for readers that still expect strings.
type Situation struct {
	ID           uuid.UUID         `json:"id"`
	Type         string            `json:"type"`
	Title        string            `json:"title"`
	Open         bool              `json:"open"`
	LocationName string            `json:"locationName"`
	X            *float64          `json:"x,omitempty"`
	Y            *float64          `json:"y,omitempty"`
	Metadata     map[string]string `json:"metadata"`
	LeadUnitID   *uuid.UUID        `json:"leadUnitId,omitempty"`
	GreenUnitID  *uuid.UUID        `json:"greenUnitId,omitempty"`
	RedUnitID    *uuid.UUID        `json:"redUnitId,omitempty"`
	Units        []uuid.UUID       `json:"units"`
	Players      []string          `json:"players"`
}

// Channel returns the bound channel name from metadata, or "" when unset
// or set to the literal "none".
func (s Situation) Channel() string {
	name := strings.TrimSpace(s.Metadata["channel"])
	if strings.EqualFold(name, "none") {
		return ""
	}
	return name
}

// HasUnit reports whether the unit is in the member set.
func (s Situation) HasUnit(id uuid.UUID) bool {
	for _, u := range s.Units {
		if u == id {
			return true
		}
	}
	return false
}

var typeNormRe = regexp.MustCompile(`[^a-z0-9]`)

// NormalizeType collapses a free-form situation type to a comparable key:
// lower-cased with spaces and punctuation removed, so "Traffic Stop",
// "TRAFFICSTOP" and "trafficstop" all match.
func NormalizeType(t string) string {
	return typeNormRe.ReplaceAllString(strings.ToLower(t), "")
}
