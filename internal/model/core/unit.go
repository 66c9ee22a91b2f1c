// internal/model/core/unit.go
package core

import "github.com/google/uuid"

// Unit is a named group of players represented on the map by its primary
// member's position. Members is ordered; the first entry is the primary.
type Unit struct {
	ID          uuid.UUID  `json:"id"`
	Members     []string   `json:"playerNicks"`
	Marking     string     `json:"marking"`
	Status      string     `json:"status"`
	SituationID *uuid.UUID `json:"situationId,omitempty"`
}

// Primary returns the representative member nickname.
func (u Unit) Primary() string {
	if len(u.Members) == 0 {
		return ""
	}
	return u.Members[0]
}

// PlayerCount is derived from the member list.
func (u Unit) PlayerCount() int {
	return len(u.Members)
}

// HasMember reports membership, matching nicknames case-insensitively.
func (u Unit) HasMember(nick string) bool {
	key := PlayerKey(nick)
	for _, m := range u.Members {
		if PlayerKey(m) == key {
			return true
		}
	}
	return false
}
