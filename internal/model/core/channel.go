// internal/model/core/channel.go
package core

import "github.com/google/uuid"

// TacticalChannel is a named radio resource that can be exclusively locked
// by one open situation at a time. IsBusy is true whenever SituationID is
// set; a manual busy toggle without an attached situation is also allowed.
type TacticalChannel struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	IsBusy      bool       `json:"isBusy"`
	SituationID *uuid.UUID `json:"situationId,omitempty"`
}

// AttachedTo reports whether the channel is bound to the given situation.
func (c TacticalChannel) AttachedTo(sid uuid.UUID) bool {
	return c.SituationID != nil && *c.SituationID == sid
}
