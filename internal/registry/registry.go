// internal/registry/registry.go
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samapviewer/tracker/internal/geo"
	"github.com/samapviewer/tracker/internal/model/core"
)

// Publisher delivers events to subscribers, fire-and-forget.
type Publisher interface {
	Publish(event string, payload any)
}

// Auditor appends history records, fire-and-forget.
type Auditor interface {
	Append(recordType string, details any)
}

// Registry owns the player and unit records behind a single lock. All
// mutations publish a minimal delta and append one audit record after the
// lock is released; neither can fail a mutation.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*core.Player
	units   map[uuid.UUID]*core.Unit

	publish Publisher
	audit   Auditor
	now     func() time.Time
}

// New creates an empty registry.
func New(publish Publisher, audit Auditor) *Registry {
	return &Registry{
		players: make(map[string]*core.Player),
		units:   make(map[uuid.UUID]*core.Unit),
		publish: publish,
		audit:   audit,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// getOrCreateLocked returns the player record for nick, creating a
// placeholder at the sentinel unknown position on first sight.
func (r *Registry) getOrCreateLocked(nick string) *core.Player {
	key := core.PlayerKey(nick)
	p, ok := r.players[key]
	if !ok {
		p = &core.Player{Nick: nick, Position: core.UnknownPosition}
		r.players[key] = p
	}
	return p
}

func (r *Registry) playerDelta(p core.Player) core.PlayerDelta {
	return core.PlayerDelta{
		Nick:      p.Nick,
		X:         p.Position.X,
		Y:         p.Position.Y,
		IsAFK:     p.IsAFK,
		InVehicle: p.InVehicle,
	}
}

// UpsertPosition records a position report, creating the player on first
// report. Bumps both the liveness and the activity clocks.
func (r *Registry) UpsertPosition(nick string, x, y float64) (core.Player, error) {
	if core.PlayerKey(nick) == "" {
		return core.Player{}, fmt.Errorf("player nick: %w", core.ErrValidation)
	}

	r.mu.Lock()
	p := r.getOrCreateLocked(nick)
	now := r.now()
	p.Position = core.Position{X: x, Y: y}
	p.LastUpdate = now
	p.LastSeen = now
	snap := *p
	r.mu.Unlock()

	r.publish.Publish(core.EventPlayerUpdated, r.playerDelta(snap))
	r.audit.Append("player_position", map[string]any{"nick": snap.Nick, "wkt": geo.WKT(snap.Position)})
	return snap, nil
}

// SetVehicleState flips the in-vehicle flag. Entering a vehicle counts as
// activity for eviction purposes, so LastSeen is bumped as well.
func (r *Registry) SetVehicleState(nick string, inVehicle bool) (core.Player, error) {
	if core.PlayerKey(nick) == "" {
		return core.Player{}, fmt.Errorf("player nick: %w", core.ErrValidation)
	}

	r.mu.Lock()
	p := r.getOrCreateLocked(nick)
	p.InVehicle = inVehicle
	p.LastSeen = r.now()
	snap := *p
	r.mu.Unlock()

	r.publish.Publish(core.EventPlayerUpdated, r.playerDelta(snap))
	r.audit.Append("player_vehicle", map[string]any{"nick": snap.Nick, "inVehicle": inVehicle})
	return snap, nil
}

// SetAFK flips the away flag.
func (r *Registry) SetAFK(nick string, afk bool) (core.Player, error) {
	if core.PlayerKey(nick) == "" {
		return core.Player{}, fmt.Errorf("player nick: %w", core.ErrValidation)
	}

	r.mu.Lock()
	p := r.getOrCreateLocked(nick)
	p.IsAFK = afk
	snap := *p
	r.mu.Unlock()

	r.publish.Publish(core.EventPlayerUpdated, r.playerDelta(snap))
	r.audit.Append("player_afk", map[string]any{"nick": snap.Nick, "isAFK": afk})
	return snap, nil
}

// Heartbeat keeps a player alive without a position report. Unknown players
// get a placeholder record at the sentinel position so unit membership can
// reference them before their first coordinate arrives.
func (r *Registry) Heartbeat(nick string, inVehicle, afk bool) (core.Player, error) {
	if core.PlayerKey(nick) == "" {
		return core.Player{}, fmt.Errorf("player nick: %w", core.ErrValidation)
	}

	r.mu.Lock()
	p := r.getOrCreateLocked(nick)
	now := r.now()
	p.InVehicle = inVehicle
	p.IsAFK = afk
	p.LastUpdate = now
	p.LastSeen = now
	snap := *p
	r.mu.Unlock()

	r.publish.Publish(core.EventPlayerUpdated, r.playerDelta(snap))
	r.audit.Append("player_heartbeat", map[string]any{"nick": snap.Nick, "inVehicle": inVehicle, "isAFK": afk})
	return snap, nil
}

// SetBaseStatus records the player's standing status ("10-8", "code 7").
// No status event is published here: the situation layer owns the status
// broadcast because situation membership can override the base value.
func (r *Registry) SetBaseStatus(nick, status string) (core.Player, error) {
	if core.PlayerKey(nick) == "" {
		return core.Player{}, fmt.Errorf("player nick: %w", core.ErrValidation)
	}

	r.mu.Lock()
	p := r.getOrCreateLocked(nick)
	p.BaseStatus = status
	snap := *p
	r.mu.Unlock()

	r.audit.Append("player_base_status", map[string]any{"nick": snap.Nick, "status": status})
	return snap, nil
}

// Player returns a snapshot of a single player.
func (r *Registry) Player(nick string) (core.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[core.PlayerKey(nick)]
	if !ok {
		return core.Player{}, false
	}
	return *p, true
}

// ListAlive snapshots every player that reported within maxAge, ordered by
// nickname. Stale players are skipped, never deleted.
func (r *Registry) ListAlive(maxAge time.Duration) []core.Player {
	r.mu.RLock()
	now := r.now()
	out := make([]core.Player, 0, len(r.players))
	for _, p := range r.players {
		if p.Alive(now, maxAge) {
			out = append(out, *p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

// AddUnit registers a unit. The first member is the primary and must be
// present; members without a player record get placeholders.
func (r *Registry) AddUnit(members []string, marking, status string) (core.Unit, error) {
	cleaned := make([]string, 0, len(members))
	for _, m := range members {
		if core.PlayerKey(m) != "" {
			cleaned = append(cleaned, m)
		}
	}
	if len(cleaned) == 0 {
		return core.Unit{}, fmt.Errorf("unit needs at least one member: %w", core.ErrValidation)
	}

	r.mu.Lock()
	for _, m := range cleaned {
		r.getOrCreateLocked(m)
	}
	u := &core.Unit{
		ID:      uuid.New(),
		Members: cleaned,
		Marking: marking,
		Status:  status,
	}
	r.units[u.ID] = u
	snap := cloneUnit(*u)
	r.mu.Unlock()

	r.publish.Publish(core.EventUnitUpdated, snap)
	r.audit.Append("unit_add", map[string]any{"id": snap.ID, "members": snap.Members, "marking": snap.Marking})
	return snap, nil
}

// GetUnit returns a snapshot of the unit.
func (r *Registry) GetUnit(id uuid.UUID) (core.Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id]
	if !ok {
		return core.Unit{}, false
	}
	return cloneUnit(*u), true
}

// ListUnits snapshots all units, ordered by marking then id.
func (r *Registry) ListUnits() []core.Unit {
	r.mu.RLock()
	out := make([]core.Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, cloneUnit(*u))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Marking != out[j].Marking {
			return out[i].Marking < out[j].Marking
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// ListUnitIDs returns the ids of all units, for callers that only need to
// enumerate (the eviction scheduler).
func (r *Registry) ListUnitIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(r.units))
	for id := range r.units {
		out = append(out, id)
	}
	return out
}

// SetUnitStatus updates a unit's display status.
func (r *Registry) SetUnitStatus(id uuid.UUID, status string) (core.Unit, error) {
	r.mu.Lock()
	u, ok := r.units[id]
	if !ok {
		r.mu.Unlock()
		return core.Unit{}, fmt.Errorf("unit %s: %w", id, core.ErrNotFound)
	}
	u.Status = status
	snap := cloneUnit(*u)
	r.mu.Unlock()

	r.publish.Publish(core.EventUnitUpdated, snap)
	r.audit.Append("unit_status", map[string]any{"id": snap.ID, "status": status})
	return snap, nil
}

// SetUnitSituation links or unlinks the unit's situation reference.
func (r *Registry) SetUnitSituation(id uuid.UUID, sid *uuid.UUID) (core.Unit, error) {
	r.mu.Lock()
	u, ok := r.units[id]
	if !ok {
		r.mu.Unlock()
		return core.Unit{}, fmt.Errorf("unit %s: %w", id, core.ErrNotFound)
	}
	if sid != nil {
		v := *sid
		u.SituationID = &v
	} else {
		u.SituationID = nil
	}
	snap := cloneUnit(*u)
	r.mu.Unlock()

	r.publish.Publish(core.EventUnitUpdated, snap)
	r.audit.Append("unit_situation", map[string]any{"id": snap.ID, "situationId": snap.SituationID})
	return snap, nil
}

// DeleteUnit removes the unit. Member player records stay.
func (r *Registry) DeleteUnit(id uuid.UUID) error {
	r.mu.Lock()
	u, ok := r.units[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unit %s: %w", id, core.ErrNotFound)
	}
	snap := cloneUnit(*u)
	delete(r.units, id)
	r.mu.Unlock()

	r.publish.Publish(core.EventUnitDeleted, snap)
	r.audit.Append("unit_delete", map[string]any{"id": snap.ID, "marking": snap.Marking})
	return nil
}

// UnitPosition returns the unit's display position: the primary member's
// last known position, falling back to the first member with a known one.
func (r *Registry) UnitPosition(id uuid.UUID) (core.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id]
	if !ok {
		return core.Position{}, false
	}
	for _, m := range u.Members {
		p, ok := r.players[core.PlayerKey(m)]
		if ok && p.Position.IsKnown() {
			return p.Position, true
		}
	}
	return core.Position{}, false
}

// AnyMemberActive reports whether any member of the unit is in a vehicle
// and was seen within the freshness window. The eviction scheduler keys its
// decisions off this.
func (r *Registry) AnyMemberActive(id uuid.UUID, window time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id]
	if !ok {
		return false
	}
	now := r.now()
	for _, m := range u.Members {
		if p, ok := r.players[core.PlayerKey(m)]; ok && p.ActiveAt(now, window) {
			return true
		}
	}
	return false
}

func cloneUnit(u core.Unit) core.Unit {
	u.Members = append([]string(nil), u.Members...)
	if u.SituationID != nil {
		v := *u.SituationID
		u.SituationID = &v
	}
	return u
}
