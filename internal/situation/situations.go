// internal/situation/situations.go
package situation

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

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

// Channels is the channel-manager surface the lifecycle manager needs for
// binding reconciliation.
type Channels interface {
	FindByName(name string) (core.TacticalChannel, bool)
	Attach(id uuid.UUID, sid *uuid.UUID) (core.TacticalChannel, error)
	DetachIfOwner(id uuid.UUID, sid uuid.UUID) (core.TacticalChannel, bool, error)
	ReleaseAllFor(sid uuid.UUID) []core.TacticalChannel
}

// Players is the registry surface backing player status reads and writes.
type Players interface {
	Player(nick string) (core.Player, bool)
	SetBaseStatus(nick, status string) (core.Player, error)
}

// Units is the registry surface keeping unit back-references in sync.
type Units interface {
	SetUnitSituation(id uuid.UUID, sid *uuid.UUID) (core.Unit, error)
}

// Locations resolves opaque location values into world positions.
type Locations interface {
	Resolve(value any) (core.Position, bool)
}

// Manager owns the situation lifecycle: create/update/close/delete, unit and
// player membership, and the channel binding reconciliation that keeps a
// situation's channel metadata and the channel registry's back-reference in
// agreement.
type Manager struct {
	mu         sync.RWMutex
	situations map[uuid.UUID]*core.Situation
	seqs       map[uuid.UUID]uint64
	nextSeq    uint64
	panicked   map[string]bool

	channels Channels
	players  Players
	units    Units
	resolve  Locations
	publish  Publisher
	audit    Auditor
	log      *slog.Logger
}

// NewManager wires a lifecycle manager. players and units may be nil when
// the caller has no registry; the related operations then degrade to the
// manager's own state.
func NewManager(channels Channels, players Players, units Units, resolve Locations, publish Publisher, audit Auditor, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		situations: make(map[uuid.UUID]*core.Situation),
		seqs:       make(map[uuid.UUID]uint64),
		panicked:   make(map[string]bool),
		channels:   channels,
		players:    players,
		units:      units,
		resolve:    resolve,
		publish:    publish,
		audit:      audit,
		log:        log,
	}
}

// Create opens a new situation. A channel name in metadata triggers a
// best-effort bind: a failed bind is logged and audited but never fails the
// create itself.
func (m *Manager) Create(typ string, metadata map[string]string) (core.Situation, error) {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return core.Situation{}, fmt.Errorf("situation type: %w", core.ErrValidation)
	}

	s := &core.Situation{
		ID:       uuid.New(),
		Type:     typ,
		Open:     true,
		Metadata: make(map[string]string, len(metadata)),
	}
	for k, v := range metadata {
		s.Metadata[k] = v
	}

	m.mu.Lock()
	m.deriveFromMetadataLocked(s, s.Metadata)
	m.nextSeq++
	m.seqs[s.ID] = m.nextSeq
	m.situations[s.ID] = s
	snap := cloneSituation(*s)
	m.mu.Unlock()

	m.publish.Publish(core.EventSituationCreated, snap)
	m.audit.Append("situation_create", map[string]any{"id": snap.ID, "type": snap.Type, "metadata": snap.Metadata})

	if name := snap.Channel(); name != "" {
		if err := m.bindChannel(snap.ID, name); err != nil {
			m.log.Warn("channel bind failed on create",
				"situationId", snap.ID, "channel", name, "error", err)
			m.audit.Append("situation_channel_bind_failed", map[string]any{"id": snap.ID, "channel": name, "error": err.Error()})
		}
	}
	return snap, nil
}

// UpdateMetadata merges the patch key-by-key (patch wins), re-derives the
// typed location fields from the well-known keys, and reconciles channel
// bindings when the channel key changed. A binding conflict is surfaced to
// the caller alongside the already-applied snapshot, never overridden.
func (m *Manager) UpdateMetadata(id uuid.UUID, patch map[string]string) (core.Situation, error) {
	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return core.Situation{}, fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}

	oldChannel := s.Channel()
	if s.Metadata == nil {
		s.Metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		s.Metadata[k] = v
	}
	m.deriveFromMetadataLocked(s, patch)
	newChannel := s.Channel()
	snap := cloneSituation(*s)
	m.mu.Unlock()

	m.publish.Publish(core.EventSituationUpdated, snap)
	m.audit.Append("situation_metadata", map[string]any{"id": snap.ID, "patch": patch})

	if !strings.EqualFold(oldChannel, newChannel) {
		if oldChannel != "" {
			if ch, ok := m.channels.FindByName(oldChannel); ok {
				if _, _, err := m.channels.DetachIfOwner(ch.ID, id); err != nil {
					m.log.Warn("channel detach failed", "situationId", id, "channel", oldChannel, "error", err)
				}
			}
		}
		if newChannel != "" {
			if err := m.bindChannel(id, newChannel); err != nil {
				return snap, err
			}
		}
	}
	return snap, nil
}

// UpdateLocation sets the typed location fields and mirrors them into
// metadata so map clients reading either view agree.
func (m *Manager) UpdateLocation(id uuid.UUID, name string, x, y float64) (core.Situation, error) {
	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return core.Situation{}, fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}
	s.LocationName = name
	xv, yv := x, y
	s.X, s.Y = &xv, &yv
	if s.Metadata == nil {
		s.Metadata = make(map[string]string, 3)
	}
	s.Metadata["location"] = name
	s.Metadata["x"] = strconv.FormatFloat(x, 'f', -1, 64)
	s.Metadata["y"] = strconv.FormatFloat(y, 'f', -1, 64)
	snap := cloneSituation(*s)
	m.mu.Unlock()

	m.publish.Publish(core.EventSituationLocation, core.LocationDelta{ID: snap.ID, Location: name, X: x, Y: y})
	m.audit.Append("situation_location", map[string]any{"id": snap.ID, "location": name, "wkt": geo.WKT(core.Position{X: x, Y: y})})
	return snap, nil
}

// AddUnit adds the unit to the member set; adding an already-present unit
// as lead promotes it. The unit's own back-reference is kept in sync.
func (m *Manager) AddUnit(id, unitID uuid.UUID, asLead bool) (core.Situation, error) {
	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return core.Situation{}, fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}
	if !s.HasUnit(unitID) {
		s.Units = append(s.Units, unitID)
	}
	if asLead {
		v := unitID
		s.LeadUnitID = &v
	}
	snap := cloneSituation(*s)
	m.mu.Unlock()

	if m.units != nil {
		if _, err := m.units.SetUnitSituation(unitID, &id); err != nil {
			m.log.Warn("unit back-reference update failed", "situationId", id, "unitId", unitID, "error", err)
		}
	}
	m.publish.Publish(core.EventSituationUpdated, snap)
	m.audit.Append("situation_add_unit", map[string]any{"id": snap.ID, "unitId": unitID, "asLead": asLead})
	return snap, nil
}

// RemoveUnit drops the unit from the member set and clears any role pointer
// referring to it.
func (m *Manager) RemoveUnit(id, unitID uuid.UUID) (core.Situation, error) {
	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return core.Situation{}, fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}
	kept := s.Units[:0]
	for _, u := range s.Units {
		if u != unitID {
			kept = append(kept, u)
		}
	}
	s.Units = kept
	if s.LeadUnitID != nil && *s.LeadUnitID == unitID {
		s.LeadUnitID = nil
	}
	if s.GreenUnitID != nil && *s.GreenUnitID == unitID {
		s.GreenUnitID = nil
	}
	if s.RedUnitID != nil && *s.RedUnitID == unitID {
		s.RedUnitID = nil
	}
	snap := cloneSituation(*s)
	m.mu.Unlock()

	if m.units != nil {
		if _, err := m.units.SetUnitSituation(unitID, nil); err != nil {
			m.log.Warn("unit back-reference clear failed", "situationId", id, "unitId", unitID, "error", err)
		}
	}
	m.publish.Publish(core.EventSituationUpdated, snap)
	m.audit.Append("situation_remove_unit", map[string]any{"id": snap.ID, "unitId": unitID})
	return snap, nil
}

// SetRoleUnits assigns the initiator (green) and commander (red) roles.
// A nil pointer clears the role.
func (m *Manager) SetRoleUnits(id uuid.UUID, green, red *uuid.UUID) (core.Situation, error) {
	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return core.Situation{}, fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}
	s.GreenUnitID = cloneID(green)
	s.RedUnitID = cloneID(red)
	snap := cloneSituation(*s)
	m.mu.Unlock()

	m.publish.Publish(core.EventSituationUpdated, snap)
	m.audit.Append("situation_roles", map[string]any{"id": snap.ID, "greenUnitId": green, "redUnitId": red})
	return snap, nil
}

// Close marks the situation closed and releases every channel bound to it,
// regardless of how the binding arrived. The record survives.
func (m *Manager) Close(id uuid.UUID) (core.Situation, error) {
	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return core.Situation{}, fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}
	s.Open = false
	snap := cloneSituation(*s)
	m.mu.Unlock()

	released := m.channels.ReleaseAllFor(id)
	m.publish.Publish(core.EventSituationUpdated, snap)
	m.audit.Append("situation_close", map[string]any{"id": snap.ID, "releasedChannels": len(released)})
	return snap, nil
}

// Open reopens a closed situation. Channels are not rebound automatically;
// a metadata update carrying the channel key does that.
func (m *Manager) Open(id uuid.UUID) (core.Situation, error) {
	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return core.Situation{}, fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}
	s.Open = true
	snap := cloneSituation(*s)
	m.mu.Unlock()

	m.publish.Publish(core.EventSituationUpdated, snap)
	m.audit.Append("situation_open", map[string]any{"id": snap.ID})
	return snap, nil
}

// Delete removes the record permanently after the same channel-release
// cascade as Close, and clears member units' back-references.
func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}
	snap := cloneSituation(*s)
	delete(m.situations, id)
	delete(m.seqs, id)
	m.mu.Unlock()

	m.channels.ReleaseAllFor(id)
	if m.units != nil {
		for _, uid := range snap.Units {
			if _, err := m.units.SetUnitSituation(uid, nil); err != nil {
				m.log.Warn("unit back-reference clear failed", "situationId", id, "unitId", uid, "error", err)
			}
		}
	}
	m.publish.Publish(core.EventSituationDeleted, core.SituationRef{ID: id})
	m.audit.Append("situation_delete", map[string]any{"id": id, "type": snap.Type})
	return nil
}

// AddPlayer joins a player to the situation by nick. The player's combined
// status is re-broadcast because membership can change it.
func (m *Manager) AddPlayer(id uuid.UUID, nick string) (core.Situation, error) {
	if core.PlayerKey(nick) == "" {
		return core.Situation{}, fmt.Errorf("player nick: %w", core.ErrValidation)
	}

	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return core.Situation{}, fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}
	if !hasPlayer(s, nick) {
		s.Players = append(s.Players, nick)
	}
	snap := cloneSituation(*s)
	m.mu.Unlock()

	m.publish.Publish(core.EventSituationUpdated, snap)
	m.publish.Publish(core.EventPlayerStatus, core.StatusDelta{Nick: nick, Status: m.Status(nick)})
	m.audit.Append("situation_add_player", map[string]any{"id": snap.ID, "nick": nick})
	return snap, nil
}

// RemovePlayer drops a player from the situation by nick.
func (m *Manager) RemovePlayer(id uuid.UUID, nick string) (core.Situation, error) {
	if core.PlayerKey(nick) == "" {
		return core.Situation{}, fmt.Errorf("player nick: %w", core.ErrValidation)
	}

	m.mu.Lock()
	s, ok := m.situations[id]
	if !ok {
		m.mu.Unlock()
		return core.Situation{}, fmt.Errorf("situation %s: %w", id, core.ErrNotFound)
	}
	key := core.PlayerKey(nick)
	kept := s.Players[:0]
	for _, p := range s.Players {
		if core.PlayerKey(p) != key {
			kept = append(kept, p)
		}
	}
	s.Players = kept
	snap := cloneSituation(*s)
	m.mu.Unlock()

	m.publish.Publish(core.EventSituationUpdated, snap)
	m.publish.Publish(core.EventPlayerStatus, core.StatusDelta{Nick: nick, Status: m.Status(nick)})
	m.audit.Append("situation_remove_player", map[string]any{"id": snap.ID, "nick": nick})
	return snap, nil
}

// SetBaseStatus stores the player's standing status and broadcasts the
// combined view.
func (m *Manager) SetBaseStatus(nick, status string) error {
	if m.players == nil {
		return fmt.Errorf("no player store: %w", core.ErrValidation)
	}
	if _, err := m.players.SetBaseStatus(nick, status); err != nil {
		return err
	}
	m.publish.Publish(core.EventPlayerStatus, core.StatusDelta{Nick: nick, Status: m.Status(nick)})
	return nil
}

// SetPanic toggles a player's panic flag. Panic overrides every other
// status until cleared.
func (m *Manager) SetPanic(nick string, on bool) error {
	key := core.PlayerKey(nick)
	if key == "" {
		return fmt.Errorf("player nick: %w", core.ErrValidation)
	}

	m.mu.Lock()
	if on {
		m.panicked[key] = true
	} else {
		delete(m.panicked, key)
	}
	m.mu.Unlock()

	value := 0
	if on {
		value = 1
	}
	m.publish.Publish(core.EventPanicUpdated, core.PanicDelta{Nick: nick, Value: value})
	m.publish.Publish(core.EventPlayerStatus, core.StatusDelta{Nick: nick, Status: m.Status(nick)})
	m.audit.Append("player_panic", map[string]any{"nick": nick, "value": value})
	return nil
}

// Status returns the player's combined status: panic overrides everything,
// then membership in the most recently created open situation, then the
// base status from the player store.
func (m *Manager) Status(nick string) string {
	key := core.PlayerKey(nick)

	m.mu.RLock()
	if m.panicked[key] {
		m.mu.RUnlock()
		return "PANIC"
	}
	var best *core.Situation
	var bestSeq uint64
	for id, s := range m.situations {
		if s.Open && hasPlayer(s, nick) && m.seqs[id] >= bestSeq {
			best = s
			bestSeq = m.seqs[id]
		}
	}
	var fromSituation string
	if best != nil {
		fromSituation = best.Title
		if fromSituation == "" {
			fromSituation = best.Type
		}
	}
	m.mu.RUnlock()

	if fromSituation != "" {
		return fromSituation
	}
	if m.players != nil {
		if p, ok := m.players.Player(nick); ok {
			return p.BaseStatus
		}
	}
	return ""
}

// Get returns a snapshot of the situation.
func (m *Manager) Get(id uuid.UUID) (core.Situation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.situations[id]
	if !ok {
		return core.Situation{}, false
	}
	return cloneSituation(*s), true
}

// List snapshots all situations, newest first.
func (m *Manager) List() []core.Situation {
	m.mu.RLock()
	out := make([]core.Situation, 0, len(m.situations))
	seqs := make([]uint64, 0, len(m.situations))
	for id, s := range m.situations {
		out = append(out, cloneSituation(*s))
		seqs = append(seqs, m.seqs[id])
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return seqs[i] > seqs[j] })
	return out
}

// FindOpenByType returns the newest open situation whose normalized type
// matches, so "Traffic Stop" and "trafficstop" classify together.
func (m *Manager) FindOpenByType(typ string) (core.Situation, bool) {
	want := core.NormalizeType(typ)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *core.Situation
	var bestSeq uint64
	for id, s := range m.situations {
		if s.Open && core.NormalizeType(s.Type) == want && m.seqs[id] >= bestSeq {
			best = s
			bestSeq = m.seqs[id]
		}
	}
	if best == nil {
		return core.Situation{}, false
	}
	return cloneSituation(*best), true
}

// bindChannel looks the channel up by name and attaches it to the
// situation. The channel manager enforces the busy invariant.
func (m *Manager) bindChannel(sid uuid.UUID, name string) error {
	ch, ok := m.channels.FindByName(name)
	if !ok {
		return fmt.Errorf("channel %q: %w", name, core.ErrNotFound)
	}
	_, err := m.channels.Attach(ch.ID, &sid)
	return err
}

// deriveFromMetadataLocked promotes the well-known metadata keys into the
// typed fields. Typed fields are the source of truth once set; only keys
// present in the patch overwrite them. A location name alone is run through
// the resolver so a "[x, y]" or named-place string still yields coordinates.
func (m *Manager) deriveFromMetadataLocked(s *core.Situation, patch map[string]string) {
	if v, ok := patch["title"]; ok {
		s.Title = v
	}
	if v, ok := patch["location"]; ok {
		s.LocationName = v
		if m.resolve != nil {
			if pos, ok := m.resolve.Resolve(v); ok {
				x, y := pos.X, pos.Y
				s.X, s.Y = &x, &y
			}
		}
	}
	if v, ok := patch["x"]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			s.X = &f
		}
	}
	if v, ok := patch["y"]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			s.Y = &f
		}
	}
}

func hasPlayer(s *core.Situation, nick string) bool {
	key := core.PlayerKey(nick)
	for _, p := range s.Players {
		if core.PlayerKey(p) == key {
			return true
		}
	}
	return false
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneSituation(s core.Situation) core.Situation {
	if s.Metadata != nil {
		md := make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			md[k] = v
		}
		s.Metadata = md
	}
	s.Units = append([]uuid.UUID(nil), s.Units...)
	s.Players = append([]string(nil), s.Players...)
	s.LeadUnitID = cloneID(s.LeadUnitID)
	s.GreenUnitID = cloneID(s.GreenUnitID)
	s.RedUnitID = cloneID(s.RedUnitID)
	return s
}
