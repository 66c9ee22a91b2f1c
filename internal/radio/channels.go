// internal/radio/channels.go
package radio

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

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

// Manager owns the tactical channel registry. Attach atomically implies the
// busy flag: a channel with a situation attached is always busy, so callers
// cannot forget to set one without the other.
type Manager struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]*core.TacticalChannel
	byName   map[string]uuid.UUID

	publish Publisher
	audit   Auditor
}

// NewManager creates an empty channel registry.
func NewManager(publish Publisher, audit Auditor) *Manager {
	return &Manager{
		channels: make(map[uuid.UUID]*core.TacticalChannel),
		byName:   make(map[string]uuid.UUID),
		publish:  publish,
		audit:    audit,
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Create registers a new channel with a unique, user-facing name.
func (m *Manager) Create(name string) (core.TacticalChannel, error) {
	key := nameKey(name)
	if key == "" {
		return core.TacticalChannel{}, fmt.Errorf("channel name: %w", core.ErrValidation)
	}

	m.mu.Lock()
	if _, exists := m.byName[key]; exists {
		m.mu.Unlock()
		return core.TacticalChannel{}, fmt.Errorf("channel %q already exists: %w", name, core.ErrConflict)
	}
	ch := &core.TacticalChannel{ID: uuid.New(), Name: strings.TrimSpace(name)}
	m.channels[ch.ID] = ch
	m.byName[key] = ch.ID
	snap := *ch
	m.mu.Unlock()

	m.publish.Publish(core.EventChannelCreated, snap)
	m.audit.Append("channel_create", map[string]any{"id": snap.ID, "name": snap.Name})
	return snap, nil
}

// SetBusy toggles the manual busy flag. Idempotent. A channel that still
// has a situation attached cannot be freed this way; detach it instead.
func (m *Manager) SetBusy(id uuid.UUID, busy bool) (core.TacticalChannel, error) {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if !ok {
		m.mu.Unlock()
		return core.TacticalChannel{}, fmt.Errorf("channel %s: %w", id, core.ErrNotFound)
	}
	if !busy && ch.SituationID != nil {
		m.mu.Unlock()
		return core.TacticalChannel{}, fmt.Errorf("channel %s still attached to situation: %w", id, core.ErrConflict)
	}
	changed := ch.IsBusy != busy
	ch.IsBusy = busy
	snap := *ch
	m.mu.Unlock()

	if changed {
		m.publish.Publish(core.EventChannelUpdated, snap)
		m.audit.Append("channel_busy", map[string]any{"id": snap.ID, "isBusy": snap.IsBusy})
	}
	return snap, nil
}

// Attach binds the channel to a situation, or detaches when sid is nil.
// Busy state follows attachment atomically. Attaching a channel that is
// busy under a different situation fails with a conflict; re-attaching the
// same situation is a no-op success.
func (m *Manager) Attach(id uuid.UUID, sid *uuid.UUID) (core.TacticalChannel, error) {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if !ok {
		m.mu.Unlock()
		return core.TacticalChannel{}, fmt.Errorf("channel %s: %w", id, core.ErrNotFound)
	}

	if sid != nil {
		if ch.SituationID != nil && *ch.SituationID != *sid {
			snap := *ch
			m.mu.Unlock()
			return snap, fmt.Errorf("channel %q held by situation %s: %w", ch.Name, *ch.SituationID, core.ErrConflict)
		}
		if ch.SituationID == nil && ch.IsBusy {
			snap := *ch
			m.mu.Unlock()
			return snap, fmt.Errorf("channel %q is busy: %w", ch.Name, core.ErrConflict)
		}
		if ch.AttachedTo(*sid) {
			snap := *ch
			m.mu.Unlock()
			return snap, nil
		}
		v := *sid
		ch.SituationID = &v
		ch.IsBusy = true
	} else {
		if ch.SituationID == nil {
			snap := *ch
			m.mu.Unlock()
			return snap, nil
		}
		ch.SituationID = nil
		ch.IsBusy = false
	}
	snap := *ch
	m.mu.Unlock()

	m.publish.Publish(core.EventChannelUpdated, snap)
	m.audit.Append("channel_attach_situation", map[string]any{"id": snap.ID, "situationId": snap.SituationID})
	return snap, nil
}

// DetachIfOwner releases the channel only when it is still bound to the
// given situation. Another situation may have claimed it in the meantime;
// in that case this is a no-op.
func (m *Manager) DetachIfOwner(id uuid.UUID, sid uuid.UUID) (core.TacticalChannel, bool, error) {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if !ok {
		m.mu.Unlock()
		return core.TacticalChannel{}, false, fmt.Errorf("channel %s: %w", id, core.ErrNotFound)
	}
	if !ch.AttachedTo(sid) {
		snap := *ch
		m.mu.Unlock()
		return snap, false, nil
	}
	ch.SituationID = nil
	ch.IsBusy = false
	snap := *ch
	m.mu.Unlock()

	m.publish.Publish(core.EventChannelUpdated, snap)
	m.audit.Append("channel_attach_situation", map[string]any{"id": snap.ID, "situationId": nil})
	return snap, true, nil
}

// ReleaseAllFor detaches and frees every channel bound to the situation,
// regardless of how the binding arrived. Returns the released snapshots.
func (m *Manager) ReleaseAllFor(sid uuid.UUID) []core.TacticalChannel {
	m.mu.Lock()
	var released []core.TacticalChannel
	for _, ch := range m.channels {
		if ch.AttachedTo(sid) {
			ch.SituationID = nil
			ch.IsBusy = false
			released = append(released, *ch)
		}
	}
	m.mu.Unlock()

	for _, snap := range released {
		m.publish.Publish(core.EventChannelUpdated, snap)
		m.audit.Append("channel_attach_situation", map[string]any{"id": snap.ID, "situationId": nil})
	}
	return released
}

// Get returns a snapshot of the channel.
func (m *Manager) Get(id uuid.UUID) (core.TacticalChannel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	if !ok {
		return core.TacticalChannel{}, false
	}
	return *ch, true
}

// FindByName looks a channel up by its user-facing name, case-insensitively.
func (m *Manager) FindByName(name string) (core.TacticalChannel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[nameKey(name)]
	if !ok {
		return core.TacticalChannel{}, false
	}
	return *m.channels[id], true
}

// List returns a point-in-time snapshot of all channels, ordered by name.
func (m *Manager) List() []core.TacticalChannel {
	m.mu.RLock()
	out := make([]core.TacticalChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, *ch)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
