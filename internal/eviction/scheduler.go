// internal/eviction/scheduler.go
package eviction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the slice of the entity registry the scheduler needs: unit
// enumeration, the member-activity check and the delete path.
type Registry interface {
	ListUnitIDs() []uuid.UUID
	AnyMemberActive(id uuid.UUID, window time.Duration) bool
	DeleteUnit(id uuid.UUID) error
}

// Auditor appends history records, fire-and-forget.
type Auditor interface {
	Append(recordType string, details any)
}

// State of a unit from the scheduler's point of view.
type State int

const (
	StateActive State = iota
	StatePendingEviction
)

// Scheduler removes units whose members all went inactive. A unit seen
// inactive gets one pending timer for the freshness window; when the timer
// fires the unit is re-checked under the lock, so a member who climbed back
// into a vehicle in the meantime cancels the eviction even when the cancel
// itself raced the fire.
type Scheduler struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer

	reg    Registry
	audit  Auditor
	window time.Duration
	log    *slog.Logger

	// afterFunc is swappable so tests can fire timers deterministically.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewScheduler creates a scheduler with the given freshness window.
func NewScheduler(reg Registry, audit Auditor, window time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		timers:    make(map[uuid.UUID]*time.Timer),
		reg:       reg,
		audit:     audit,
		window:    window,
		log:       log,
		afterFunc: time.AfterFunc,
	}
}

// Tick evaluates every unit once: inactive units get a pending timer,
// units that became active again get their timer cancelled. The display
// layer calls this on its refresh cadence; Run drives it on an interval.
func (s *Scheduler) Tick() {
	for _, id := range s.reg.ListUnitIDs() {
		s.evaluate(id)
	}
}

func (s *Scheduler) evaluate(id uuid.UUID) {
	active := s.reg.AnyMemberActive(id, s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	if active {
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
			s.log.Debug("eviction cancelled", "unitId", id)
			s.audit.Append("unit_eviction_cancelled", map[string]any{"id": id})
		}
		return
	}
	if _, ok := s.timers[id]; ok {
		// replace-not-duplicate: the existing deadline stands
		return
	}
	s.timers[id] = s.afterFunc(s.window, func() { s.fire(id) })
	s.log.Debug("eviction scheduled", "unitId", id, "window", s.window)
	s.audit.Append("unit_eviction_scheduled", map[string]any{"id": id})
}

// fire re-checks activity before deleting: a best-effort cancel that lost
// the race to a firing timer makes this a no-op instead of a bad delete.
func (s *Scheduler) fire(id uuid.UUID) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	if s.reg.AnyMemberActive(id, s.window) {
		s.log.Debug("eviction no-op, unit active again", "unitId", id)
		return
	}
	if err := s.reg.DeleteUnit(id); err != nil {
		s.log.Warn("eviction delete failed", "unitId", id, "error", err)
		return
	}
	s.audit.Append("unit_evicted", map[string]any{"id": id})
}

// StateOf reports whether the unit currently has a pending eviction.
func (s *Scheduler) StateOf(id uuid.UUID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[id]; ok {
		return StatePendingEviction
	}
	return StateActive
}

// PendingCount reports how many units have a pending eviction timer.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Run ticks on the given interval until the context is cancelled, then
// stops every outstanding timer.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Stop cancels all pending timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
