package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samapviewer/tracker/internal/model/core"
)

type fakeSink struct {
	mu      sync.Mutex
	events  []string
	audits  []string
	details []any
}

func (f *fakeSink) Publish(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeSink) Append(recordType string, details any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, recordType)
	f.details = append(f.details, details)
}

func newTestRegistry(t *testing.T) (*Registry, *fakeSink, *time.Time) {
	t.Helper()
	sink := &fakeSink{}
	r := New(sink, sink)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })
	return r, sink, &now
}

func TestUpsertPosition_CreatesAndUpdates(t *testing.T) {
	r, sink, _ := newTestRegistry(t)

	p, err := r.UpsertPosition("Smith", 100, -200)
	require.NoError(t, err)
	assert.Equal(t, core.Position{X: 100, Y: -200}, p.Position)
	assert.Contains(t, sink.events, core.EventPlayerUpdated)
	assert.Contains(t, sink.audits, "player_position")

	// Position audits carry the location as WKT geometry.
	require.NotEmpty(t, sink.details)
	d, ok := sink.details[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "POINT(100 -200)", d["wkt"])

	// Nicks are case-insensitive identities.
	p, err = r.UpsertPosition("smith", 5, 5)
	require.NoError(t, err)
	assert.Equal(t, core.Position{X: 5, Y: 5}, p.Position)

	got, ok := r.Player("SMITH")
	require.True(t, ok)
	assert.Equal(t, core.Position{X: 5, Y: 5}, got.Position)

	_, err = r.UpsertPosition("  ", 1, 1)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestHeartbeat_PlaceholderAtSentinel(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	p, err := r.Heartbeat("Jones", true, false)
	require.NoError(t, err)
	assert.Equal(t, core.UnknownPosition, p.Position)
	assert.False(t, p.Position.IsKnown())
	assert.True(t, p.InVehicle)

	// A later position report replaces the sentinel.
	p, err = r.UpsertPosition("Jones", 10, 20)
	require.NoError(t, err)
	assert.True(t, p.Position.IsKnown())
}

func TestListAlive_WindowsOnLastUpdate(t *testing.T) {
	r, _, now := newTestRegistry(t)

	_, err := r.UpsertPosition("old", 1, 1)
	require.NoError(t, err)

	*now = now.Add(10 * time.Minute)
	_, err = r.UpsertPosition("fresh", 2, 2)
	require.NoError(t, err)

	alive := r.ListAlive(5 * time.Minute)
	require.Len(t, alive, 1)
	assert.Equal(t, "fresh", alive[0].Nick)

	// Stale players are skipped, not deleted.
	_, ok := r.Player("old")
	assert.True(t, ok)
}

func TestSetVehicleState_BumpsLastSeenOnly(t *testing.T) {
	r, _, now := newTestRegistry(t)

	_, err := r.UpsertPosition("driver", 1, 1)
	require.NoError(t, err)
	updateAt := *now

	*now = now.Add(time.Minute)
	p, err := r.SetVehicleState("driver", true)
	require.NoError(t, err)
	assert.True(t, p.InVehicle)
	assert.Equal(t, updateAt, p.LastUpdate)
	assert.Equal(t, *now, p.LastSeen)
}

func TestUnits_CRUDAndPosition(t *testing.T) {
	r, sink, _ := newTestRegistry(t)

	_, err := r.UpsertPosition("alpha", 100, 100)
	require.NoError(t, err)

	u, err := r.AddUnit([]string{"alpha", "bravo"}, "1-ADAM-12", "patrol")
	require.NoError(t, err)
	assert.Equal(t, "alpha", u.Primary())
	assert.Equal(t, 2, u.PlayerCount())
	assert.Contains(t, sink.events, core.EventUnitUpdated)

	// bravo got a placeholder record.
	_, ok := r.Player("bravo")
	assert.True(t, ok)

	pos, ok := r.UnitPosition(u.ID)
	require.True(t, ok)
	assert.Equal(t, core.Position{X: 100, Y: 100}, pos)

	got, err := r.SetUnitStatus(u.ID, "code 6")
	require.NoError(t, err)
	assert.Equal(t, "code 6", got.Status)

	sid := uuid.New()
	got, err = r.SetUnitSituation(u.ID, &sid)
	require.NoError(t, err)
	require.NotNil(t, got.SituationID)
	assert.Equal(t, sid, *got.SituationID)

	require.NoError(t, r.DeleteUnit(u.ID))
	assert.ErrorIs(t, r.DeleteUnit(u.ID), core.ErrNotFound)
	assert.Contains(t, sink.events, core.EventUnitDeleted)
}

func TestAddUnit_RequiresMembers(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.AddUnit(nil, "X", "")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = r.AddUnit([]string{" ", ""}, "X", "")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUnitPosition_FallsBackPastUnknownPrimary(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	// Primary only heartbeated, so its position is the sentinel.
	_, err := r.Heartbeat("lead", false, false)
	require.NoError(t, err)
	_, err = r.UpsertPosition("second", 42, 43)
	require.NoError(t, err)

	u, err := r.AddUnit([]string{"lead", "second"}, "2-LINCOLN-9", "")
	require.NoError(t, err)

	pos, ok := r.UnitPosition(u.ID)
	require.True(t, ok)
	assert.Equal(t, core.Position{X: 42, Y: 43}, pos)
}

func TestAnyMemberActive(t *testing.T) {
	r, _, now := newTestRegistry(t)

	_, err := r.UpsertPosition("a", 1, 1)
	require.NoError(t, err)
	_, err = r.SetVehicleState("a", true)
	require.NoError(t, err)

	u, err := r.AddUnit([]string{"a"}, "3-MARY-7", "")
	require.NoError(t, err)

	assert.True(t, r.AnyMemberActive(u.ID, 5*time.Minute))

	// Freshness lapses with the clock.
	*now = now.Add(6 * time.Minute)
	assert.False(t, r.AnyMemberActive(u.ID, 5*time.Minute))

	// Leaving the vehicle makes the unit inactive regardless of recency.
	_, err = r.SetVehicleState("a", false)
	require.NoError(t, err)
	assert.False(t, r.AnyMemberActive(u.ID, 5*time.Minute))

	assert.False(t, r.AnyMemberActive(uuid.New(), 5*time.Minute))
}

func TestConcurrentUpserts_NoTornState(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = r.UpsertPosition("racer", float64(n), float64(n))
		}(i)
	}
	wg.Wait()

	p, ok := r.Player("racer")
	require.True(t, ok)
	assert.Equal(t, p.Position.X, p.Position.Y, "x and y come from the same write")
}
