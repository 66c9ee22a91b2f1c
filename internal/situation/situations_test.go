package situation

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samapviewer/tracker/internal/geo"
	"github.com/samapviewer/tracker/internal/model/core"
	"github.com/samapviewer/tracker/internal/radio"
	"github.com/samapviewer/tracker/internal/registry"
)

type fakeSink struct {
	mu     sync.Mutex
	events []string
	audits []string
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
}

func (f *fakeSink) hasAudit(recordType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.audits {
		if a == recordType {
			return true
		}
	}
	return false
}

type fixture struct {
	mgr      *Manager
	channels *radio.Manager
	reg      *registry.Registry
	sink     *fakeSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sink := &fakeSink{}
	channels := radio.NewManager(sink, sink)
	reg := registry.New(sink, sink)
	mgr := NewManager(channels, reg, reg, geo.NewResolver(nil), sink, sink, nil)
	return &fixture{mgr: mgr, channels: channels, reg: reg, sink: sink}
}

func TestCreate_PursuitBindsFreeChannel(t *testing.T) {
	f := newFixture(t)
	tac1, err := f.channels.Create("TAC-1")
	require.NoError(t, err)

	s, err := f.mgr.Create("pursuit", map[string]string{"channel": "TAC-1"})
	require.NoError(t, err)
	assert.True(t, s.Open)
	assert.Equal(t, "TAC-1", s.Metadata["channel"])

	ch, ok := f.channels.Get(tac1.ID)
	require.True(t, ok)
	assert.True(t, ch.IsBusy)
	require.NotNil(t, ch.SituationID)
	assert.Equal(t, s.ID, *ch.SituationID)

	// Closing the pursuit frees TAC-1 and keeps the record.
	closed, err := f.mgr.Close(s.ID)
	require.NoError(t, err)
	assert.False(t, closed.Open)

	ch, _ = f.channels.Get(tac1.ID)
	assert.False(t, ch.IsBusy)
	assert.Nil(t, ch.SituationID)

	_, ok = f.mgr.Get(s.ID)
	assert.True(t, ok)
}

func TestCreate_BindFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)

	// No such channel exists; creation still succeeds.
	s, err := f.mgr.Create("911", map[string]string{"channel": "TAC-9"})
	require.NoError(t, err)
	assert.Equal(t, "TAC-9", s.Metadata["channel"])
	assert.True(t, f.sink.hasAudit("situation_channel_bind_failed"))

	_, err = f.mgr.Create("  ", nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpdateMetadata_ReconcilesChannels(t *testing.T) {
	f := newFixture(t)
	tac1, err := f.channels.Create("TAC-1")
	require.NoError(t, err)
	tac2, err := f.channels.Create("TAC-2")
	require.NoError(t, err)

	s, err := f.mgr.Create("pursuit", map[string]string{"channel": "TAC-1"})
	require.NoError(t, err)

	// Switching channels detaches the old one and attaches the new one.
	got, err := f.mgr.UpdateMetadata(s.ID, map[string]string{"channel": "TAC-2"})
	require.NoError(t, err)
	assert.Equal(t, "TAC-2", got.Metadata["channel"])

	ch1, _ := f.channels.Get(tac1.ID)
	assert.False(t, ch1.IsBusy)
	ch2, _ := f.channels.Get(tac2.ID)
	require.NotNil(t, ch2.SituationID)
	assert.Equal(t, s.ID, *ch2.SituationID)

	// "none" clears the binding.
	_, err = f.mgr.UpdateMetadata(s.ID, map[string]string{"channel": "none"})
	require.NoError(t, err)
	ch2, _ = f.channels.Get(tac2.ID)
	assert.False(t, ch2.IsBusy)
}

func TestUpdateMetadata_ConflictSurfaced(t *testing.T) {
	f := newFixture(t)
	_, err := f.channels.Create("TAC-1")
	require.NoError(t, err)

	first, err := f.mgr.Create("pursuit", map[string]string{"channel": "TAC-1"})
	require.NoError(t, err)

	second, err := f.mgr.Create("robbery", nil)
	require.NoError(t, err)

	// The second situation cannot steal TAC-1; the metadata change is
	// applied but the conflict is surfaced, not overridden.
	snap, err := f.mgr.UpdateMetadata(second.ID, map[string]string{"channel": "TAC-1"})
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, "TAC-1", snap.Metadata["channel"])

	ch, ok := f.channels.FindByName("TAC-1")
	require.True(t, ok)
	require.NotNil(t, ch.SituationID)
	assert.Equal(t, first.ID, *ch.SituationID, "original owner keeps the channel")
}

func TestUpdateMetadata_DerivesTypedLocation(t *testing.T) {
	f := newFixture(t)

	s, err := f.mgr.Create("trafficstop", nil)
	require.NoError(t, err)

	got, err := f.mgr.UpdateMetadata(s.ID, map[string]string{"location": "[1500, -300]"})
	require.NoError(t, err)
	assert.Equal(t, "[1500, -300]", got.LocationName)
	require.NotNil(t, got.X)
	assert.Equal(t, 1500.0, *got.X)
	require.NotNil(t, got.Y)
	assert.Equal(t, -300.0, *got.Y)

	// Explicit x/y keys win over the location string.
	got, err = f.mgr.UpdateMetadata(s.ID, map[string]string{"x": "10", "y": "20"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, *got.X)
	assert.Equal(t, 20.0, *got.Y)

	_, err = f.mgr.UpdateMetadata(uuid.New(), map[string]string{"x": "1"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateLocation_MirrorsIntoMetadata(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create("911", nil)
	require.NoError(t, err)

	got, err := f.mgr.UpdateLocation(s.ID, "docks", 2000, -800)
	require.NoError(t, err)
	assert.Equal(t, "docks", got.LocationName)
	assert.Equal(t, "docks", got.Metadata["location"])
	assert.Equal(t, "2000", got.Metadata["x"])
	assert.Equal(t, "-800", got.Metadata["y"])
}

func TestUnits_AddPromoteRemove(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create("pursuit", nil)
	require.NoError(t, err)

	u, err := f.reg.AddUnit([]string{"alpha"}, "1-ADAM-12", "")
	require.NoError(t, err)

	got, err := f.mgr.AddUnit(s.ID, u.ID, false)
	require.NoError(t, err)
	assert.True(t, got.HasUnit(u.ID))
	assert.Nil(t, got.LeadUnitID)

	// Re-adding as lead promotes without duplicating.
	got, err = f.mgr.AddUnit(s.ID, u.ID, true)
	require.NoError(t, err)
	assert.Len(t, got.Units, 1)
	require.NotNil(t, got.LeadUnitID)
	assert.Equal(t, u.ID, *got.LeadUnitID)

	// Back-reference reaches the registry.
	ru, ok := f.reg.GetUnit(u.ID)
	require.True(t, ok)
	require.NotNil(t, ru.SituationID)
	assert.Equal(t, s.ID, *ru.SituationID)

	got, err = f.mgr.RemoveUnit(s.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, got.HasUnit(u.ID))
	assert.Nil(t, got.LeadUnitID)

	ru, _ = f.reg.GetUnit(u.ID)
	assert.Nil(t, ru.SituationID)
}

func TestSetRoleUnits(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create("pursuit", nil)
	require.NoError(t, err)

	green, red := uuid.New(), uuid.New()
	got, err := f.mgr.SetRoleUnits(s.ID, &green, &red)
	require.NoError(t, err)
	assert.Equal(t, green, *got.GreenUnitID)
	assert.Equal(t, red, *got.RedUnitID)

	got, err = f.mgr.SetRoleUnits(s.ID, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got.GreenUnitID)
	assert.Nil(t, got.RedUnitID)
}

func TestDelete_ReleasesChannelsAndUnits(t *testing.T) {
	f := newFixture(t)
	_, err := f.channels.Create("TAC-1")
	require.NoError(t, err)

	s, err := f.mgr.Create("pursuit", map[string]string{"channel": "TAC-1"})
	require.NoError(t, err)

	u, err := f.reg.AddUnit([]string{"alpha"}, "1-ADAM-12", "")
	require.NoError(t, err)
	_, err = f.mgr.AddUnit(s.ID, u.ID, true)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Delete(s.ID))
	assert.ErrorIs(t, f.mgr.Delete(s.ID), core.ErrNotFound)

	ch, _ := f.channels.FindByName("TAC-1")
	assert.False(t, ch.IsBusy)
	ru, _ := f.reg.GetUnit(u.ID)
	assert.Nil(t, ru.SituationID)
	_, ok := f.mgr.Get(s.ID)
	assert.False(t, ok)
}

func TestStatus_CombinesMembershipPanicAndBase(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.SetBaseStatus("Smith", "10-8"))
	assert.Equal(t, "10-8", f.mgr.Status("Smith"))

	s, err := f.mgr.Create("pursuit", map[string]string{"title": "I-5 pursuit"})
	require.NoError(t, err)
	_, err = f.mgr.AddPlayer(s.ID, "Smith")
	require.NoError(t, err)
	assert.Equal(t, "I-5 pursuit", f.mgr.Status("smith"), "membership overrides base")

	// Panic overrides everything until cleared.
	require.NoError(t, f.mgr.SetPanic("Smith", true))
	assert.Equal(t, "PANIC", f.mgr.Status("Smith"))
	require.NoError(t, f.mgr.SetPanic("Smith", false))
	assert.Equal(t, "I-5 pursuit", f.mgr.Status("Smith"))

	// Closing the situation falls back to the base status.
	_, err = f.mgr.Close(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "10-8", f.mgr.Status("Smith"))

	_, err = f.mgr.RemovePlayer(s.ID, "Smith")
	require.NoError(t, err)
}

func TestFindOpenByType_Normalizes(t *testing.T) {
	f := newFixture(t)

	s, err := f.mgr.Create("Traffic Stop", nil)
	require.NoError(t, err)

	got, ok := f.mgr.FindOpenByType("TRAFFICSTOP")
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)

	_, err = f.mgr.Close(s.ID)
	require.NoError(t, err)
	_, ok = f.mgr.FindOpenByType("trafficstop")
	assert.False(t, ok)
}

func TestConcurrentBind_ExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	_, err := f.channels.Create("TAC-1")
	require.NoError(t, err)

	a, err := f.mgr.Create("pursuit", nil)
	require.NoError(t, err)
	b, err := f.mgr.Create("robbery", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.mgr.UpdateMetadata(id, map[string]string{"channel": "TAC-1"})
		}(i, id)
	}
	wg.Wait()

	ch, ok := f.channels.FindByName("TAC-1")
	require.True(t, ok)
	require.NotNil(t, ch.SituationID, "exactly one binder must have won")
	assert.True(t, *ch.SituationID == a.ID || *ch.SituationID == b.ID)

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, core.ErrConflict)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "the other binder fails with a conflict")
}
