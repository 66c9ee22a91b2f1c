// internal/dispatcher/handlers.go
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/samapviewer/tracker/internal/radio"
	"github.com/samapviewer/tracker/internal/registry"
	"github.com/samapviewer/tracker/internal/situation"
)

// Engine bundles the managers the command handlers mutate.
type Engine struct {
	Registry   *registry.Registry
	Situations *situation.Manager
	Channels   *radio.Manager
}

// RegisterEngine wires the standard command set onto the dispatcher.
// Position reports are the high-volume path and get a buffered handler;
// everything else runs synchronously so callers see validation errors.
func RegisterEngine(d *Dispatcher, e Engine) {
	d.Register(":COORDS:", e.handleCoords, Buffered(4096))
	d.Register(":HEARTBEAT:", e.handleHeartbeat, Buffered(1024))
	d.Register(":AFK:", e.handleAFK, Logged())
	d.Register(":VEHICLE:", e.handleVehicle, Logged())
	d.Register(":STATUS:", e.handleStatus, Logged())
	d.Register(":PANIC:", e.handlePanic, Logged())
	d.Register(":UNIT:ADD:", e.handleUnitAdd, Logged())
	d.Register(":UNIT:REMOVE:", e.handleUnitRemove, Logged())
	d.Register(":SITUATION:CREATE:", e.handleSituationCreate, Logged())
	d.Register(":SITUATION:UPDATE:", e.handleSituationUpdate, Logged())
	d.Register(":SITUATION:CLOSE:", e.handleSituationClose, Logged())
	d.Register(":SITUATION:OPEN:", e.handleSituationOpen, Logged())
	d.Register(":SITUATION:DELETE:", e.handleSituationDelete, Logged())
	d.Register(":SITUATION:UNIT:ADD:", e.handleSituationUnitAdd, Logged())
	d.Register(":SITUATION:UNIT:REMOVE:", e.handleSituationUnitRemove, Logged())
	d.Register(":SITUATION:ROLES:", e.handleSituationRoles, Logged())
	d.Register(":SITUATION:PLAYER:ADD:", e.handleSituationPlayerAdd, Logged())
	d.Register(":SITUATION:PLAYER:REMOVE:", e.handleSituationPlayerRemove, Logged())
	d.Register(":CHANNEL:CREATE:", e.handleChannelCreate, Logged())
	d.Register(":CHANNEL:BUSY:", e.handleChannelBusy, Logged())
	d.Register(":CHANNEL:ATTACH:", e.handleChannelAttach, Logged())
}

func needArgs(c Command, n int) error {
	if len(c.Args) < n {
		return fmt.Errorf("%s needs %d args, got %d", c.Name, n, len(c.Args))
	}
	return nil
}

func snapshot(v any, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	return Result{Snapshot: v}, nil
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s id: %w", what, err)
	}
	return id, nil
}

// parseOptionalID treats an empty argument as absent, for role clears and
// detaches.
func parseOptionalID(raw, what string) (*uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := parseID(raw, what)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (e Engine) handleCoords(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 3); err != nil {
		return Result{}, err
	}
	x, err := strconv.ParseFloat(c.Args[1], 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse x: %w", err)
	}
	y, err := strconv.ParseFloat(c.Args[2], 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse y: %w", err)
	}
	return snapshot(e.Registry.UpsertPosition(c.Args[0], x, y))
}

func (e Engine) handleHeartbeat(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 3); err != nil {
		return Result{}, err
	}
	inVehicle, _ := strconv.ParseBool(c.Args[1])
	afk, _ := strconv.ParseBool(c.Args[2])
	return snapshot(e.Registry.Heartbeat(c.Args[0], inVehicle, afk))
}

func (e Engine) handleAFK(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	afk, _ := strconv.ParseBool(c.Args[1])
	return snapshot(e.Registry.SetAFK(c.Args[0], afk))
}

func (e Engine) handleVehicle(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	inVehicle, _ := strconv.ParseBool(c.Args[1])
	return snapshot(e.Registry.SetVehicleState(c.Args[0], inVehicle))
}

func (e Engine) handleStatus(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	if err := e.Situations.SetBaseStatus(c.Args[0], c.Args[1]); err != nil {
		return Result{}, err
	}
	return Result{Snapshot: e.Situations.Status(c.Args[0])}, nil
}

func (e Engine) handlePanic(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	on, _ := strconv.ParseBool(c.Args[1])
	return Result{}, e.Situations.SetPanic(c.Args[0], on)
}

func (e Engine) handleUnitAdd(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	members := strings.Split(c.Args[0], ",")
	status := ""
	if len(c.Args) > 2 {
		status = c.Args[2]
	}
	return snapshot(e.Registry.AddUnit(members, c.Args[1], status))
}

func (e Engine) handleUnitRemove(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 1); err != nil {
		return Result{}, err
	}
	id, err := parseID(c.Args[0], "unit")
	if err != nil {
		return Result{}, err
	}
	return Result{}, e.Registry.DeleteUnit(id)
}

func (e Engine) handleSituationCreate(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 1); err != nil {
		return Result{}, err
	}
	metadata := map[string]string{}
	if len(c.Args) > 1 && c.Args[1] != "" {
		if err := json.Unmarshal([]byte(c.Args[1]), &metadata); err != nil {
			return Result{}, fmt.Errorf("parse metadata: %w", err)
		}
	}
	return snapshot(e.Situations.Create(c.Args[0], metadata))
}

func (e Engine) handleSituationUpdate(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	id, err := parseID(c.Args[0], "situation")
	if err != nil {
		return Result{}, err
	}
	patch := map[string]string{}
	if err := json.Unmarshal([]byte(c.Args[1]), &patch); err != nil {
		return Result{}, fmt.Errorf("parse patch: %w", err)
	}
	return snapshot(e.Situations.UpdateMetadata(id, patch))
}

func (e Engine) handleSituationClose(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 1); err != nil {
		return Result{}, err
	}
	id, err := parseID(c.Args[0], "situation")
	if err != nil {
		return Result{}, err
	}
	return snapshot(e.Situations.Close(id))
}

func (e Engine) handleSituationOpen(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 1); err != nil {
		return Result{}, err
	}
	id, err := parseID(c.Args[0], "situation")
	if err != nil {
		return Result{}, err
	}
	return snapshot(e.Situations.Open(id))
}

func (e Engine) handleSituationDelete(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 1); err != nil {
		return Result{}, err
	}
	id, err := parseID(c.Args[0], "situation")
	if err != nil {
		return Result{}, err
	}
	return Result{}, e.Situations.Delete(id)
}

func (e Engine) handleSituationUnitAdd(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	sid, err := parseID(c.Args[0], "situation")
	if err != nil {
		return Result{}, err
	}
	unitID, err := parseID(c.Args[1], "unit")
	if err != nil {
		return Result{}, err
	}
	asLead := false
	if len(c.Args) > 2 {
		asLead, _ = strconv.ParseBool(c.Args[2])
	}
	return snapshot(e.Situations.AddUnit(sid, unitID, asLead))
}

func (e Engine) handleSituationUnitRemove(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	sid, err := parseID(c.Args[0], "situation")
	if err != nil {
		return Result{}, err
	}
	unitID, err := parseID(c.Args[1], "unit")
	if err != nil {
		return Result{}, err
	}
	return snapshot(e.Situations.RemoveUnit(sid, unitID))
}

func (e Engine) handleSituationRoles(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 3); err != nil {
		return Result{}, err
	}
	sid, err := parseID(c.Args[0], "situation")
	if err != nil {
		return Result{}, err
	}
	green, err := parseOptionalID(c.Args[1], "green unit")
	if err != nil {
		return Result{}, err
	}
	red, err := parseOptionalID(c.Args[2], "red unit")
	if err != nil {
		return Result{}, err
	}
	return snapshot(e.Situations.SetRoleUnits(sid, green, red))
}

func (e Engine) handleSituationPlayerAdd(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	sid, err := parseID(c.Args[0], "situation")
	if err != nil {
		return Result{}, err
	}
	return snapshot(e.Situations.AddPlayer(sid, c.Args[1]))
}

func (e Engine) handleSituationPlayerRemove(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	sid, err := parseID(c.Args[0], "situation")
	if err != nil {
		return Result{}, err
	}
	return snapshot(e.Situations.RemovePlayer(sid, c.Args[1]))
}

func (e Engine) handleChannelCreate(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 1); err != nil {
		return Result{}, err
	}
	return snapshot(e.Channels.Create(c.Args[0]))
}

func (e Engine) handleChannelBusy(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	ch, ok := e.Channels.FindByName(c.Args[0])
	if !ok {
		return Result{}, fmt.Errorf("unknown channel: %s", c.Args[0])
	}
	busy, _ := strconv.ParseBool(c.Args[1])
	return snapshot(e.Channels.SetBusy(ch.ID, busy))
}

func (e Engine) handleChannelAttach(_ context.Context, c Command) (Result, error) {
	if err := needArgs(c, 2); err != nil {
		return Result{}, err
	}
	ch, ok := e.Channels.FindByName(c.Args[0])
	if !ok {
		return Result{}, fmt.Errorf("unknown channel: %s", c.Args[0])
	}
	sid, err := parseOptionalID(c.Args[1], "situation")
	if err != nil {
		return Result{}, err
	}
	return snapshot(e.Channels.Attach(ch.ID, sid))
}
