package dispatch

import (
	"testing"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/actuator"
	"github.com/KevinKickass/OpenTestRig/internal/approach"
	"github.com/KevinKickass/OpenTestRig/internal/machine"
	"github.com/KevinKickass/OpenTestRig/internal/session"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func float(v float64) *float64 { return &v }
func flag(v bool) *bool          { return &v }

type eventLog struct {
	events []Event
}

func (e *eventLog) PublishEvent(event Event) { e.events = append(e.events, event) }

func (e *eventLog) ofType(typ EventType) []Event {
	var out []Event
	for _, ev := range e.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newLogic(t *testing.T, monitor *session.Monitor, settings machine.Settings) *machine.Logic {
	t.Helper()
	logic, err := machine.NewLogic(zaptest.NewLogger(t), machine.Components{
		Positioner: actuator.NewLinearAxis(actuator.AxisConfig{StrokeMax: 1000, Start: 100, SlowSpeed: 10, FastSpeed: 50}),
		Loader:     actuator.NewLinearAxis(actuator.AxisConfig{StrokeMin: -50, StrokeMax: 50, SlowSpeed: 1, FastSpeed: 5}),
		Grips:      actuator.NewGripPair(actuator.GripConfig{ClampDuration: 200 * time.Millisecond}),
		Doors:      actuator.NewDoorPair(actuator.DoorConfig{Duration: 300 * time.Millisecond}),
		Calculator: approach.Standard{},
	}, machine.Geometry{
		Axis:         r3.Vector{Z: 1},
		UndrivePoint: r3.Vector{Z: 600},
	}, settings, monitor)
	require.NoError(t, err)
	return logic
}

func attached(t *testing.T) (*Adapter, *machine.Logic, *session.Monitor, *eventLog) {
	t.Helper()
	log := &eventLog{}
	monitor := session.NewMonitor(session.Sample{})
	logic := newLogic(t, monitor, machine.Settings{ApproachSpeed: 100})
	adapter := NewAdapter(zaptest.NewLogger(t), NewBus(), log)
	adapter.Attach(logic, monitor)
	return adapter, logic, monitor, log
}

func TestAdapter_NoActiveMachine(t *testing.T) {
	adapter := NewAdapter(nil, nil)
	_, err := adapter.Dispatch(Command{Action: ActionStopAll})
	assert.ErrorIs(t, err, ErrNoActiveMachine)
}

func TestAdapter_AttachAnnouncesMachine(t *testing.T) {
	_, logic, _, log := attached(t)

	configured := log.ofType(EventMachineConfigured)
	require.Len(t, configured, 1)
	assert.Equal(t, logic.ID().String(), configured[0].MachineID)
	status, ok := configured[0].Data.(machine.MachineStatus)
	require.True(t, ok)
	assert.Equal(t, 100.0, status.Positioner.Position)
}

func TestAdapter_RepublishesBusy(t *testing.T) {
	adapter, logic, _, log := attached(t)

	rejection, err := adapter.Dispatch(Command{Action: ActionStartManualPositioning, Direction: "up", Tier: "fast"})
	require.NoError(t, err)
	assert.Empty(t, rejection)
	assert.True(t, logic.IsBusy())

	_, err = adapter.Dispatch(Command{Action: ActionStopManualPositioning})
	require.NoError(t, err)

	busy := log.ofType(EventBusyChanged)
	require.Len(t, busy, 2)
	assert.Equal(t, BusyData{Busy: true}, busy[0].Data)
	assert.Equal(t, BusyData{Busy: false}, busy[1].Data)
}

func TestAdapter_ReturnsFacadeRejection(t *testing.T) {
	adapter, _, _, log := attached(t)

	_, err := adapter.Dispatch(Command{Action: ActionStartAutomaticApproach, Target: float(400)})
	require.NoError(t, err)

	rejection, err := adapter.Dispatch(Command{Action: ActionStartManualPositioning, Direction: "up"})
	require.NoError(t, err)
	assert.Equal(t, "automatic approach in progress", rejection)

	rejected := log.ofType(EventActionRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, RejectedData{Action: ActionStartManualPositioning, Reason: rejection}, rejected[0].Data)
}

func TestAdapter_InvalidCommands(t *testing.T) {
	tests := []struct {
		name   string
		cmd    Command
		reason string
	}{
		{"bad direction", Command{Action: ActionStartManualLoading, Direction: "sideways"}, `invalid command: unknown direction: "sideways"`},
		{"bad tier", Command{Action: ActionStartManualPositioning, Direction: "up", Tier: "warp"}, `invalid command: unknown speed tier: "warp"`},
		{"missing target", Command{Action: ActionStartAutomaticApproach}, "invalid command: target is required"},
		{"missing displacement", Command{Action: ActionApplyDisplacement}, "invalid command: displacement is required"},
		{"bad purpose", Command{Action: ActionApproach, Purpose: "park"}, `invalid command: unknown approach purpose: "park"`},
		{"bad test type", Command{Action: ActionEnsureClearance, TestType: "torsion"}, `invalid command: unknown test type: "torsion"`},
		{"missing flag", Command{Action: ActionSetPowerUnit}, "invalid command: enabled is required"},
		{"missing sample", Command{Action: ActionSetSample}, "invalid command: sample is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, logic, _, log := attached(t)
			rejection, err := adapter.Dispatch(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, rejection)
			assert.False(t, logic.IsBusy())
			assert.Len(t, log.ofType(EventActionRejected), 1)
		})
	}
}

func TestAdapter_UnknownAction(t *testing.T) {
	adapter, _, _, _ := attached(t)
	_, err := adapter.Dispatch(Command{Action: "levitate"})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestAdapter_SetSampleThenApproach(t *testing.T) {
	adapter, logic, monitor, _ := attached(t)

	rejection, err := adapter.Dispatch(Command{Action: ActionApproach, Purpose: string(approach.ActionInstallSample)})
	require.NoError(t, err)
	assert.Equal(t, "sample length is not set", rejection)

	rejection, err = adapter.Dispatch(Command{Action: ActionSetSample, Sample: &session.Sample{EffectiveLength: 80, ClampingLength: 20}})
	require.NoError(t, err)
	assert.Empty(t, rejection)
	assert.Equal(t, 20.0, monitor.ClampingLength())

	rejection, err = adapter.Dispatch(Command{Action: ActionApproach, Purpose: string(approach.ActionInstallSample)})
	require.NoError(t, err)
	assert.Empty(t, rejection)

	for i := 0; i < 30; i++ {
		logic.OnUpdate(100 * time.Millisecond)
	}
	assert.InDelta(t, 290.0, logic.PositionerFrame().Position, 1e-9)
}

func TestAdapter_ReadyAndPowerEvents(t *testing.T) {
	log := &eventLog{}
	logic := newLogic(t, session.NewMonitor(session.Sample{}), machine.Settings{RequirePowerUnit: true, RequireSupportSystem: true})
	adapter := NewAdapter(zaptest.NewLogger(t), nil, log)
	adapter.Attach(logic, nil)

	_, err := adapter.Dispatch(Command{Action: ActionSetPowerUnit, Enabled: flag(true)})
	require.NoError(t, err)
	_, err = adapter.Dispatch(Command{Action: ActionSetSupportSystem, Enabled: flag(true)})
	require.NoError(t, err)

	assert.Equal(t, []Event{{Type: EventPowerStateChanged, MachineID: logic.ID().String(), Data: PowerData{On: true}}},
		log.ofType(EventPowerStateChanged))

	ready := log.ofType(EventReadyChanged)
	require.Len(t, ready, 2)
	assert.Equal(t, ReadyData{Ready: false, Reason: "support system is not engaged"}, ready[0].Data)
	assert.Equal(t, ReadyData{Ready: true}, ready[1].Data)

	rejection, err := adapter.Dispatch(Command{Action: ActionSetSample, Sample: &session.Sample{}})
	require.NoError(t, err)
	assert.Equal(t, "invalid command: no session is active", rejection)
}

func TestAdapter_ClearanceCommand(t *testing.T) {
	adapter, logic, _, _ := attached(t)

	rejection, err := adapter.Dispatch(Command{Action: ActionEnsureClearance, TestType: "service_access", Requester: "ui"})
	require.NoError(t, err)
	assert.Empty(t, rejection)
	require.NotNil(t, logic.Clearance())
	assert.Equal(t, "ui", logic.Clearance().Requester)
}

func TestAdapter_DoorCommands(t *testing.T) {
	adapter, logic, _, _ := attached(t)

	rejection, err := adapter.Dispatch(Command{Action: ActionEnsureClearance, TestType: "service_access"})
	require.NoError(t, err)
	require.Empty(t, rejection)

	rejection, err = adapter.Dispatch(Command{Action: ActionCloseDoors})
	require.NoError(t, err)
	assert.Equal(t, "doors are moving", rejection)

	for i := 0; i < 3; i++ {
		logic.OnUpdate(100 * time.Millisecond)
	}
	require.Nil(t, logic.Clearance())
	require.Equal(t, actuator.DoorsOpen, logic.DoorState())

	rejection, err = adapter.Dispatch(Command{Action: ActionCloseDoors})
	require.NoError(t, err)
	assert.Empty(t, rejection)
	assert.True(t, logic.IsBusy())

	for i := 0; i < 3; i++ {
		logic.OnUpdate(100 * time.Millisecond)
	}
	assert.Equal(t, actuator.DoorsClosed, logic.DoorState())
	assert.False(t, logic.IsBusy())

	rejection, err = adapter.Dispatch(Command{Action: ActionOpenDoors})
	require.NoError(t, err)
	assert.Empty(t, rejection)
	assert.Equal(t, actuator.DoorsClosed, logic.DoorState(), "opening takes a full animation")
}

func TestAdapter_DetachAndReattach(t *testing.T) {
	log := &eventLog{}
	bus := NewBus()
	adapter := NewAdapter(zaptest.NewLogger(t), bus, log)

	first := newLogic(t, session.NewMonitor(session.Sample{}), machine.Settings{})
	adapter.Attach(first, nil)
	require.True(t, bus.HasHandler(ActionStopAll))

	second := newLogic(t, session.NewMonitor(session.Sample{}), machine.Settings{})
	adapter.Attach(second, nil)
	assert.Same(t, second, adapter.Logic())

	_, err := adapter.Dispatch(Command{Action: ActionClampUpper})
	require.NoError(t, err)
	assert.True(t, second.IsBusy())
	assert.False(t, first.IsBusy(), "old facade no longer receives commands")

	first.ClampLower()
	for _, ev := range log.ofType(EventBusyChanged) {
		assert.Equal(t, second.ID().String(), ev.MachineID, "old facade events are not republished")
	}

	adapter.Detach()
	adapter.Detach()
	assert.Nil(t, adapter.Logic())
	assert.False(t, bus.HasHandler(ActionStopAll))

	_, err = adapter.Dispatch(Command{Action: ActionStopAll})
	assert.ErrorIs(t, err, ErrNoActiveMachine)
}
