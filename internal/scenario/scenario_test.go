package scenario

import (
	"context"
	"testing"

	"github.com/KevinKickass/OpenTestRig/internal/devices"
	"github.com/KevinKickass/OpenTestRig/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRunner(t *testing.T) *Runner {
	t.Helper()
	manager, err := devices.NewManager([]string{"../devices/testdata/vendors"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return NewRunner(manager, zaptest.NewLogger(t))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no profile", "name: x\nsteps:\n  - ticks: 1\n", "profile is required"},
		{"no steps", "profile: acme/ut50\n", "at least one step is required"},
		{"two kinds", "profile: acme/ut50\nsteps:\n  - ticks: 1\n    until: idle\n", "exactly one of"},
		{"empty step", "profile: acme/ut50\nsteps:\n  - name: nothing\n", "exactly one of"},
		{"bad condition", "profile: acme/ut50\nsteps:\n  - until: forever\n", "unknown condition"},
		{"bad duration", "profile: acme/ut50\nsteps:\n  - wait: soon\n", "invalid duration"},
		{"bad strategy", "profile: acme/ut50\nsteps:\n  - ticks: 1\n    on_error: retry\n", "unknown on_error strategy"},
		{"bad sample", "profile: acme/ut50\nsample:\n  effective_length: -5\nsteps:\n  - ticks: 1\n", "sample"},
		{"no action", "profile: acme/ut50\nsteps:\n  - command:\n      target: 5\n", "command.action is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	sc, err := Load("testdata/install.yaml")
	require.NoError(t, err)
	assert.Equal(t, "install sample", sc.Name)
	assert.Equal(t, "20ms", sc.TickInterval.String())
	require.NotNil(t, sc.Sample)
	assert.Equal(t, 20.0, sc.Sample.ClampingLength)
	require.Len(t, sc.Steps, 7)
	assert.Equal(t, dispatch.ActionEnsureClearance, sc.Steps[0].Command.Action)
	assert.Equal(t, ConditionIdle, sc.Steps[1].Until)
	assert.Equal(t, "1s", sc.Steps[6].Wait.String())

	_, err = Load("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestRunner_InstallScenario(t *testing.T) {
	sc, err := Load("testdata/install.yaml")
	require.NoError(t, err)

	result, err := newRunner(t).Run(context.Background(), sc)
	require.NoError(t, err)

	for _, step := range result.Steps {
		assert.Equal(t, StatusSuccess, step.Status, "%s: %s", step.Name, step.Error)
	}
	require.Equal(t, StatusSuccess, result.Status)
	assert.Len(t, result.Steps, 7)
	assert.InDelta(t, 290.0, result.Final.Positioner.Position, 1e-3)
	assert.Equal(t, "automatic approach in progress", result.Steps[3].Rejection)
	assert.Equal(t, 50, result.Steps[6].Ticks)

	configured := result.EventsOf(dispatch.EventMachineConfigured)
	require.Len(t, configured, 1)
	assert.Equal(t, -1, configured[0].Step)

	rejected := result.EventsOf(dispatch.EventActionRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, 3, rejected[0].Step)

	busy := result.EventsOf(dispatch.EventBusyChanged)
	require.NotEmpty(t, busy)
	assert.Equal(t, dispatch.BusyData{Busy: true}, busy[0].Data)
	assert.Equal(t, dispatch.BusyData{Busy: false}, busy[len(busy)-1].Data)
	assert.Len(t, busy, 6, "clearance, approach and clamp each toggle busy once")
}

func TestRunner_FailingScenario(t *testing.T) {
	sc, err := Load("testdata/failing.yaml")
	require.NoError(t, err)

	result, err := newRunner(t).Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.Steps, 2, "the run stops at the first failing step without on_error: continue")
	assert.Equal(t, StatusFailed, result.Steps[0].Status)
	assert.Contains(t, result.Steps[0].Error, "expected ready=true")
	assert.Equal(t, StatusFailed, result.Steps[1].Status)
	assert.Contains(t, result.Steps[1].Error, "command rejected")
	assert.Zero(t, result.Ticks)
}

func TestRunner_Cancelled(t *testing.T) {
	sc, err := Parse([]byte("profile: acme/ut50\nsteps:\n  - ticks: 100\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newRunner(t).Run(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
	assert.Empty(t, result.Steps)
}

func TestRunner_UnknownProfile(t *testing.T) {
	sc, err := Parse([]byte("profile: acme/nope\nsteps:\n  - ticks: 1\n"))
	require.NoError(t, err)

	_, err = newRunner(t).Run(context.Background(), sc)
	assert.ErrorIs(t, err, devices.ErrProfileNotFound)
}

func TestRunner_UntilTimesOut(t *testing.T) {
	sc, err := Parse([]byte("profile: acme/ut50\nsteps:\n  - until: busy\n    max_ticks: 5\n"))
	require.NoError(t, err)

	result, err := newRunner(t).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 5, result.Ticks)
	assert.Contains(t, result.Steps[0].Error, "condition busy not reached after 5 ticks")
}
