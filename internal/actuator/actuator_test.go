package actuator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 100 * time.Millisecond

func newAxis() *LinearAxis {
	return NewLinearAxis(AxisConfig{
		StrokeMin: 0,
		StrokeMax: 1000,
		Start:     100,
		SlowSpeed: 10,
		FastSpeed: 50,
		MinSpeed:  5,
		MaxSpeed:  60,
		SpeedStep: 5,
	})
}

func activeModes(a *LinearAxis) int {
	n := 0
	for _, m := range []MotionMode{ModeContinuousMoving, ModeTargetMoving, ModeProgrammaticTracking} {
		if a.Mode() == m {
			n++
		}
	}
	return n
}

func TestDirection_Sign(t *testing.T) {
	assert.Equal(t, 1.0, DirectionUp.Sign())
	assert.Equal(t, 1.0, DirectionRight.Sign())
	assert.Equal(t, -1.0, DirectionDown.Sign())
	assert.Equal(t, -1.0, DirectionLeft.Sign())
	assert.Equal(t, 0.0, Direction("sideways").Sign())

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
	d, err := ParseDirection("left")
	require.NoError(t, err)
	assert.Equal(t, DirectionLeft, d)
}

func TestLinearAxis_ContinuousMotion(t *testing.T) {
	a := newAxis()
	a.MoveContinuously(DirectionUp, SpeedSlow)
	a.Update(time.Second)
	assert.InDelta(t, 110, a.Position(), 1e-9)

	a.MoveContinuously(DirectionDown, SpeedFast)
	a.Update(time.Second)
	assert.InDelta(t, 60, a.Position(), 1e-9)
	assert.Equal(t, ModeContinuousMoving, a.Mode())
}

func TestLinearAxis_RepeatedMoveKeepsRamp(t *testing.T) {
	a := NewLinearAxis(AxisConfig{StrokeMax: 1000, SlowSpeed: 10, FastSpeed: 40, MaxSpeed: 40, Acceleration: 20})
	a.MoveContinuously(DirectionUp, SpeedFast)
	a.Update(time.Second)
	require.InDelta(t, 20, a.Velocity(), 1e-9)

	a.MoveContinuously(DirectionUp, SpeedFast)
	a.Update(time.Second)
	assert.InDelta(t, 40, a.Velocity(), 1e-9)
}

func TestLinearAxis_StopsAtStrokeEnd(t *testing.T) {
	a := newAxis()
	a.MoveContinuously(DirectionDown, SpeedFast)
	a.Update(10 * time.Second)
	assert.Equal(t, 0.0, a.Position())
	assert.Equal(t, ModeIdle, a.Mode())
}

func TestLinearAxis_AdjustSpeed(t *testing.T) {
	a := newAxis()
	a.AdjustContinuousSpeed(true)
	assert.Equal(t, 10.0, a.Speed(SpeedSlow), "no-op while idle")

	a.MoveContinuously(DirectionUp, SpeedFast)
	a.AdjustContinuousSpeed(true)
	a.AdjustContinuousSpeed(true)
	a.AdjustContinuousSpeed(true)
	assert.Equal(t, 60.0, a.Speed(SpeedFast), "clamped to max")
	assert.Equal(t, SpeedFast, a.tier, "tier unchanged")

	a.MoveContinuously(DirectionUp, SpeedSlow)
	a.AdjustContinuousSpeed(false)
	a.AdjustContinuousSpeed(false)
	assert.Equal(t, 5.0, a.Speed(SpeedSlow), "clamped to min")
}

func TestLinearAxis_MoveToCompletesOnce(t *testing.T) {
	a := newAxis()
	calls := 0
	a.MoveTo(130, 20, func() { calls++ })
	assert.Equal(t, ModeTargetMoving, a.Mode())

	a.Update(time.Second)
	assert.Equal(t, 0, calls)
	a.Update(time.Second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 130.0, a.Position())
	assert.Equal(t, ModeIdle, a.Mode())

	a.Update(time.Second)
	assert.Equal(t, 1, calls)
}

func TestLinearAxis_StopDiscardsCallback(t *testing.T) {
	a := newAxis()
	called := false
	a.MoveTo(105, 50, func() { called = true })
	a.Stop()
	a.Update(time.Second)
	assert.False(t, called)
	assert.Equal(t, ModeIdle, a.Mode())
}

func TestLinearAxis_SupersededMoveToDropsFirstCallback(t *testing.T) {
	a := newAxis()
	first, second := 0, 0
	a.MoveTo(200, 50, func() { first++ })
	a.MoveTo(110, 50, func() { second++ })
	a.Update(5 * time.Second)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestLinearAxis_ProgrammaticTracking(t *testing.T) {
	a := newAxis()
	a.MoveContinuously(DirectionUp, SpeedSlow)
	a.SetPositionByDisplacement(5)
	assert.Equal(t, ModeProgrammaticTracking, a.Mode())
	assert.Equal(t, 105.0, a.Position())

	a.SetPositionByDisplacement(12)
	assert.Equal(t, 112.0, a.Position(), "relative to tracking origin")
	a.Update(time.Second)
	assert.Equal(t, 112.0, a.Position())
}

func TestLinearAxis_ModesAreExclusive(t *testing.T) {
	a := newAxis()
	ops := []func(){
		func() { a.MoveContinuously(DirectionUp, SpeedFast) },
		func() { a.MoveTo(500, 10, nil) },
		func() { a.SetPositionByDisplacement(3) },
		func() { a.MoveContinuously(DirectionDown, SpeedSlow) },
		func() { a.Stop() },
		func() { a.SetPositionByDisplacement(1) },
		func() { a.MoveTo(50, 10, nil) },
	}
	for _, op := range ops {
		op()
		a.Update(tick)
		assert.LessOrEqual(t, activeModes(a), 1)
	}
}

func TestGripPair_AlreadyInStateCallsBackImmediately(t *testing.T) {
	g := NewGripPair(GripConfig{ClampDuration: time.Second, Upper: Clamped})
	called := 0
	g.ClampUpper(func() { called++ })
	assert.Equal(t, 1, called)
	assert.False(t, g.IsAnimating())
}

func TestGripPair_Animation(t *testing.T) {
	g := NewGripPair(GripConfig{ClampDuration: 300 * time.Millisecond})
	called := 0
	g.ClampLower(func() { called++ })
	assert.True(t, g.SlotAnimating(SlotLower))
	assert.False(t, g.SlotAnimating(SlotUpper))
	assert.True(t, g.IsAnimating())

	g.UnclampLower(func() { called += 10 })
	for i := 0; i < 3; i++ {
		g.Update(tick)
	}
	assert.Equal(t, 1, called, "request on animating slot ignored")
	assert.Equal(t, Clamped, g.LowerState())
	assert.False(t, g.IsAnimating())
}

func TestGripPair_CallbackStartedAnimationWaitsForNextTick(t *testing.T) {
	g := NewGripPair(GripConfig{ClampDuration: tick})
	lowerDone := false
	g.ClampUpper(func() {
		g.ClampLower(func() { lowerDone = true })
	})
	g.Update(tick)
	assert.Equal(t, Clamped, g.UpperState())
	assert.True(t, g.SlotAnimating(SlotLower))
	assert.False(t, lowerDone)

	g.Update(tick)
	assert.True(t, lowerDone)
}

func TestDoorPair(t *testing.T) {
	d := NewDoorPair(DoorConfig{Duration: 200 * time.Millisecond})
	assert.Equal(t, DoorsClosed, d.State())

	opened := 0
	d.OpenDoors(func() { opened++ })
	d.Update(tick)
	assert.True(t, d.IsAnimating())
	assert.Equal(t, DoorsClosed, d.State())
	d.Update(tick)
	assert.Equal(t, DoorsOpen, d.State())
	assert.Equal(t, 1, opened)

	d.OpenDoors(func() { opened++ })
	assert.Equal(t, 2, opened)
	assert.False(t, d.IsAnimating())
}
