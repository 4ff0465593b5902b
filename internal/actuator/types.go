package actuator

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Sign maps a direction onto the rail: Up and Right travel positive.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionUp, DirectionRight:
		return 1
	case DirectionDown, DirectionLeft:
		return -1
	default:
		return 0
	}
}

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction: %q", s)
	}
}

type SpeedTier string

const (
	SpeedSlow SpeedTier = "slow"
	SpeedFast SpeedTier = "fast"
)

func ParseSpeedTier(s string) (SpeedTier, error) {
	switch t := SpeedTier(s); t {
	case SpeedSlow, SpeedFast:
		return t, nil
	default:
		return "", fmt.Errorf("unknown speed tier: %q", s)
	}
}

type MotionMode string

const (
	ModeIdle                 MotionMode = "idle"
	ModeContinuousMoving     MotionMode = "continuous_moving"
	ModeTargetMoving         MotionMode = "target_moving"
	ModeProgrammaticTracking MotionMode = "programmatic_tracking"
)

type ClampState string

const (
	Unclamped ClampState = "unclamped"
	Clamped   ClampState = "clamped"
)

type DoorState string

const (
	DoorsClosed DoorState = "closed"
	DoorsOpen   DoorState = "open"
)

type GripSlot string

const (
	SlotUpper GripSlot = "upper"
	SlotLower GripSlot = "lower"
)

// Moveable is a single-axis actuator. Asynchronous operations are resolved
// by Update, which the owner calls once per tick.
type Moveable interface {
	Position() float64
	Mode() MotionMode
	IsMoving() bool

	SetPositionByDisplacement(d float64)
	MoveContinuously(dir Direction, tier SpeedTier)
	AdjustContinuousSpeed(increase bool)
	MoveTo(target, speed float64, onComplete func())
	Stop()

	Update(dt time.Duration)
}

// GripController drives an upper and a lower clamp. Each request fires its
// callback exactly once: immediately when the slot already is in the
// requested state, otherwise when the animation completes.
type GripController interface {
	ClampUpper(onComplete func())
	UnclampUpper(onComplete func())
	ClampLower(onComplete func())
	UnclampLower(onComplete func())

	UpperState() ClampState
	LowerState() ClampState
	SlotAnimating(slot GripSlot) bool
	IsAnimating() bool

	Update(dt time.Duration)
}

// DoorController opens and closes the protective enclosure.
type DoorController interface {
	OpenDoors(onComplete func())
	CloseDoors(onComplete func())

	State() DoorState
	IsAnimating() bool

	Update(dt time.Duration)
}
