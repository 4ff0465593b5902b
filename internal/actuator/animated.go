package actuator

import "time"

// transition is a binary state that takes a fixed time to flip.
type transition[S comparable] struct {
	state      S
	target     S
	animating  bool
	remaining  time.Duration
	onComplete func()
}

// request starts a transition towards want. It reports false and does
// nothing while a transition is already running.
func (t *transition[S]) request(want S, duration time.Duration, onComplete func()) bool {
	if t.animating {
		return false
	}
	if t.state == want {
		if onComplete != nil {
			onComplete()
		}
		return true
	}

	t.animating = true
	t.target = want
	t.remaining = duration
	t.onComplete = onComplete
	return true
}

func (t *transition[S]) advance(dt time.Duration) {
	if !t.animating {
		return
	}
	t.remaining -= dt
	if t.remaining > 0 {
		return
	}

	t.state = t.target
	t.animating = false
	t.remaining = 0
	cb := t.onComplete
	t.onComplete = nil
	if cb != nil {
		cb()
	}
}

type GripConfig struct {
	ClampDuration time.Duration
	Upper         ClampState
	Lower         ClampState
}

// GripPair is a simulated GripController. Requests on a slot that is
// already animating are ignored.
type GripPair struct {
	duration time.Duration
	upper    transition[ClampState]
	lower    transition[ClampState]
}

func NewGripPair(cfg GripConfig) *GripPair {
	g := &GripPair{duration: cfg.ClampDuration}
	g.upper.state = orUnclamped(cfg.Upper)
	g.lower.state = orUnclamped(cfg.Lower)
	return g
}

func orUnclamped(s ClampState) ClampState {
	if s == "" {
		return Unclamped
	}
	return s
}

func (g *GripPair) ClampUpper(onComplete func())   { g.upper.request(Clamped, g.duration, onComplete) }
func (g *GripPair) UnclampUpper(onComplete func()) { g.upper.request(Unclamped, g.duration, onComplete) }
func (g *GripPair) ClampLower(onComplete func())   { g.lower.request(Clamped, g.duration, onComplete) }
func (g *GripPair) UnclampLower(onComplete func()) { g.lower.request(Unclamped, g.duration, onComplete) }

func (g *GripPair) UpperState() ClampState { return g.upper.state }
func (g *GripPair) LowerState() ClampState { return g.lower.state }

func (g *GripPair) SlotAnimating(slot GripSlot) bool {
	switch slot {
	case SlotUpper:
		return g.upper.animating
	case SlotLower:
		return g.lower.animating
	}
	return false
}

func (g *GripPair) IsAnimating() bool { return g.upper.animating || g.lower.animating }

// Update advances only the slots that were animating when the tick began,
// so an animation started from a completion callback waits for the next tick.
func (g *GripPair) Update(dt time.Duration) {
	upper, lower := g.upper.animating, g.lower.animating
	if upper {
		g.upper.advance(dt)
	}
	if lower {
		g.lower.advance(dt)
	}
}

type DoorConfig struct {
	Duration time.Duration
	Open     bool
}

// DoorPair is a simulated DoorController.
type DoorPair struct {
	duration time.Duration
	doors    transition[DoorState]
}

func NewDoorPair(cfg DoorConfig) *DoorPair {
	d := &DoorPair{duration: cfg.Duration}
	d.doors.state = DoorsClosed
	if cfg.Open {
		d.doors.state = DoorsOpen
	}
	return d
}

func (d *DoorPair) OpenDoors(onComplete func())  { d.doors.request(DoorsOpen, d.duration, onComplete) }
func (d *DoorPair) CloseDoors(onComplete func()) { d.doors.request(DoorsClosed, d.duration, onComplete) }

func (d *DoorPair) State() DoorState { return d.doors.state }

func (d *DoorPair) IsAnimating() bool { return d.doors.animating }

func (d *DoorPair) Update(dt time.Duration) { d.doors.advance(dt) }
