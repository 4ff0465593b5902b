package actuator

import (
	"math"
	"time"
)

// AxisConfig describes a simulated linear axis. Speeds are in mm/s.
type AxisConfig struct {
	StrokeMin    float64
	StrokeMax    float64
	Start        float64
	SlowSpeed    float64
	FastSpeed    float64
	MinSpeed     float64
	MaxSpeed     float64
	SpeedStep    float64
	Acceleration float64 // mm/s², zero means instantaneous
}

// LinearAxis is a simulated Moveable travelling along a bounded rail.
type LinearAxis struct {
	cfg AxisConfig

	position float64
	mode     MotionMode

	dir      Direction
	tier     SpeedTier
	speeds   map[SpeedTier]float64
	velocity float64

	target      float64
	targetSpeed float64
	onComplete  func()

	trackOrigin float64
}

func NewLinearAxis(cfg AxisConfig) *LinearAxis {
	if cfg.StrokeMax < cfg.StrokeMin {
		cfg.StrokeMin, cfg.StrokeMax = cfg.StrokeMax, cfg.StrokeMin
	}
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = math.Max(cfg.FastSpeed, cfg.SlowSpeed)
	}

	a := &LinearAxis{
		cfg:  cfg,
		mode: ModeIdle,
		speeds: map[SpeedTier]float64{
			SpeedSlow: cfg.SlowSpeed,
			SpeedFast: cfg.FastSpeed,
		},
	}
	for tier, s := range a.speeds {
		a.speeds[tier] = a.clampSpeed(s)
	}
	a.position = a.clampPosition(cfg.Start)
	return a
}

func (a *LinearAxis) Position() float64 { return a.position }

func (a *LinearAxis) Mode() MotionMode { return a.mode }

func (a *LinearAxis) IsMoving() bool { return a.mode != ModeIdle }

// Speed returns the current scalar speed of a tier.
func (a *LinearAxis) Speed(tier SpeedTier) float64 { return a.speeds[tier] }

// Velocity returns the signed velocity of continuous motion.
func (a *LinearAxis) Velocity() float64 { return a.velocity }

func (a *LinearAxis) SetPositionByDisplacement(d float64) {
	if a.mode != ModeProgrammaticTracking {
		a.leave()
		a.trackOrigin = a.position
		a.mode = ModeProgrammaticTracking
	}
	a.position = a.clampPosition(a.trackOrigin + d)
}

// MoveContinuously keeps the current velocity when already moving
// continuously so the acceleration ramp is not restarted.
func (a *LinearAxis) MoveContinuously(dir Direction, tier SpeedTier) {
	if a.mode != ModeContinuousMoving {
		a.leave()
		a.mode = ModeContinuousMoving
	}
	a.dir = dir
	a.tier = tier
}

func (a *LinearAxis) AdjustContinuousSpeed(increase bool) {
	if a.mode != ModeContinuousMoving {
		return
	}
	step := a.cfg.SpeedStep
	if !increase {
		step = -step
	}
	a.speeds[a.tier] = a.clampSpeed(a.speeds[a.tier] + step)
}

// MoveTo supersedes any pending target; the previous callback is dropped.
func (a *LinearAxis) MoveTo(target, speed float64, onComplete func()) {
	a.leave()
	if speed <= 0 {
		speed = a.speeds[SpeedFast]
	}
	a.mode = ModeTargetMoving
	a.target = a.clampPosition(target)
	a.targetSpeed = speed
	a.onComplete = onComplete
}

func (a *LinearAxis) Stop() {
	a.leave()
	a.mode = ModeIdle
}

func (a *LinearAxis) Update(dt time.Duration) {
	secs := dt.Seconds()
	if secs <= 0 {
		return
	}

	switch a.mode {
	case ModeContinuousMoving:
		a.updateContinuous(secs)
	case ModeTargetMoving:
		a.updateTarget(secs)
	}
}

func (a *LinearAxis) updateContinuous(secs float64) {
	commanded := a.dir.Sign() * a.speeds[a.tier]
	if a.cfg.Acceleration > 0 {
		delta := a.cfg.Acceleration * secs
		switch {
		case a.velocity < commanded:
			a.velocity = math.Min(a.velocity+delta, commanded)
		case a.velocity > commanded:
			a.velocity = math.Max(a.velocity-delta, commanded)
		}
	} else {
		a.velocity = commanded
	}

	next := a.position + a.velocity*secs
	a.position = a.clampPosition(next)
	if next != a.position {
		// end of stroke
		a.Stop()
	}
}

func (a *LinearAxis) updateTarget(secs float64) {
	step := a.targetSpeed * secs
	remaining := a.target - a.position
	if math.Abs(remaining) > step {
		a.position += math.Copysign(step, remaining)
		return
	}

	a.position = a.target
	a.mode = ModeIdle
	cb := a.onComplete
	a.onComplete = nil
	if cb != nil {
		cb()
	}
}

// leave clears all per-mode state.
func (a *LinearAxis) leave() {
	a.onComplete = nil
	a.velocity = 0
	a.targetSpeed = 0
}

func (a *LinearAxis) clampPosition(p float64) float64 {
	return math.Min(math.Max(p, a.cfg.StrokeMin), a.cfg.StrokeMax)
}

func (a *LinearAxis) clampSpeed(s float64) float64 {
	return math.Min(math.Max(s, a.cfg.MinSpeed), a.cfg.MaxSpeed)
}
