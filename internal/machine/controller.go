package machine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/actuator"
	"github.com/KevinKickass/OpenTestRig/internal/approach"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultApproachSpeed     = 20.0 // mm/s
	DefaultPositionTolerance = 0.01 // mm
)

var ErrMissingDependency = errors.New("missing machine dependency")

// Components are owned exclusively by one Logic for its whole lifetime.
type Components struct {
	Positioner actuator.Moveable
	Loader     actuator.Moveable
	Grips      actuator.GripController
	Doors      actuator.DoorController
	Calculator approach.Calculator
}

// Geometry holds the reference points of a machine configuration, in the
// machine's local frame (mm).
type Geometry struct {
	Axis           r3.Vector
	DrivePoint     r3.Vector
	UndrivePoint   r3.Vector
	TraverseCenter r3.Vector
	Clearance      float64
}

type Settings struct {
	ApproachSpeed        float64
	PositionTolerance    float64
	ExclusiveAxes        bool
	RequirePowerUnit     bool
	RequireSupportSystem bool
	PowerUnitOn          bool
	SupportEngaged       bool
}

// SessionState is read whenever an approach is calculated.
type SessionState interface {
	EffectiveSampleLength() float64
	ClampingLength() float64
}

// Logic is the command surface of one machine configuration. It is not
// safe for concurrent use: commands and OnUpdate must come from a single
// driving loop.
type Logic struct {
	id     uuid.UUID
	logger *zap.Logger

	positioner actuator.Moveable
	loader     actuator.Moveable
	grips      actuator.GripController
	doors      actuator.DoorController
	calc       approach.Calculator
	session    SessionState

	geometry Geometry
	settings Settings

	busy           bool
	ready          bool
	notReadyReason string
	powerOn        bool
	supportEngaged bool

	jogSign         float64
	displacement    float64
	hasDisplacement bool

	clearance *clearanceSequence
	observers []Observer
}

func NewLogic(logger *zap.Logger, c Components, geometry Geometry, settings Settings, session SessionState) (*Logic, error) {
	var missing []string
	if c.Positioner == nil {
		missing = append(missing, "positioner")
	}
	if c.Loader == nil {
		missing = append(missing, "loader")
	}
	if c.Grips == nil {
		missing = append(missing, "grips")
	}
	if c.Doors == nil {
		missing = append(missing, "doors")
	}
	if c.Calculator == nil {
		missing = append(missing, "calculator")
	}
	if session == nil {
		missing = append(missing, "session")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.ApproachSpeed <= 0 {
		settings.ApproachSpeed = DefaultApproachSpeed
	}
	if settings.PositionTolerance <= 0 {
		settings.PositionTolerance = DefaultPositionTolerance
	}
	geometry.Axis = approach.NormalizeAxis(geometry.Axis)

	id := uuid.New()
	l := &Logic{
		id:             id,
		logger:         logger.With(zap.String("machine_id", id.String())),
		positioner:     c.Positioner,
		loader:         c.Loader,
		grips:          c.Grips,
		doors:          c.Doors,
		calc:           c.Calculator,
		session:        session,
		geometry:       geometry,
		settings:       settings,
		powerOn:        settings.PowerUnitOn,
		supportEngaged: settings.SupportEngaged,
	}
	l.ready, l.notReadyReason = l.computeReadiness()
	l.busy = l.computeBusy()

	l.logger.Info("Machine logic created",
		zap.Bool("ready", l.ready),
		zap.Bool("power_unit_on", l.powerOn))

	return l, nil
}

func (l *Logic) ID() uuid.UUID { return l.id }

// ==================== POSITIONER ====================

func (l *Logic) StartManualPositioning(dir actuator.Direction, tier actuator.SpeedTier) {
	if l.rejectIf(l.motionBlocked()) || l.rejectIf(l.positionerConflict()) {
		return
	}

	sign := dir.Sign()
	if sign == 0 {
		l.reject(fmt.Sprintf("unknown direction %q", dir))
		return
	}

	lo, hi := l.DynamicLimits()
	pos := l.positioner.Position()
	tol := l.settings.PositionTolerance
	if sign > 0 && pos >= hi-tol {
		l.reject(fmt.Sprintf("positioner is at its upper travel limit (%.1f mm)", hi))
		return
	}
	if sign < 0 && pos <= lo+tol {
		l.reject(fmt.Sprintf("positioner is at its lower travel limit (%.1f mm)", lo))
		return
	}

	l.jogSign = sign
	l.positioner.MoveContinuously(dir, tier)
	l.logger.Debug("Manual positioning started",
		zap.String("direction", string(dir)),
		zap.String("tier", string(tier)))
	l.recomputeBusy()
}

// StopManualPositioning halts the positioner whatever it is doing and
// cancels a clearance sequence that still needs it.
func (l *Logic) StopManualPositioning() {
	if l.clearance != nil && l.clearance.target != nil {
		l.cancelClearance("positioner stop requested")
	}
	l.positioner.Stop()
	l.jogSign = 0
	l.logger.Debug("Manual positioning stopped", zap.Float64("position", l.positioner.Position()))
	l.recomputeBusy()
}

func (l *Logic) AdjustPositioningSpeed(increase bool) {
	l.positioner.AdjustContinuousSpeed(increase)
}

func (l *Logic) StartAutomaticApproach(target float64) {
	if l.rejectIf(l.motionBlocked()) || l.rejectIf(l.positionerConflict()) {
		return
	}
	if l.positioner.Mode() == actuator.ModeContinuousMoving {
		l.reject("manual positioning in progress")
		return
	}
	if l.computeBusy() {
		l.reject("machine is busy")
		return
	}
	if l.rejectIf(l.checkTarget(target)) {
		return
	}

	l.startApproach(target, nil)
}

// ApproachFor calculates the approach target for action from the machine
// geometry and the current session lengths, then starts an automatic approach.
func (l *Logic) ApproachFor(action approach.ActionType) {
	length := l.session.EffectiveSampleLength()
	if action == approach.ActionInstallSample {
		length = l.session.ClampingLength()
	}
	if length <= 0 {
		l.reject("sample length is not set")
		return
	}
	if action == approach.ActionApproachForTest && !l.ready {
		l.reject("machine is not ready: " + l.notReadyReason)
		return
	}

	target := l.calc.CalculateApproachTargetLocalScalar(approach.Request{
		DrivePoint:      l.geometry.DrivePoint,
		UndrivePoint:    l.geometry.UndrivePoint,
		TraverseCenter:  l.geometry.TraverseCenter,
		EffectiveLength: length,
		Action:          action,
		Axis:            l.geometry.Axis,
	})

	l.logger.Info("Approach target calculated",
		zap.String("action", string(action)),
		zap.Float64("length", length),
		zap.Float64("target", target))

	l.StartAutomaticApproach(target)
}

func (l *Logic) startApproach(target float64, then func()) {
	l.jogSign = 0
	l.positioner.MoveTo(target, l.settings.ApproachSpeed, func() {
		l.logger.Info("Automatic approach completed", zap.Float64("position", l.positioner.Position()))
		if then != nil {
			then()
		}
		l.recomputeBusy()
	})
	l.logger.Info("Automatic approach started",
		zap.Float64("target", target),
		zap.Float64("speed", l.settings.ApproachSpeed))
	l.recomputeBusy()
}

func (l *Logic) checkTarget(target float64) string {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return "approach target is not a finite number"
	}
	lo, hi := l.DynamicLimits()
	tol := l.settings.PositionTolerance
	if target < lo-tol || target > hi+tol {
		return fmt.Sprintf("approach target %.1f mm is outside the travel limits [%.1f, %.1f]", target, lo, hi)
	}
	return ""
}

func (l *Logic) positionerConflict() string {
	if l.clearance != nil && l.clearance.target != nil {
		return "clearance sequence in progress"
	}
	switch l.positioner.Mode() {
	case actuator.ModeTargetMoving:
		return "automatic approach in progress"
	case actuator.ModeProgrammaticTracking:
		return "positioner is following a running test"
	}
	if l.settings.ExclusiveAxes && l.loader.IsMoving() {
		return "loader is moving"
	}
	return ""
}

// DynamicLimits returns the legal positioner band for the current zone.
// The zone is occupied while either grip holds something.
func (l *Logic) DynamicLimits() (float64, float64) {
	zone := approach.ZoneClear
	if l.grips.UpperState() == actuator.Clamped || l.grips.LowerState() == actuator.Clamped {
		zone = approach.ZoneOccupied
	}
	return l.calc.CalculateDynamicLimits(approach.LimitsRequest{
		DrivePoint:     l.geometry.DrivePoint,
		UndrivePoint:   l.geometry.UndrivePoint,
		TraverseCenter: l.geometry.TraverseCenter,
		Axis:           l.geometry.Axis,
		Zone:           zone,
		Clearance:      l.geometry.Clearance,
	})
}

// ==================== LOADER ====================

func (l *Logic) StartManualLoading(dir actuator.Direction, tier actuator.SpeedTier) {
	if l.rejectIf(l.motionBlocked()) || l.rejectIf(l.loaderConflict()) {
		return
	}
	if dir.Sign() == 0 {
		l.reject(fmt.Sprintf("unknown direction %q", dir))
		return
	}

	l.loader.MoveContinuously(dir, tier)
	l.logger.Debug("Manual loading started",
		zap.String("direction", string(dir)),
		zap.String("tier", string(tier)))
	l.recomputeBusy()
}

// StopManualLoading leaves a loader that is driven by a running test alone.
func (l *Logic) StopManualLoading() {
	if l.loader.Mode() == actuator.ModeProgrammaticTracking {
		return
	}
	l.loader.Stop()
	l.logger.Debug("Manual loading stopped", zap.Float64("position", l.loader.Position()))
	l.recomputeBusy()
}

func (l *Logic) AdjustLoadingSpeed(increase bool) {
	l.loader.AdjustContinuousSpeed(increase)
}

func (l *Logic) loaderConflict() string {
	switch l.loader.Mode() {
	case actuator.ModeProgrammaticTracking:
		return "loader is driven by a running test"
	case actuator.ModeTargetMoving:
		return "loader is moving to a target"
	}
	if l.settings.ExclusiveAxes && l.positioner.IsMoving() {
		return "positioner is moving"
	}
	return ""
}

// ApplyProgrammaticDisplacement follows an externally driven test. Manual
// loading is preempted; repeating the same displacement has no effect.
func (l *Logic) ApplyProgrammaticDisplacement(d float64) {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		l.reject("displacement is not a finite number")
		return
	}
	if !l.ready {
		l.reject("machine is not ready: " + l.notReadyReason)
		return
	}
	if l.settings.ExclusiveAxes && l.positioner.IsMoving() {
		l.reject("positioner is moving")
		return
	}

	mode := l.loader.Mode()
	if mode == actuator.ModeProgrammaticTracking && l.hasDisplacement && l.displacement == d {
		return
	}
	if mode == actuator.ModeContinuousMoving || mode == actuator.ModeTargetMoving {
		l.loader.Stop()
		l.logger.Info("Manual loading preempted by running test")
	}

	l.loader.SetPositionByDisplacement(d)
	l.displacement = d
	l.hasDisplacement = true
	l.recomputeBusy()
}

func (l *Logic) EndProgrammaticDisplacement() {
	if l.loader.Mode() == actuator.ModeProgrammaticTracking {
		l.loader.Stop()
		l.logger.Info("Programmatic displacement ended", zap.Float64("position", l.loader.Position()))
	}
	l.hasDisplacement = false
	l.recomputeBusy()
}

// ==================== GRIPS ====================

func (l *Logic) ClampUpper()   { l.grip(actuator.SlotUpper, actuator.Clamped) }
func (l *Logic) UnclampUpper() { l.grip(actuator.SlotUpper, actuator.Unclamped) }
func (l *Logic) ClampLower()   { l.grip(actuator.SlotLower, actuator.Clamped) }
func (l *Logic) UnclampLower() { l.grip(actuator.SlotLower, actuator.Unclamped) }

func (l *Logic) grip(slot actuator.GripSlot, want actuator.ClampState) {
	if l.grips.SlotAnimating(slot) {
		l.reject(fmt.Sprintf("%s grip is already moving", slot))
		return
	}
	if want == actuator.Unclamped && l.loader.Mode() == actuator.ModeProgrammaticTracking {
		l.reject(fmt.Sprintf("cannot unclamp the %s grip while a test is running", slot))
		return
	}
	if want == actuator.Clamped && l.clearance != nil && l.clearance.releases(slot) {
		l.reject(fmt.Sprintf("cannot clamp the %s grip during a clearance sequence", slot))
		return
	}

	done := func() {
		l.logger.Debug("Grip operation completed",
			zap.String("slot", string(slot)),
			zap.String("state", string(want)))
		l.recomputeBusy()
	}

	switch {
	case slot == actuator.SlotUpper && want == actuator.Clamped:
		l.grips.ClampUpper(done)
	case slot == actuator.SlotUpper:
		l.grips.UnclampUpper(done)
	case want == actuator.Clamped:
		l.grips.ClampLower(done)
	default:
		l.grips.UnclampLower(done)
	}
	l.recomputeBusy()
}

// ==================== DOORS ====================

func (l *Logic) OpenDoors()  { l.door(actuator.DoorsOpen) }
func (l *Logic) CloseDoors() { l.door(actuator.DoorsClosed) }

func (l *Logic) door(want actuator.DoorState) {
	if l.doors.IsAnimating() {
		l.reject("doors are moving")
		return
	}
	if l.clearance != nil {
		l.reject("clearance sequence in progress")
		return
	}

	done := func() {
		l.logger.Debug("Door operation completed", zap.String("state", string(want)))
		l.recomputeBusy()
	}

	if want == actuator.DoorsOpen {
		l.doors.OpenDoors(done)
	} else {
		l.doors.CloseDoors(done)
	}
	l.recomputeBusy()
}

// ==================== EXTERNAL STATE ====================

func (l *Logic) SetSupportSystemState(engaged bool) {
	if engaged == l.supportEngaged {
		return
	}
	l.supportEngaged = engaged
	l.logger.Info("Support system state changed", zap.Bool("engaged", engaged))
	l.recomputeReadiness()
}

// SetPowerUnitState switches the power unit. Switching it off stops all
// motion when the machine needs power to move.
func (l *Logic) SetPowerUnitState(on bool) {
	if on == l.powerOn {
		return
	}
	l.powerOn = on
	l.logger.Info("Power unit state changed", zap.Bool("on", on))
	l.notify(func(o Observer) { o.PowerUnitStateChanged(on) })

	if !on && l.settings.RequirePowerUnit {
		l.haltMotion("power unit switched off")
	}
	l.recomputeReadiness()
	l.recomputeBusy()
}

// StopAll halts positioner and loader and cancels any clearance sequence.
func (l *Logic) StopAll() {
	l.haltMotion("stop requested")
	l.recomputeBusy()
}

func (l *Logic) haltMotion(reason string) {
	l.cancelClearance(reason)
	l.positioner.Stop()
	l.loader.Stop()
	l.jogSign = 0
	l.hasDisplacement = false
	l.logger.Info("Motion halted", zap.String("reason", reason))
}

// ==================== TICK ====================

// OnUpdate advances every actuator by dt. Completion callbacks fire from
// inside this call.
func (l *Logic) OnUpdate(dt time.Duration) {
	l.positioner.Update(dt)
	l.loader.Update(dt)
	l.grips.Update(dt)
	l.doors.Update(dt)

	l.resumeClearance()
	l.enforceLimits()
	l.recomputeBusy()
}

func (l *Logic) enforceLimits() {
	if l.positioner.Mode() != actuator.ModeContinuousMoving || l.jogSign == 0 {
		return
	}
	lo, hi := l.DynamicLimits()
	pos := l.positioner.Position()
	limit := hi
	if l.jogSign < 0 {
		limit = lo
	}
	if (l.jogSign > 0 && pos < hi) || (l.jogSign < 0 && pos > lo) {
		return
	}

	l.positioner.Stop()
	l.jogSign = 0
	l.logger.Info("Positioner reached travel limit",
		zap.Float64("position", pos),
		zap.Float64("min", lo),
		zap.Float64("max", hi))

	// a tick can carry the jog past the limit; move back onto it
	if math.Abs(pos-limit) > l.settings.PositionTolerance {
		l.positioner.MoveTo(limit, l.settings.ApproachSpeed, func() {
			l.logger.Debug("Positioner returned to travel limit", zap.Float64("position", l.positioner.Position()))
			l.recomputeBusy()
		})
	}
}

// overshoot returns how far the positioner sits outside [lo, hi].
func (l *Logic) overshoot(lo, hi float64) float64 {
	pos := l.positioner.Position()
	switch {
	case pos > hi+l.settings.PositionTolerance:
		return pos - hi
	case pos < lo-l.settings.PositionTolerance:
		return lo - pos
	}
	return 0
}

// ==================== AGGREGATES ====================

func (l *Logic) computeBusy() bool {
	return l.positioner.IsMoving() ||
		l.loader.IsMoving() ||
		l.grips.IsAnimating() ||
		l.doors.IsAnimating()
}

func (l *Logic) recomputeBusy() {
	busy := l.computeBusy()
	if busy == l.busy {
		return
	}
	l.busy = busy
	l.logger.Debug("Busy state changed", zap.Bool("busy", busy))
	l.notify(func(o Observer) { o.BusyStateChanged(busy) })
}

func (l *Logic) computeReadiness() (bool, string) {
	if l.settings.RequirePowerUnit && !l.powerOn {
		return false, "power unit is off"
	}
	if l.settings.RequireSupportSystem && !l.supportEngaged {
		return false, "support system is not engaged"
	}
	return true, ""
}

func (l *Logic) recomputeReadiness() {
	ready, reason := l.computeReadiness()
	if ready == l.ready && reason == l.notReadyReason {
		return
	}
	l.ready, l.notReadyReason = ready, reason
	l.logger.Info("Ready state changed",
		zap.Bool("ready", ready),
		zap.String("reason", reason))
	l.notify(func(o Observer) { o.ReadyStateChanged() })
}

func (l *Logic) motionBlocked() string {
	if l.settings.RequirePowerUnit && !l.powerOn {
		return "power unit is off"
	}
	return ""
}

func (l *Logic) reject(reason string) {
	l.logger.Warn("Action rejected", zap.String("reason", reason))
	l.notify(func(o Observer) { o.ActionRejected(reason) })
}

// rejectIf raises a rejection for a non-empty reason and reports whether it did.
func (l *Logic) rejectIf(reason string) bool {
	if reason == "" {
		return false
	}
	l.reject(reason)
	return true
}

// ==================== ACCESSORS ====================

func (l *Logic) IsBusy() bool { return l.busy }

func (l *Logic) IsReady() bool { return l.ready }

func (l *Logic) NotReadyReason() string { return l.notReadyReason }

func (l *Logic) PowerUnitOn() bool { return l.powerOn }

func (l *Logic) SupportEngaged() bool { return l.supportEngaged }

func (l *Logic) UpperClampState() actuator.ClampState { return l.grips.UpperState() }

func (l *Logic) LowerClampState() actuator.ClampState { return l.grips.LowerState() }

func (l *Logic) DoorState() actuator.DoorState { return l.doors.State() }

func (l *Logic) LoaderPosition() float64 { return l.loader.Position() }

func (l *Logic) PositionerFrame() Frame {
	pos := l.positioner.Position()
	return Frame{
		Origin:   l.geometry.TraverseCenter,
		Axis:     l.geometry.Axis,
		Position: pos,
		World:    l.geometry.TraverseCenter.Add(l.geometry.Axis.Mul(pos)),
	}
}

func (l *Logic) Status() MachineStatus {
	lo, hi := l.DynamicLimits()
	return MachineStatus{
		ID:             l.id.String(),
		Busy:           l.busy,
		Ready:          l.ready,
		NotReadyReason: l.notReadyReason,
		PowerUnitOn:    l.powerOn,
		SupportEngaged: l.supportEngaged,
		Positioner:     AxisStatus{Position: l.positioner.Position(), Mode: l.positioner.Mode()},
		Loader:         AxisStatus{Position: l.loader.Position(), Mode: l.loader.Mode()},
		Limits:         Limits{Min: lo, Max: hi, Overshoot: l.overshoot(lo, hi)},
		UpperClamp:     l.grips.UpperState(),
		LowerClamp:     l.grips.LowerState(),
		Doors:          l.doors.State(),
		Clearance:      l.Clearance(),
	}
}
