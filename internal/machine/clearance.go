package machine

import (
	"math"

	"github.com/KevinKickass/OpenTestRig/internal/actuator"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type clearanceSequence struct {
	id        uuid.UUID
	testType  TestType
	needs     clearanceNeeds
	target    *float64
	requester string
	index     int

	// the current step waits for an animation it did not start
	settling bool
}

func (s *clearanceSequence) step() ClearanceStep {
	if s.index < 0 {
		return ""
	}
	return clearanceSteps[s.index]
}

// releases reports whether the sequence has to leave slot unclamped.
func (s *clearanceSequence) releases(slot actuator.GripSlot) bool {
	if slot == actuator.SlotUpper {
		return s.needs.unclampUpper
	}
	return s.needs.unclampLower
}

// EnsureClearance prepares the machine for installing a fixture: open the
// doors, release the grips the test type does not use, then approach
// targetLocalZ when given. Steps already satisfied are skipped. A running
// sequence is superseded; only its in-flight step is stopped and completed
// steps are kept.
func (l *Logic) EnsureClearance(testType TestType, targetLocalZ *float64, requester string) {
	needs, ok := testTypeNeeds[testType]
	if !ok {
		l.reject("unknown test type " + string(testType))
		return
	}
	if needs.doors && l.doors.IsAnimating() {
		l.reject("doors are moving")
		return
	}
	if needs.unclampUpper && l.grips.SlotAnimating(actuator.SlotUpper) {
		l.reject("upper grip is already moving")
		return
	}
	if needs.unclampLower && l.grips.SlotAnimating(actuator.SlotLower) {
		l.reject("lower grip is already moving")
		return
	}
	if (needs.unclampUpper || needs.unclampLower) && l.loader.Mode() == actuator.ModeProgrammaticTracking {
		l.reject("cannot release the grips while a test is running")
		return
	}

	var target *float64
	if targetLocalZ != nil {
		if l.rejectIf(l.motionBlocked()) || l.rejectIf(l.clearancePositionerConflict()) || l.rejectIf(l.checkTarget(*targetLocalZ)) {
			return
		}
		z := *targetLocalZ
		target = &z
	}

	l.cancelClearance("superseded by a new clearance request")

	seq := &clearanceSequence{
		id:        uuid.New(),
		testType:  testType,
		needs:     needs,
		target:    target,
		requester: requester,
		index:     -1,
	}
	l.clearance = seq

	l.logger.Info("Clearance sequence started",
		zap.String("sequence_id", seq.id.String()),
		zap.String("test_type", string(testType)),
		zap.String("requester", requester),
		zap.Bool("approach", target != nil))

	l.advanceClearance(seq)
}

// clearancePositionerConflict ignores the approach of a sequence that is
// about to be superseded.
func (l *Logic) clearancePositionerConflict() string {
	switch l.positioner.Mode() {
	case actuator.ModeTargetMoving:
		if l.clearance == nil || l.clearance.step() != StepApproach {
			return "automatic approach in progress"
		}
	case actuator.ModeContinuousMoving:
		return "manual positioning in progress"
	case actuator.ModeProgrammaticTracking:
		return "positioner is following a running test"
	}
	if l.settings.ExclusiveAxes && l.loader.IsMoving() {
		return "loader is moving"
	}
	return ""
}

func (l *Logic) advanceClearance(seq *clearanceSequence) {
	for l.clearance == seq {
		seq.index++
		if l.runClearanceStep(seq) {
			break
		}
	}
	l.recomputeBusy()
}

// runClearanceStep acts on the current step of seq. It reports false when
// the step is already satisfied and the sequence can move on. A step whose
// actuator is still animating from another command does not act: its state
// is not settled yet, and a request on an animating actuator is dropped.
// OnUpdate re-runs such a step once the animation has finished.
func (l *Logic) runClearanceStep(seq *clearanceSequence) bool {
	wasSettling := seq.settling
	seq.settling = false
	step := seq.step()

	switch step {
	case StepOpenDoors:
		if !seq.needs.doors {
			return false
		}
		if l.doors.IsAnimating() {
			return l.settleClearance(seq, wasSettling)
		}
		if l.doors.State() == actuator.DoorsOpen {
			return false
		}
		l.logClearanceStep(seq)
		l.doors.OpenDoors(l.clearanceCallback(seq, step))

	case StepUnclampUpper, StepUnclampLower:
		slot, state, unclamp := actuator.SlotUpper, l.grips.UpperState(), l.grips.UnclampUpper
		if step == StepUnclampLower {
			slot, state, unclamp = actuator.SlotLower, l.grips.LowerState(), l.grips.UnclampLower
		}
		if !seq.releases(slot) {
			return false
		}
		if l.grips.SlotAnimating(slot) {
			return l.settleClearance(seq, wasSettling)
		}
		if state == actuator.Unclamped {
			return false
		}
		l.logClearanceStep(seq)
		unclamp(l.clearanceCallback(seq, step))

	case StepApproach:
		if seq.target == nil || math.Abs(l.positioner.Position()-*seq.target) <= l.settings.PositionTolerance {
			return false
		}
		l.logClearanceStep(seq)
		l.startApproach(*seq.target, l.clearanceCallback(seq, step))

	case StepDone:
		l.clearance = nil
		l.logger.Info("Clearance sequence completed",
			zap.String("sequence_id", seq.id.String()),
			zap.String("requester", seq.requester))
	}
	return true
}

func (l *Logic) settleClearance(seq *clearanceSequence, wasSettling bool) bool {
	seq.settling = true
	if !wasSettling {
		l.logger.Debug("Clearance step waiting for actuator",
			zap.String("sequence_id", seq.id.String()),
			zap.String("step", string(seq.step())))
	}
	return true
}

// resumeClearance re-runs a step that was waiting for an animation to end.
func (l *Logic) resumeClearance() {
	seq := l.clearance
	if seq == nil || !seq.settling {
		return
	}
	if !l.runClearanceStep(seq) {
		l.advanceClearance(seq)
	}
}

// clearanceCallback advances seq only while it is still active and still
// waiting on step. The next step starts before busy is recomputed so the
// aggregate does not flap between steps.
func (l *Logic) clearanceCallback(seq *clearanceSequence, step ClearanceStep) func() {
	return func() {
		if l.clearance != seq || seq.step() != step {
			l.recomputeBusy()
			return
		}
		l.advanceClearance(seq)
	}
}

func (l *Logic) logClearanceStep(seq *clearanceSequence) {
	l.logger.Debug("Clearance step started",
		zap.String("sequence_id", seq.id.String()),
		zap.String("step", string(seq.step())))
}

// cancelClearance drops the active sequence. An in-flight approach is
// stopped; door and grip animations run to completion on their own.
func (l *Logic) cancelClearance(reason string) {
	seq := l.clearance
	if seq == nil {
		return
	}
	l.clearance = nil

	if seq.step() == StepApproach && l.positioner.Mode() == actuator.ModeTargetMoving {
		l.positioner.Stop()
	}

	l.logger.Info("Clearance sequence cancelled",
		zap.String("sequence_id", seq.id.String()),
		zap.String("step", string(seq.step())),
		zap.String("reason", reason))
}

// Clearance returns the active clearance sequence, or nil.
func (l *Logic) Clearance() *ClearanceStatus {
	seq := l.clearance
	if seq == nil {
		return nil
	}
	return &ClearanceStatus{
		ID:        seq.id.String(),
		TestType:  seq.testType,
		Requester: seq.requester,
		Step:      seq.step(),
		Waiting:   seq.settling,
		Target:    seq.target,
	}
}
