package dispatch

import (
	"errors"

	"github.com/KevinKickass/OpenTestRig/internal/actuator"
	"github.com/KevinKickass/OpenTestRig/internal/machine"
	"github.com/KevinKickass/OpenTestRig/internal/session"
)

type handlers struct {
	adapter *Adapter
	logic   *machine.Logic
	monitor *session.Monitor
}

func (h *handlers) table() map[Action]Handler {
	l := h.logic
	return map[Action]Handler{
		ActionStartManualPositioning: h.jog(l.StartManualPositioning),
		ActionStopManualPositioning:  func(Command) { l.StopManualPositioning() },
		ActionAdjustPositioningSpeed: func(cmd Command) { l.AdjustPositioningSpeed(cmd.Increase) },
		ActionStartAutomaticApproach: h.startAutomaticApproach,
		ActionApproach:               h.approach,

		ActionStartManualLoading: h.jog(l.StartManualLoading),
		ActionStopManualLoading:  func(Command) { l.StopManualLoading() },
		ActionAdjustLoadingSpeed: func(cmd Command) { l.AdjustLoadingSpeed(cmd.Increase) },
		ActionApplyDisplacement:  h.applyDisplacement,
		ActionEndDisplacement:    func(Command) { l.EndProgrammaticDisplacement() },

		ActionClampUpper:   func(Command) { l.ClampUpper() },
		ActionUnclampUpper: func(Command) { l.UnclampUpper() },
		ActionClampLower:   func(Command) { l.ClampLower() },
		ActionUnclampLower: func(Command) { l.UnclampLower() },

		ActionOpenDoors:  func(Command) { l.OpenDoors() },
		ActionCloseDoors: func(Command) { l.CloseDoors() },

		ActionEnsureClearance:  h.ensureClearance,
		ActionSetSupportSystem: h.toggle(l.SetSupportSystemState),
		ActionSetPowerUnit:     h.toggle(l.SetPowerUnitState),
		ActionStopAll:          func(Command) { l.StopAll() },
		ActionSetSample:        h.setSample,
	}
}

func (h *handlers) invalid(err error) {
	h.adapter.invalid(h.logic, err)
}

func (h *handlers) jog(start func(actuator.Direction, actuator.SpeedTier)) Handler {
	return func(cmd Command) {
		dir, err := ParseDirection(cmd.Direction)
		if err != nil {
			h.invalid(err)
			return
		}
		tier, err := ParseSpeedTier(cmd.Tier)
		if err != nil {
			h.invalid(err)
			return
		}
		start(dir, tier)
	}
}

func (h *handlers) toggle(set func(bool)) Handler {
	return func(cmd Command) {
		if cmd.Enabled == nil {
			h.invalid(errors.New("enabled is required"))
			return
		}
		set(*cmd.Enabled)
	}
}

func (h *handlers) startAutomaticApproach(cmd Command) {
	if cmd.Target == nil {
		h.invalid(errors.New("target is required"))
		return
	}
	h.logic.StartAutomaticApproach(*cmd.Target)
}

func (h *handlers) approach(cmd Command) {
	purpose, err := ParseActionType(cmd.Purpose)
	if err != nil {
		h.invalid(err)
		return
	}
	h.logic.ApproachFor(purpose)
}

func (h *handlers) applyDisplacement(cmd Command) {
	if cmd.Displacement == nil {
		h.invalid(errors.New("displacement is required"))
		return
	}
	h.logic.ApplyProgrammaticDisplacement(*cmd.Displacement)
}

func (h *handlers) ensureClearance(cmd Command) {
	testType, err := ParseTestType(cmd.TestType)
	if err != nil {
		h.invalid(err)
		return
	}
	h.logic.EnsureClearance(testType, cmd.Target, cmd.Requester)
}

func (h *handlers) setSample(cmd Command) {
	if h.monitor == nil {
		h.invalid(errors.New("no session is active"))
		return
	}
	if cmd.Sample == nil {
		h.invalid(errors.New("sample is required"))
		return
	}
	if err := h.monitor.SetSample(*cmd.Sample); err != nil {
		h.invalid(err)
	}
}
