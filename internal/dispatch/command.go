package dispatch

import (
	"fmt"

	"github.com/KevinKickass/OpenTestRig/internal/actuator"
	"github.com/KevinKickass/OpenTestRig/internal/approach"
	"github.com/KevinKickass/OpenTestRig/internal/machine"
	"github.com/KevinKickass/OpenTestRig/internal/session"
)

type Action string

const (
	ActionStartManualPositioning Action = "start_manual_positioning"
	ActionStopManualPositioning  Action = "stop_manual_positioning"
	ActionAdjustPositioningSpeed Action = "adjust_positioning_speed"
	ActionStartAutomaticApproach Action = "start_automatic_approach"
	ActionApproach               Action = "approach"

	ActionStartManualLoading Action = "start_manual_loading"
	ActionStopManualLoading  Action = "stop_manual_loading"
	ActionAdjustLoadingSpeed Action = "adjust_loading_speed"
	ActionApplyDisplacement  Action = "apply_displacement"
	ActionEndDisplacement    Action = "end_displacement"

	ActionClampUpper   Action = "clamp_upper"
	ActionUnclampUpper Action = "unclamp_upper"
	ActionClampLower   Action = "clamp_lower"
	ActionUnclampLower Action = "unclamp_lower"

	ActionOpenDoors  Action = "open_doors"
	ActionCloseDoors Action = "close_doors"

	ActionEnsureClearance  Action = "ensure_clearance"
	ActionSetSupportSystem Action = "set_support_system"
	ActionSetPowerUnit     Action = "set_power_unit"
	ActionStopAll          Action = "stop_all"
	ActionSetSample        Action = "set_sample"
)

// Command is one decoded request from a UI or automation client. Only the
// fields the action needs are read.
type Command struct {
	Action       Action          `json:"action" yaml:"action" binding:"required"`
	Direction    string          `json:"direction,omitempty" yaml:"direction,omitempty"`
	Tier         string          `json:"tier,omitempty" yaml:"tier,omitempty"`
	Increase     bool            `json:"increase,omitempty" yaml:"increase,omitempty"`
	Target       *float64        `json:"target,omitempty" yaml:"target,omitempty"`
	Displacement *float64        `json:"displacement,omitempty" yaml:"displacement,omitempty"`
	TestType     string          `json:"test_type,omitempty" yaml:"test_type,omitempty"`
	Purpose      string          `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Sample       *session.Sample `json:"sample,omitempty" yaml:"sample,omitempty"`
	Requester    string          `json:"requester,omitempty" yaml:"requester,omitempty"`
}

func ParseDirection(s string) (actuator.Direction, error) {
	return actuator.ParseDirection(s)
}

// ParseSpeedTier defaults an empty tier to slow.
func ParseSpeedTier(s string) (actuator.SpeedTier, error) {
	if s == "" {
		return actuator.SpeedSlow, nil
	}
	return actuator.ParseSpeedTier(s)
}

func ParseTestType(s string) (machine.TestType, error) {
	return machine.ParseTestType(s)
}

func ParseActionType(s string) (approach.ActionType, error) {
	switch a := approach.ActionType(s); a {
	case approach.ActionInstallSample, approach.ActionApproachForTest:
		return a, nil
	default:
		return "", fmt.Errorf("unknown approach purpose: %q", s)
	}
}

// Actions lists every action the adapter registers a handler for.
func Actions() []Action {
	return []Action{
		ActionStartManualPositioning, ActionStopManualPositioning, ActionAdjustPositioningSpeed,
		ActionStartAutomaticApproach, ActionApproach,
		ActionStartManualLoading, ActionStopManualLoading, ActionAdjustLoadingSpeed,
		ActionApplyDisplacement, ActionEndDisplacement,
		ActionClampUpper, ActionUnclampUpper, ActionClampLower, ActionUnclampLower,
		ActionOpenDoors, ActionCloseDoors,
		ActionEnsureClearance, ActionSetSupportSystem, ActionSetPowerUnit, ActionStopAll,
		ActionSetSample,
	}
}
