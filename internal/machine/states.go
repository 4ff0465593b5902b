package machine

import (
	"fmt"

	"github.com/KevinKickass/OpenTestRig/internal/actuator"
	"github.com/golang/geo/r3"
)

type TestType string

const (
	TestTensile       TestType = "tensile"
	TestCompression   TestType = "compression"
	TestFlexure       TestType = "flexure"
	TestServiceAccess TestType = "service_access"
)

// clearanceNeeds lists what has to be cleared before a fixture for the
// test type can be installed.
type clearanceNeeds struct {
	doors        bool
	unclampUpper bool
	unclampLower bool
}

var testTypeNeeds = map[TestType]clearanceNeeds{
	TestTensile:       {doors: true, unclampUpper: true, unclampLower: true},
	TestCompression:   {doors: true, unclampUpper: true, unclampLower: true},
	TestFlexure:       {doors: true, unclampUpper: true},
	TestServiceAccess: {doors: true},
}

func ParseTestType(s string) (TestType, error) {
	t := TestType(s)
	if _, ok := testTypeNeeds[t]; !ok {
		return "", fmt.Errorf("unknown test type: %q", s)
	}
	return t, nil
}

type ClearanceStep string

const (
	StepOpenDoors    ClearanceStep = "open_doors"
	StepUnclampUpper ClearanceStep = "unclamp_upper"
	StepUnclampLower ClearanceStep = "unclamp_lower"
	StepApproach     ClearanceStep = "approach"
	StepDone         ClearanceStep = "done"
)

var clearanceSteps = []ClearanceStep{
	StepOpenDoors,
	StepUnclampUpper,
	StepUnclampLower,
	StepApproach,
	StepDone,
}

// Frame is the positioner's reference frame: the local scalar position
// along the rail and the matching world point.
type Frame struct {
	Origin   r3.Vector `json:"origin"`
	Axis     r3.Vector `json:"axis"`
	Position float64   `json:"position"`
	World    r3.Vector `json:"world"`
}

type AxisStatus struct {
	Position float64             `json:"position"`
	Mode     actuator.MotionMode `json:"mode"`
}

// Limits is the legal positioner band. Overshoot is how far the positioner
// sits outside it, e.g. after a clamp narrowed the band.
type Limits struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Overshoot float64 `json:"overshoot,omitempty"`
}

type ClearanceStatus struct {
	ID        string        `json:"id"`
	TestType  TestType      `json:"test_type"`
	Requester string        `json:"requester,omitempty"`
	Step      ClearanceStep `json:"step"`
	Waiting   bool          `json:"waiting,omitempty"`
	Target    *float64      `json:"target,omitempty"`
}

type MachineStatus struct {
	ID             string              `json:"id"`
	Busy           bool                `json:"busy"`
	Ready          bool                `json:"ready"`
	NotReadyReason string              `json:"not_ready_reason,omitempty"`
	PowerUnitOn    bool                `json:"power_unit_on"`
	SupportEngaged bool                `json:"support_engaged"`
	Positioner     AxisStatus          `json:"positioner"`
	Loader         AxisStatus          `json:"loader"`
	Limits         Limits              `json:"limits"`
	UpperClamp     actuator.ClampState `json:"upper_clamp"`
	LowerClamp     actuator.ClampState `json:"lower_clamp"`
	Doors          actuator.DoorState  `json:"doors"`
	Clearance      *ClearanceStatus    `json:"clearance,omitempty"`
}
