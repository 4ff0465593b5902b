package types

import "github.com/golang/geo/r3"

type MachineProfileDefinition struct {
	MachineProfile MachineProfileInfo `json:"machine_profile"`
	Geometry       GeometryConfig     `json:"geometry"`
	Positioner     AxisProfile        `json:"positioner"`
	Loader         AxisProfile        `json:"loader"`
	Grips          GripProfile        `json:"grips"`
	Doors          DoorProfile        `json:"doors"`
	Logic          LogicProfile       `json:"logic"`
}

type MachineProfileInfo struct {
	ID          string `json:"id"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// Vector3 is a point or direction in the machine's local frame, in mm.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) R3() r3.Vector { return r3.Vector{X: v.X, Y: v.Y, Z: v.Z} }

type GeometryConfig struct {
	Axis           Vector3 `json:"axis"`
	DrivePoint     Vector3 `json:"drive_point"`
	UndrivePoint   Vector3 `json:"undrive_point"`
	TraverseCenter Vector3 `json:"traverse_center"`
	ClearanceMm    float64 `json:"clearance_mm"`
}

// AxisProfile configures a simulated linear axis. Speeds in mm/s.
type AxisProfile struct {
	StrokeMin    float64 `json:"stroke_min"`
	StrokeMax    float64 `json:"stroke_max"`
	Start        float64 `json:"start"`
	SlowSpeed    float64 `json:"slow_speed"`
	FastSpeed    float64 `json:"fast_speed"`
	MinSpeed     float64 `json:"min_speed,omitempty"`
	MaxSpeed     float64 `json:"max_speed,omitempty"`
	SpeedStep    float64 `json:"speed_step,omitempty"`
	Acceleration float64 `json:"acceleration,omitempty"`
}

type GripProfile struct {
	ClampDurationMs int    `json:"clamp_duration_ms"`
	Upper           string `json:"upper,omitempty"`
	Lower           string `json:"lower,omitempty"`
}

type DoorProfile struct {
	DurationMs int  `json:"duration_ms"`
	Open       bool `json:"open,omitempty"`
}

type LogicProfile struct {
	Calculator           string  `json:"calculator,omitempty"`
	ApproachSpeed        float64 `json:"approach_speed,omitempty"`
	PositionTolerance    float64 `json:"position_tolerance,omitempty"`
	ExclusiveAxes        bool    `json:"exclusive_axes,omitempty"`
	RequirePowerUnit     bool    `json:"require_power_unit,omitempty"`
	RequireSupportSystem bool    `json:"require_support_system,omitempty"`
	PowerUnitOn          bool    `json:"power_unit_on,omitempty"`
	SupportEngaged       bool    `json:"support_engaged,omitempty"`
}
