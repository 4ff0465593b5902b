package devices

import (
	"fmt"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/actuator"
	"github.com/KevinKickass/OpenTestRig/internal/approach"
	"github.com/KevinKickass/OpenTestRig/internal/machine"
	"github.com/KevinKickass/OpenTestRig/internal/types"
	"go.uber.org/zap"
)

// Composition is everything machine.NewLogic needs apart from the session.
type Composition struct {
	Components machine.Components
	Geometry   machine.Geometry
	Settings   machine.Settings
}

type Composer struct {
	logger *zap.Logger
}

func NewComposer(logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{logger: logger}
}

// Compose builds simulated actuators and the approach calculator for profile.
func (c *Composer) Compose(profile *types.MachineProfileDefinition) (*Composition, error) {
	info := profile.MachineProfile
	c.logger.Info("Composing machine",
		zap.String("profile_id", info.ID),
		zap.String("vendor", info.Vendor),
		zap.String("model", info.Model))

	calc, err := approach.Lookup(profile.Logic.Calculator)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", info.ID, err)
	}

	upper, err := clampState(profile.Grips.Upper)
	if err != nil {
		return nil, fmt.Errorf("profile %s: upper grip: %w", info.ID, err)
	}
	lower, err := clampState(profile.Grips.Lower)
	if err != nil {
		return nil, fmt.Errorf("profile %s: lower grip: %w", info.ID, err)
	}

	comp := &Composition{
		Components: machine.Components{
			Positioner: actuator.NewLinearAxis(axisConfig(profile.Positioner)),
			Loader:     actuator.NewLinearAxis(axisConfig(profile.Loader)),
			Grips: actuator.NewGripPair(actuator.GripConfig{
				ClampDuration: time.Duration(profile.Grips.ClampDurationMs) * time.Millisecond,
				Upper:         upper,
				Lower:         lower,
			}),
			Doors: actuator.NewDoorPair(actuator.DoorConfig{
				Duration: time.Duration(profile.Doors.DurationMs) * time.Millisecond,
				Open:     profile.Doors.Open,
			}),
			Calculator: calc,
		},
		Geometry: machine.Geometry{
			Axis:           profile.Geometry.Axis.R3(),
			DrivePoint:     profile.Geometry.DrivePoint.R3(),
			UndrivePoint:   profile.Geometry.UndrivePoint.R3(),
			TraverseCenter: profile.Geometry.TraverseCenter.R3(),
			Clearance:      profile.Geometry.ClearanceMm,
		},
		Settings: machine.Settings{
			ApproachSpeed:        profile.Logic.ApproachSpeed,
			PositionTolerance:    profile.Logic.PositionTolerance,
			ExclusiveAxes:        profile.Logic.ExclusiveAxes,
			RequirePowerUnit:     profile.Logic.RequirePowerUnit,
			RequireSupportSystem: profile.Logic.RequireSupportSystem,
			PowerUnitOn:          profile.Logic.PowerUnitOn,
			SupportEngaged:       profile.Logic.SupportEngaged,
		},
	}

	c.logger.Debug("Machine composition complete",
		zap.String("profile_id", info.ID),
		zap.Float64("stroke_max", profile.Positioner.StrokeMax),
		zap.Float64("clearance", profile.Geometry.ClearanceMm))

	return comp, nil
}

func axisConfig(p types.AxisProfile) actuator.AxisConfig {
	return actuator.AxisConfig{
		StrokeMin:    p.StrokeMin,
		StrokeMax:    p.StrokeMax,
		Start:        p.Start,
		SlowSpeed:    p.SlowSpeed,
		FastSpeed:    p.FastSpeed,
		MinSpeed:     p.MinSpeed,
		MaxSpeed:     p.MaxSpeed,
		SpeedStep:    p.SpeedStep,
		Acceleration: p.Acceleration,
	}
}

func clampState(s string) (actuator.ClampState, error) {
	switch actuator.ClampState(s) {
	case "", actuator.Unclamped:
		return actuator.Unclamped, nil
	case actuator.Clamped:
		return actuator.Clamped, nil
	default:
		return "", fmt.Errorf("unknown clamp state %q", s)
	}
}
