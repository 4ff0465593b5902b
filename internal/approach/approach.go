package approach

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
)

// ActionType selects which side of the reference midpoint an approach lands on.
type ActionType string

const (
	ActionInstallSample   ActionType = "install_sample"
	ActionApproachForTest ActionType = "approach_for_test"
)

// Zone describes whether the working space between the reference points is occupied.
type Zone string

const (
	ZoneClear    Zone = "clear"
	ZoneOccupied Zone = "occupied"
)

var ErrUnknownCalculator = errors.New("unknown calculator")

// Request is consumed once by a Calculator. All points are in the machine's local frame, in mm.
type Request struct {
	DrivePoint      r3.Vector
	UndrivePoint    r3.Vector
	TraverseCenter  r3.Vector
	EffectiveLength float64
	Action          ActionType
	Axis            r3.Vector
}

// LimitsRequest carries the inputs of a dynamic travel band computation.
type LimitsRequest struct {
	DrivePoint     r3.Vector
	UndrivePoint   r3.Vector
	TraverseCenter r3.Vector
	Axis           r3.Vector
	Zone           Zone
	Clearance      float64
}

// Calculator is the per machine model calculation contract.
type Calculator interface {
	CalculateApproachTargetLocalScalar(req Request) float64
	CalculateDynamicLimits(req LimitsRequest) (min, max float64)
}

// Standard projects both reference points onto the rail and offsets the
// midpoint by half of the effective length. Installing lands below the
// midpoint (mid - L/2), approaching for a test lands above it (mid + L/2).
type Standard struct{}

func (Standard) CalculateApproachTargetLocalScalar(req Request) float64 {
	axis := NormalizeAxis(req.Axis)

	mid := (req.DrivePoint.Dot(axis) + req.UndrivePoint.Dot(axis)) / 2
	half := req.EffectiveLength / 2

	target := mid - half
	if req.Action == ActionApproachForTest {
		target = mid + half
	}

	return target - req.TraverseCenter.Dot(axis)
}

// CalculateDynamicLimits returns the band spanned by both reference points.
// An occupied zone pulls the undrive end inward by the clearance. When the
// clearance eats the whole band it collapses onto the drive point.
func (Standard) CalculateDynamicLimits(req LimitsRequest) (float64, float64) {
	axis := NormalizeAxis(req.Axis)

	drive := req.DrivePoint.Dot(axis)
	undrive := req.UndrivePoint.Dot(axis)
	lo, hi := drive, undrive
	if lo > hi {
		lo, hi = hi, lo
	}

	if req.Zone == ZoneOccupied && req.Clearance > 0 {
		if undrive >= drive {
			hi -= req.Clearance
		} else {
			lo += req.Clearance
		}
		if lo > hi {
			lo, hi = drive, drive
		}
	}

	center := req.TraverseCenter.Dot(axis)
	return lo - center, hi - center
}

// NormalizeAxis returns a unit vector along axis, falling back to +Z for a zero axis.
func NormalizeAxis(axis r3.Vector) r3.Vector {
	if axis.Norm2() == 0 {
		return r3.Vector{Z: 1}
	}
	return axis.Normalize()
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Calculator{
		"standard": func() Calculator { return Standard{} },
	}
)

// Register makes a calculator available to machine profiles under name.
func Register(name string, factory func() Calculator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Lookup returns a new calculator registered under name.
func Lookup(name string) (Calculator, error) {
	if name == "" {
		name = "standard"
	}

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCalculator, name)
	}
	return factory(), nil
}

// Names lists the registered calculators in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
