package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenTestRig/internal/config"
	"github.com/KevinKickass/OpenTestRig/internal/devices"
	"github.com/KevinKickass/OpenTestRig/internal/dispatch"
	"github.com/KevinKickass/OpenTestRig/internal/machine"
	"github.com/KevinKickass/OpenTestRig/internal/session"
	"github.com/KevinKickass/OpenTestRig/internal/types"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State     string         `json:"state"`
	Profile   string         `json:"profile,omitempty"`
	MachineID string         `json:"machine_id,omitempty"`
	Sample    session.Sample `json:"sample"`
}

type LifecycleManager interface {
	Config() *config.Config
	Profiles() *devices.ProfileLoader
	GetCurrentStatus() SystemStatus
	MachineStatus(ctx context.Context) (machine.MachineStatus, error)
	Dispatch(ctx context.Context, cmd dispatch.Command) (string, error)
	SelectMachine(ctx context.Context, ref string) error
	ConfigureMachine(ctx context.Context, profile *types.MachineProfileDefinition) error
	Shutdown(ctx context.Context) error
}
