package devices

import (
	"fmt"

	"github.com/KevinKickass/OpenTestRig/internal/machine"
	"github.com/KevinKickass/OpenTestRig/internal/types"
	"go.uber.org/zap"
)

// Manager turns profile references into ready-to-drive machine facades.
type Manager struct {
	loader   *ProfileLoader
	composer *Composer
	logger   *zap.Logger
}

func NewManager(searchPaths []string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loader, err := NewProfileLoader(searchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	return &Manager{
		loader:   loader,
		composer: NewComposer(logger),
		logger:   logger,
	}, nil
}

func (m *Manager) Loader() *ProfileLoader { return m.loader }

// Build loads ref and creates a facade reading session for sample lengths.
func (m *Manager) Build(ref string, session machine.SessionState) (*machine.Logic, *types.MachineProfileDefinition, error) {
	profile, err := m.loader.Load(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load profile %s: %w", ref, err)
	}

	logic, err := m.BuildFromProfile(profile, session)
	if err != nil {
		return nil, nil, err
	}
	return logic, profile, nil
}

// BuildFromProfile validates an in-memory profile before composing it.
func (m *Manager) BuildFromProfile(profile *types.MachineProfileDefinition, session machine.SessionState) (*machine.Logic, error) {
	if err := m.loader.Validator().ValidateProfileDefinition(profile); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.MachineProfile.ID, err)
	}

	comp, err := m.composer.Compose(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to compose machine: %w: %w", ErrInvalidProfile, err)
	}

	logic, err := machine.NewLogic(m.logger, comp.Components, comp.Geometry, comp.Settings, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create machine logic: %w: %w", ErrInvalidProfile, err)
	}

	m.logger.Info("Machine built",
		zap.String("profile_id", profile.MachineProfile.ID),
		zap.String("machine_id", logic.ID().String()))

	return logic, nil
}
