package devices

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/OpenTestRig/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/machine-profile-v1.json
var machineProfileSchemaJSON string

// ErrInvalidProfile marks profiles that fail validation or cannot be composed.
var ErrInvalidProfile = errors.New("invalid profile")

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("machine-profile-v1.json",
		strings.NewReader(machineProfileSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("machine-profile-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

func (v *Validator) ValidateProfile(data []byte) error {
	var profile interface{}
	if err := json.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrInvalidProfile, err)
	}

	if err := v.schema.Validate(profile); err != nil {
		return fmt.Errorf("%w: schema validation failed: %w", ErrInvalidProfile, err)
	}

	return nil
}

// ValidateProfileDefinition checks a profile built in code, e.g. from a
// configure request.
func (v *Validator) ValidateProfileDefinition(profile *types.MachineProfileDefinition) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	return v.ValidateProfile(data)
}
