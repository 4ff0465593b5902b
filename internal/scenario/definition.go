package scenario

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/dispatch"
	"github.com/KevinKickass/OpenTestRig/internal/session"
	"gopkg.in/yaml.v3"
)

const (
	defaultTickInterval = 20 * time.Millisecond
	defaultMaxTicks     = 10000
)

// Scenario is a scripted sequence of commands and simulated time, run
// offline against a machine built from a profile.
type Scenario struct {
	Name         string          `yaml:"name"`
	Description  string          `yaml:"description,omitempty"`
	Profile      string          `yaml:"profile"`
	TickInterval Duration        `yaml:"tick_interval,omitempty"`
	Sample       *session.Sample `yaml:"sample,omitempty"`
	Steps        []Step          `yaml:"steps"`
}

// Step does exactly one of: dispatch a command, advance a number of ticks,
// advance simulated time, or tick until a condition holds.
type Step struct {
	Name    string            `yaml:"name,omitempty"`
	Command *dispatch.Command `yaml:"command,omitempty"`
	Ticks   int               `yaml:"ticks,omitempty"`
	Wait    Duration          `yaml:"wait,omitempty"`
	Until   Condition         `yaml:"until,omitempty"`

	// MaxTicks bounds Until.
	MaxTicks int           `yaml:"max_ticks,omitempty"`
	Expect   *Expectation  `yaml:"expect,omitempty"`
	OnError  ErrorStrategy `yaml:"on_error,omitempty"`
}

type Condition string

const (
	ConditionIdle     Condition = "idle"
	ConditionBusy     Condition = "busy"
	ConditionReady    Condition = "ready"
	ConditionNotReady Condition = "not_ready"
)

type ErrorStrategy string

const (
	ErrorStrategyFail     ErrorStrategy = "fail"
	ErrorStrategyContinue ErrorStrategy = "continue"
)

// Expectation is checked after a step. Unset fields are not checked.
type Expectation struct {
	Accepted           *bool    `yaml:"accepted,omitempty"`
	RejectionContains  string   `yaml:"rejection_contains,omitempty"`
	Busy               *bool    `yaml:"busy,omitempty"`
	Ready              *bool    `yaml:"ready,omitempty"`
	PositionerPosition *float64 `yaml:"positioner_position,omitempty"`
	LoaderPosition     *float64 `yaml:"loader_position,omitempty"`
	Doors              string   `yaml:"doors,omitempty"`
	UpperClamp         string   `yaml:"upper_clamp,omitempty"`
	LowerClamp         string   `yaml:"lower_clamp,omitempty"`
	Tolerance          float64  `yaml:"tolerance,omitempty"`
}

// Duration is a wrapper around time.Duration that parses strings like "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(data)
}

func (sc *Scenario) Validate() error {
	var errs []error
	if sc.Profile == "" {
		errs = append(errs, errors.New("profile is required"))
	}
	if sc.TickInterval.Duration < 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	if sc.Sample != nil {
		if err := sc.Sample.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sample: %w", err))
		}
	}
	if len(sc.Steps) == 0 {
		errs = append(errs, errors.New("at least one step is required"))
	}
	for i := range sc.Steps {
		if err := sc.Steps[i].validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, sc.Steps[i].label(i), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid scenario %q: %w", sc.Name, errors.Join(errs...))
	}
	return nil
}

func (s *Step) validate() error {
	kinds := 0
	if s.Command != nil {
		kinds++
		if s.Command.Action == "" {
			return errors.New("command.action is required")
		}
	}
	if s.Ticks != 0 {
		kinds++
		if s.Ticks < 0 {
			return errors.New("ticks must be positive")
		}
	}
	if s.Wait.Duration != 0 {
		kinds++
		if s.Wait.Duration < 0 {
			return errors.New("wait must be positive")
		}
	}
	if s.Until != "" {
		kinds++
		switch s.Until {
		case ConditionIdle, ConditionBusy, ConditionReady, ConditionNotReady:
		default:
			return fmt.Errorf("unknown condition %q", s.Until)
		}
	}
	if kinds != 1 {
		return errors.New("exactly one of command, ticks, wait or until is required")
	}

	switch s.OnError {
	case "", ErrorStrategyFail, ErrorStrategyContinue:
	default:
		return fmt.Errorf("unknown on_error strategy %q", s.OnError)
	}
	if s.MaxTicks < 0 {
		return errors.New("max_ticks must be positive")
	}
	return nil
}

func (s *Step) label(index int) string {
	if s.Name != "" {
		return s.Name
	}
	switch {
	case s.Command != nil:
		return string(s.Command.Action)
	case s.Until != "":
		return "until " + string(s.Until)
	default:
		return fmt.Sprintf("step-%d", index)
	}
}

func (sc *Scenario) tickInterval() time.Duration {
	if sc.TickInterval.Duration > 0 {
		return sc.TickInterval.Duration
	}
	return defaultTickInterval
}
