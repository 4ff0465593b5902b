package scenario

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/devices"
	"github.com/KevinKickass/OpenTestRig/internal/dispatch"
	"github.com/KevinKickass/OpenTestRig/internal/machine"
	"github.com/KevinKickass/OpenTestRig/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const (
	defaultRequester = "scenario"
	defaultTolerance = 1e-6
)

// RecordedEvent is a facade event stamped with the tick and step it was
// raised in. Step is -1 for events raised while attaching the machine.
type RecordedEvent struct {
	Tick int                `json:"tick"`
	Step int                `json:"step"`
	Type dispatch.EventType `json:"type"`
	Data interface{}        `json:"data"`
}

type StepResult struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Rejection string `json:"rejection,omitempty"`
	Ticks     int    `json:"ticks"`
	Error     string `json:"error,omitempty"`
}

type Result struct {
	ID            string                `json:"id"`
	Scenario      string                `json:"scenario"`
	Profile       string                `json:"profile"`
	MachineID     string                `json:"machine_id"`
	Status        Status                `json:"status"`
	Ticks         int                   `json:"ticks"`
	SimulatedTime string                `json:"simulated_time"`
	Steps         []StepResult          `json:"steps"`
	Events        []RecordedEvent       `json:"events"`
	Final         machine.MachineStatus `json:"final"`
}

// EventsOf returns the recorded events of the given type.
func (r *Result) EventsOf(typ dispatch.EventType) []RecordedEvent {
	var out []RecordedEvent
	for _, e := range r.Events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Runner executes scenarios with simulated time; no wall clock is involved.
type Runner struct {
	manager *devices.Manager
	logger  *zap.Logger
}

func NewRunner(manager *devices.Manager, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{manager: manager, logger: logger}
}

type execution struct {
	logic    *machine.Logic
	adapter  *dispatch.Adapter
	interval time.Duration
	result   *Result
	step     int
}

// Run builds a fresh machine from the scenario's profile and executes every
// step in order. A failing step stops the run unless its on_error is
// "continue". The returned error is reserved for scenarios that cannot run.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	var sample session.Sample
	if sc.Sample != nil {
		sample = *sc.Sample
	}
	monitor := session.NewMonitor(sample)

	logic, _, err := r.manager.Build(sc.Profile, monitor)
	if err != nil {
		return nil, fmt.Errorf("failed to build machine: %w", err)
	}

	exec := &execution{
		logic:    logic,
		interval: sc.tickInterval(),
		step:     -1,
		result: &Result{
			ID:        uuid.New().String(),
			Scenario:  sc.Name,
			Profile:   sc.Profile,
			MachineID: logic.ID().String(),
			Status:    StatusRunning,
			Steps:     make([]StepResult, 0, len(sc.Steps)),
			Events:    make([]RecordedEvent, 0),
		},
	}
	exec.adapter = dispatch.NewAdapter(r.logger, nil, dispatch.PublisherFunc(exec.record))
	exec.adapter.Attach(logic, monitor)
	defer exec.adapter.Detach()

	r.logger.Info("Scenario started",
		zap.String("scenario", sc.Name),
		zap.String("execution_id", exec.result.ID),
		zap.String("profile", sc.Profile),
		zap.Int("steps", len(sc.Steps)))

	failed := false
	for i := range sc.Steps {
		if ctx.Err() != nil {
			exec.result.Status = StatusCancelled
			break
		}

		step := &sc.Steps[i]
		exec.step = i
		sr := exec.runStep(ctx, i, step)
		exec.result.Steps = append(exec.result.Steps, sr)

		if sr.Status == StatusCancelled {
			exec.result.Status = StatusCancelled
			break
		}
		if sr.Status == StatusFailed {
			failed = true
			r.logger.Warn("Scenario step failed",
				zap.Int("step_index", i),
				zap.String("step_name", sr.Name),
				zap.String("error", sr.Error))
			if step.OnError != ErrorStrategyContinue {
				break
			}
		}
	}

	if exec.result.Status == StatusRunning {
		exec.result.Status = StatusSuccess
		if failed {
			exec.result.Status = StatusFailed
		}
	}
	exec.result.SimulatedTime = (time.Duration(exec.result.Ticks) * exec.interval).String()
	exec.result.Final = logic.Status()

	r.logger.Info("Scenario finished",
		zap.String("scenario", sc.Name),
		zap.String("execution_id", exec.result.ID),
		zap.String("status", string(exec.result.Status)),
		zap.Int("ticks", exec.result.Ticks))

	return exec.result, nil
}

func (e *execution) record(event dispatch.Event) {
	e.result.Events = append(e.result.Events, RecordedEvent{
		Tick: e.result.Ticks,
		Step: e.step,
		Type: event.Type,
		Data: event.Data,
	})
}

func (e *execution) tick(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.logic.OnUpdate(e.interval)
		e.result.Ticks++
	}
	return nil
}

func (e *execution) runStep(ctx context.Context, index int, step *Step) StepResult {
	sr := StepResult{Index: index, Name: step.label(index), Status: StatusSuccess}
	startTicks := e.result.Ticks

	var err error
	switch {
	case step.Command != nil:
		err = e.runCommand(step, &sr)

	case step.Ticks > 0:
		err = e.tick(ctx, step.Ticks)

	case step.Wait.Duration > 0:
		n := int(math.Ceil(float64(step.Wait.Duration) / float64(e.interval)))
		err = e.tick(ctx, n)

	case step.Until != "":
		err = e.tickUntil(ctx, step.Until, step.MaxTicks)
	}

	sr.Ticks = e.result.Ticks - startTicks

	if err == nil && step.Expect != nil {
		err = e.check(step.Expect, step.Command != nil, sr.Rejection)
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sr.Status = StatusCancelled
		sr.Error = err.Error()
	default:
		sr.Status = StatusFailed
		sr.Error = err.Error()
	}
	return sr
}

// runCommand expects the command to be accepted unless the step says
// otherwise.
func (e *execution) runCommand(step *Step, sr *StepResult) error {
	cmd := *step.Command
	if cmd.Requester == "" {
		cmd.Requester = defaultRequester
	}

	rejection, err := e.adapter.Dispatch(cmd)
	if err != nil {
		return err
	}
	sr.Rejection = rejection

	expectsOutcome := step.Expect != nil && (step.Expect.Accepted != nil || step.Expect.RejectionContains != "")
	if rejection != "" && !expectsOutcome {
		return fmt.Errorf("command rejected: %s", rejection)
	}
	return nil
}

func (e *execution) tickUntil(ctx context.Context, cond Condition, maxTicks int) error {
	if maxTicks == 0 {
		maxTicks = defaultMaxTicks
	}
	for n := 0; ; n++ {
		if e.holds(cond) {
			return nil
		}
		if n == maxTicks {
			return fmt.Errorf("condition %s not reached after %d ticks", cond, maxTicks)
		}
		if err := e.tick(ctx, 1); err != nil {
			return err
		}
	}
}

func (e *execution) holds(cond Condition) bool {
	switch cond {
	case ConditionIdle:
		return !e.logic.IsBusy()
	case ConditionBusy:
		return e.logic.IsBusy()
	case ConditionReady:
		return e.logic.IsReady()
	case ConditionNotReady:
		return !e.logic.IsReady()
	default:
		return false
	}
}

func (e *execution) check(exp *Expectation, isCommand bool, rejection string) error {
	status := e.logic.Status()
	tol := exp.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}

	var errs []error
	if exp.Accepted != nil {
		if !isCommand {
			errs = append(errs, errors.New("accepted can only be expected of a command"))
		} else if accepted := rejection == ""; accepted != *exp.Accepted {
			errs = append(errs, fmt.Errorf("expected accepted=%t, got rejection %q", *exp.Accepted, rejection))
		}
	}
	if exp.RejectionContains != "" && !strings.Contains(rejection, exp.RejectionContains) {
		errs = append(errs, fmt.Errorf("expected rejection containing %q, got %q", exp.RejectionContains, rejection))
	}
	if exp.Busy != nil && status.Busy != *exp.Busy {
		errs = append(errs, fmt.Errorf("expected busy=%t", *exp.Busy))
	}
	if exp.Ready != nil && status.Ready != *exp.Ready {
		errs = append(errs, fmt.Errorf("expected ready=%t (%s)", *exp.Ready, status.NotReadyReason))
	}
	if exp.PositionerPosition != nil && math.Abs(status.Positioner.Position-*exp.PositionerPosition) > tol {
		errs = append(errs, fmt.Errorf("expected positioner at %.3f, got %.3f", *exp.PositionerPosition, status.Positioner.Position))
	}
	if exp.LoaderPosition != nil && math.Abs(status.Loader.Position-*exp.LoaderPosition) > tol {
		errs = append(errs, fmt.Errorf("expected loader at %.3f, got %.3f", *exp.LoaderPosition, status.Loader.Position))
	}
	if exp.Doors != "" && string(status.Doors) != exp.Doors {
		errs = append(errs, fmt.Errorf("expected doors %s, got %s", exp.Doors, status.Doors))
	}
	if exp.UpperClamp != "" && string(status.UpperClamp) != exp.UpperClamp {
		errs = append(errs, fmt.Errorf("expected upper grip %s, got %s", exp.UpperClamp, status.UpperClamp))
	}
	if exp.LowerClamp != "" && string(status.LowerClamp) != exp.LowerClamp {
		errs = append(errs, fmt.Errorf("expected lower grip %s, got %s", exp.LowerClamp, status.LowerClamp))
	}
	return errors.Join(errs...)
}
