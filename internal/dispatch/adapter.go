package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenTestRig/internal/machine"
	"github.com/KevinKickass/OpenTestRig/internal/session"
	"go.uber.org/zap"
)

var ErrNoActiveMachine = errors.New("no active machine")

// Adapter binds the active facade to the command bus and republishes its
// events. Dispatch and the facade's tick must run on the same goroutine.
type Adapter struct {
	logger *zap.Logger
	bus    *Bus

	mu          sync.RWMutex
	publishers  []EventPublisher
	logic       *machine.Logic
	observer    *machine.ObserverFuncs
	unsubscribe []func()

	current    *Command
	rejections []string
}

func NewAdapter(logger *zap.Logger, bus *Bus, publishers ...EventPublisher) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = NewBus()
	}
	return &Adapter{
		logger:     logger,
		bus:        bus,
		publishers: publishers,
	}
}

// Logic returns the attached facade, or nil.
func (a *Adapter) Logic() *machine.Logic {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logic
}

// Attach makes logic the active facade. A previously attached facade is
// detached first.
func (a *Adapter) Attach(logic *machine.Logic, monitor *session.Monitor) {
	a.Detach()

	observer := &machine.ObserverFuncs{
		OnBusy: func(busy bool) {
			a.publish(logic, EventBusyChanged, BusyData{Busy: busy})
		},
		OnReady: func() {
			a.publish(logic, EventReadyChanged, ReadyData{Ready: logic.IsReady(), Reason: logic.NotReadyReason()})
		},
		OnRejected: func(reason string) {
			a.rejected(logic, reason)
		},
		OnPower: func(on bool) {
			a.publish(logic, EventPowerStateChanged, PowerData{On: on})
		},
	}
	logic.RegisterObserver(observer)

	h := &handlers{adapter: a, logic: logic, monitor: monitor}
	var unsubscribe []func()
	for action, handler := range h.table() {
		unsubscribe = append(unsubscribe, a.bus.Subscribe(action, handler))
	}

	a.mu.Lock()
	a.logic = logic
	a.observer = observer
	a.unsubscribe = unsubscribe
	a.mu.Unlock()

	a.logger.Info("Machine attached", zap.String("machine_id", logic.ID().String()))
	a.publish(logic, EventMachineConfigured, logic.Status())
}

// Detach unregisters every handler and the event observer of the active
// facade. It is a no-op when nothing is attached.
func (a *Adapter) Detach() {
	a.mu.Lock()
	logic, observer, unsubscribe := a.logic, a.observer, a.unsubscribe
	a.logic, a.observer, a.unsubscribe = nil, nil, nil
	a.mu.Unlock()

	if logic == nil {
		return
	}
	for _, fn := range unsubscribe {
		fn()
	}
	logic.UnregisterObserver(observer)
	a.logger.Info("Machine detached", zap.String("machine_id", logic.ID().String()))
}

// Dispatch publishes cmd on the bus and returns the rejection reasons raised
// while it was handled, joined by "; ". Rejections are not errors; err is
// only set when no machine is attached or nothing handles the action.
func (a *Adapter) Dispatch(cmd Command) (string, error) {
	if a.Logic() == nil {
		return "", ErrNoActiveMachine
	}

	a.current = &cmd
	a.rejections = nil
	defer func() {
		a.current = nil
		a.rejections = nil
	}()

	a.logger.Debug("Dispatching command",
		zap.String("action", string(cmd.Action)),
		zap.String("requester", cmd.Requester))

	if err := a.bus.Publish(cmd); err != nil {
		return "", err
	}
	return strings.Join(a.rejections, "; "), nil
}

func (a *Adapter) rejected(logic *machine.Logic, reason string) {
	data := RejectedData{Reason: reason}
	if a.current != nil {
		data.Action = a.current.Action
		a.rejections = append(a.rejections, reason)
	}
	a.publish(logic, EventActionRejected, data)
}

// invalid reports a command that could not be decoded. It is raised the same
// way as a facade rejection.
func (a *Adapter) invalid(logic *machine.Logic, err error) {
	reason := fmt.Sprintf("invalid command: %v", err)
	a.logger.Warn("Action rejected", zap.String("reason", reason))
	a.rejected(logic, reason)
}

func (a *Adapter) publish(logic *machine.Logic, typ EventType, data interface{}) {
	a.mu.RLock()
	publishers := append([]EventPublisher(nil), a.publishers...)
	a.mu.RUnlock()

	event := Event{Type: typ, MachineID: logic.ID().String(), Data: data}
	for _, p := range publishers {
		p.PublishEvent(event)
	}
}
