package system

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/api/rest"
	"github.com/KevinKickass/OpenTestRig/internal/api/websocket"
	"github.com/KevinKickass/OpenTestRig/internal/auth"
	"github.com/KevinKickass/OpenTestRig/internal/config"
	"github.com/KevinKickass/OpenTestRig/internal/devices"
	"github.com/KevinKickass/OpenTestRig/internal/dispatch"
	"github.com/KevinKickass/OpenTestRig/internal/interfaces"
	"github.com/KevinKickass/OpenTestRig/internal/machine"
	"github.com/KevinKickass/OpenTestRig/internal/session"
	"github.com/KevinKickass/OpenTestRig/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type LifecycleManager struct {
	config      *config.Config
	logger      *zap.Logger
	manager     *devices.Manager
	monitor     *session.Monitor
	adapter     *dispatch.Adapter
	driver      *Driver
	hub         *websocket.Hub
	authService *auth.AuthService
	restServer  *rest.Server

	// serializes machine swaps
	selectMu sync.Mutex

	stateMu      sync.RWMutex
	currentState SystemState
	profile      string
	machineID    string
	lastError    string

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	runMu        sync.Mutex
	cancel       context.CancelFunc
	stopped      chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	deviceManager, err := devices.NewManager(cfg.Machine.SearchPaths, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create device manager: %w", err)
	}

	authService, err := auth.NewAuthService(cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	sample := session.Sample{
		Name:            cfg.Machine.Sample.Name,
		EffectiveLength: cfg.Machine.Sample.EffectiveLength,
		ClampingLength:  cfg.Machine.Sample.ClampingLength,
	}
	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("invalid machine.sample: %w", err)
	}

	hub := websocket.NewHub(logger, authService)
	adapter := dispatch.NewAdapter(logger, dispatch.NewBus(), hub)

	lm := &LifecycleManager{
		config:          cfg,
		logger:          logger,
		manager:         deviceManager,
		monitor:         session.NewMonitor(sample),
		adapter:         adapter,
		driver:          NewDriver(adapter, cfg.Simulation.TickInterval, logger),
		hub:             hub,
		authService:     authService,
		currentState:    StateInitializing,
		statusListeners: make([]chan SystemStatus, 0),
		stopped:         make(chan struct{}),
	}

	hub.SetMachineStatusProvider(lm)
	hub.SetCommandDispatcher(lm)
	lm.restServer = rest.NewServer(cfg, lm, logger, hub, authService)

	return lm, nil
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

// Run starts the tick driver, the websocket hub and the REST server, attaches
// the configured machine and blocks until ctx is done or Shutdown is called.
// It must be called once.
func (lm *LifecycleManager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lm.runMu.Lock()
	lm.cancel = cancel
	lm.runMu.Unlock()
	defer close(lm.stopped)

	lm.logger.Info("Starting OpenTestRig", zap.String("profile", lm.config.Machine.Profile))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lm.driver.Run(gctx) })
	g.Go(func() error { return lm.hub.Run(gctx) })

	if err := lm.SelectMachine(gctx, lm.config.Machine.Profile); err != nil {
		lm.setError(err)
		cancel()
		_ = g.Wait()
		return fmt.Errorf("failed to start machine: %w", err)
	}

	g.Go(lm.restServer.Run)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), lm.config.Server.ShutdownTimeout)
		defer cancel()
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rest api shutdown failed: %w", err)
		}
		return nil
	})

	lm.compareAndSetState(StateInitializing, StateRunning)
	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Duration("tick_interval", lm.config.Simulation.TickInterval))

	err := g.Wait()
	if err != nil {
		lm.setError(err)
	} else {
		lm.setState(StateStopping)
	}
	lm.setState(StateStopped)
	return err
}

// Shutdown stops all motion, then stops every service started by Run.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		lm.runMu.Lock()
		cancel := lm.cancel
		lm.runMu.Unlock()

		if cancel == nil {
			lm.setState(StateStopped)
			return
		}

		err := lm.driver.Submit(ctx, func() {
			if logic := lm.adapter.Logic(); logic != nil {
				logic.StopAll()
				lm.adapter.Detach()
			}
		})
		if err != nil && !errors.Is(err, ErrDriverStopped) {
			lm.logger.Warn("Failed to stop machine motion", zap.Error(err))
		}

		cancel()
		select {
		case <-lm.stopped:
			lm.logger.Info("Graceful shutdown completed")
		case <-ctx.Done():
			lm.logger.Warn("Shutdown timeout, forcing stop")
			shutdownErr = fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err())
		}
	})

	return shutdownErr
}

// SelectMachine builds the machine described by profile ref and makes it the
// active one. The previous machine is stopped and detached first.
func (lm *LifecycleManager) SelectMachine(ctx context.Context, ref string) error {
	lm.selectMu.Lock()
	defer lm.selectMu.Unlock()

	logic, _, err := lm.manager.Build(ref, lm.monitor)
	if err != nil {
		return err
	}
	return lm.attach(ctx, logic, ref)
}

// ConfigureMachine is SelectMachine for a profile supplied inline.
func (lm *LifecycleManager) ConfigureMachine(ctx context.Context, profile *types.MachineProfileDefinition) error {
	if profile == nil {
		return fmt.Errorf("%w: profile is required", devices.ErrInvalidProfile)
	}

	lm.selectMu.Lock()
	defer lm.selectMu.Unlock()

	logic, err := lm.manager.BuildFromProfile(profile, lm.monitor)
	if err != nil {
		return err
	}
	return lm.attach(ctx, logic, profile.MachineProfile.ID)
}

func (lm *LifecycleManager) attach(ctx context.Context, logic *machine.Logic, name string) error {
	resume, err := lm.beginUpdate()
	if err != nil {
		return err
	}

	err = lm.driver.Submit(ctx, func() {
		if old := lm.adapter.Logic(); old != nil {
			old.StopAll()
		}
		lm.adapter.Attach(logic, lm.monitor)
	})
	if err == nil {
		lm.stateMu.Lock()
		lm.profile = name
		lm.machineID = logic.ID().String()
		lm.stateMu.Unlock()

		lm.logger.Info("Machine selected",
			zap.String("profile", name),
			zap.String("machine_id", logic.ID().String()))
	}

	if resume {
		lm.compareAndSetState(StateUpdating, StateRunning)
	} else if err == nil {
		lm.broadcastStatus()
	}

	if err != nil {
		return fmt.Errorf("failed to attach machine %s: %w", name, err)
	}
	return nil
}

// beginUpdate moves a running system to updating. resume reports whether the
// caller must move it back afterwards.
func (lm *LifecycleManager) beginUpdate() (resume bool, err error) {
	lm.stateMu.Lock()
	state := lm.currentState
	switch state {
	case StateInitializing:
		lm.stateMu.Unlock()
		return false, nil
	case StateRunning:
		lm.currentState = StateUpdating
		lm.stateMu.Unlock()
		lm.logStateChange(state, StateUpdating)
		lm.broadcastStatus()
		return true, nil
	default:
		lm.stateMu.Unlock()
		return false, fmt.Errorf("cannot select machine: system is %s", state)
	}
}

// Dispatch runs cmd on the driver goroutine.
func (lm *LifecycleManager) Dispatch(ctx context.Context, cmd dispatch.Command) (string, error) {
	var rejection string
	var dispatchErr error

	err := lm.driver.Submit(ctx, func() {
		rejection, dispatchErr = lm.adapter.Dispatch(cmd)
	})
	if err != nil {
		return "", err
	}
	return rejection, dispatchErr
}

// MachineStatus snapshots the active machine on the driver goroutine.
func (lm *LifecycleManager) MachineStatus(ctx context.Context) (machine.MachineStatus, error) {
	var status machine.MachineStatus
	var statusErr error

	err := lm.driver.Submit(ctx, func() {
		logic := lm.adapter.Logic()
		if logic == nil {
			statusErr = dispatch.ErrNoActiveMachine
			return
		}
		status = logic.Status()
	})
	if err != nil {
		return machine.MachineStatus{}, err
	}
	return status, statusErr
}

// CurrentMachineStatus feeds the websocket connect snapshot.
func (lm *LifecycleManager) CurrentMachineStatus(ctx context.Context) (any, error) {
	return lm.MachineStatus(ctx)
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	from := lm.currentState
	if from == state {
		lm.stateMu.Unlock()
		return
	}
	if err := ValidateTransition(from, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
	if state != StateError {
		lm.lastError = ""
	}
	lm.stateMu.Unlock()

	lm.logStateChange(from, state)
	lm.broadcastStatus()
}

func (lm *LifecycleManager) compareAndSetState(from, to SystemState) bool {
	lm.stateMu.Lock()
	if lm.currentState != from {
		lm.stateMu.Unlock()
		return false
	}
	lm.currentState = to
	lm.stateMu.Unlock()

	lm.logStateChange(from, to)
	lm.broadcastStatus()
	return true
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	from := lm.currentState
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.logStateChange(from, StateError)
	lm.broadcastStatus()
}

func (lm *LifecycleManager) logStateChange(from, to SystemState) {
	lm.logger.Info("System state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	return interfaces.SystemStatus{
		State:     lm.currentState.String(),
		Profile:   lm.profile,
		MachineID: lm.machineID,
		Sample:    lm.monitor.Sample(),
	}
}

func (lm *LifecycleManager) getStatusInternal() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	return SystemStatus{
		State:     lm.currentState,
		Profile:   lm.profile,
		MachineID: lm.machineID,
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.getStatusInternal()

	lm.hub.Broadcast(websocket.NewSystemStatusMessage(status.State.String(), status.Profile))

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Profiles() *devices.ProfileLoader {
	return lm.manager.Loader()
}

// Handler exposes the REST router, mainly for tests.
func (lm *LifecycleManager) Handler() http.Handler {
	return lm.restServer.Handler()
}
