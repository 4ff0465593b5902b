package system

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/dispatch"
	"go.uber.org/zap"
)

var ErrDriverStopped = errors.New("driver stopped")

// maxStepFactor caps the measured dt after a stall, in tick intervals.
const maxStepFactor = 5

type task struct {
	fn   func()
	done chan struct{}
}

// Driver owns the machine goroutine. Ticks and submitted work run on it one
// at a time, so the attached facade never sees concurrent calls.
type Driver struct {
	adapter  *dispatch.Adapter
	interval time.Duration
	logger   *zap.Logger

	tasks chan task
	done  chan struct{}
}

func NewDriver(adapter *dispatch.Adapter, interval time.Duration, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		adapter:  adapter,
		interval: interval,
		logger:   logger,
		tasks:    make(chan task),
		done:     make(chan struct{}),
	}
}

// Run ticks the attached facade until ctx is done. It must be called once.
func (d *Driver) Run(ctx context.Context) error {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("Tick driver started", zap.Duration("interval", d.interval))

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Tick driver stopped")
			return nil

		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if dt > maxStepFactor*d.interval {
				d.logger.Warn("Tick overrun", zap.Duration("dt", dt))
				dt = maxStepFactor * d.interval
			}
			if logic := d.adapter.Logic(); logic != nil {
				logic.OnUpdate(dt)
			}

		case t := <-d.tasks:
			t.fn()
			close(t.done)
		}
	}
}

// Submit runs fn on the driver goroutine between two ticks and waits for it.
// Once fn has been handed over it always runs to completion.
func (d *Driver) Submit(ctx context.Context, fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case d.tasks <- t:
	case <-d.done:
		return ErrDriverStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-t.done
	return nil
}
