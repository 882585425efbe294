// Package scheduler runs a sync function once at startup and then on a fixed
// period until its context is cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/yuriy-kovalchuk/droplet-dns-sync/internal/syncerr"
)

// DefaultInterval is the period between cycles.
const DefaultInterval = time.Hour

// State is a phase of the scheduler. A cycle moves it from Idle to Running,
// then to Succeeded or Failed, and back to Idle once the result is recorded.
type State int32

const (
	Idle State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ErrNotReady is returned by ReadyzCheck until a cycle has succeeded.
var ErrNotReady = errors.New("no successful sync yet")

// Scheduler runs Run on a single goroutine, so cycles never overlap. A slow
// cycle makes the loop skip the ticks it missed.
type Scheduler struct {
	Run      func(ctx context.Context) error
	Interval time.Duration
	Log      logr.Logger

	// Timeout bounds a single cycle when positive.
	Timeout time.Duration

	// Clock defaults to the real clock.
	Clock clock.WithTicker

	state     atomic.Int32
	last      atomic.Int32
	succeeded atomic.Bool
}

// Start runs the first cycle synchronously and returns its error, if any,
// without scheduling anything. After that it runs a cycle every Interval and
// returns nil once ctx is cancelled. Later failures are logged and the loop
// waits for the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	s.Log.Info("running initial sync")
	if err := s.cycle(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	s.Log.Info("starting scheduler", "interval", interval.String())
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("scheduler stopped")
			return nil
		case <-ticker.C():
			if err := s.cycle(ctx); err != nil {
				s.Log.Error(err, "sync failed", "causes", syncerr.Chain(err))
			}
		}
	}
}

// cycle runs one sync. Cancelling the parent context does not interrupt a
// cycle in flight; only Timeout does.
func (s *Scheduler) cycle(parent context.Context) (err error) {
	ctx := context.WithoutCancel(parent)
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	s.setState(Running)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}
		result := Succeeded
		if err != nil {
			result = Failed
		} else {
			s.succeeded.Store(true)
		}
		s.setState(result)
		s.last.Store(int32(result))
		s.setState(Idle)
	}()

	return s.Run(ctx)
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	s.Log.V(1).Info("sync state", "state", st.String())
}

// State returns the current phase: Running while a cycle is in flight,
// Idle otherwise.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// LastResult returns Succeeded or Failed for the most recent finished
// cycle, or Idle before any cycle has finished.
func (s *Scheduler) LastResult() State {
	return State(s.last.Load())
}

// ReadyzCheck reports ready once any cycle has succeeded. It has the
// signature of a controller-runtime healthz.Checker.
func (s *Scheduler) ReadyzCheck(_ *http.Request) error {
	if !s.succeeded.Load() {
		return ErrNotReady
	}
	return nil
}
