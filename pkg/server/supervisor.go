package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrWorkerPanic is reported when a supervised worker panics.
var ErrWorkerPanic = errors.New("server: worker panicked")

const defaultRestartDelay = 200 * time.Millisecond

// Worker is a long-running loop run under a Supervisor.
type Worker interface {
	Run(ctx context.Context) error
}

// Supervisor runs workers in their own goroutines, restarting any that
// panic or fail. A worker that returns nil is finished and not restarted.
type Supervisor struct {
	log          *slog.Logger
	restartDelay time.Duration
	wg           sync.WaitGroup
}

// NewSupervisor creates a supervisor that waits restartDelay before each
// restart.
func NewSupervisor(log *slog.Logger, restartDelay time.Duration) *Supervisor {
	if restartDelay <= 0 {
		restartDelay = defaultRestartDelay
	}
	return &Supervisor{log: log, restartDelay: restartDelay}
}

// Go runs w under supervision until it finishes or ctx is cancelled.
func (s *Supervisor) Go(ctx context.Context, name string, w Worker) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			err := runProtected(ctx, w)
			if err == nil {
				s.log.Debug("worker finished", "name", name)
				return
			}
			if ctx.Err() != nil {
				s.log.Debug("worker stopped (context canceled)", "name", name)
				return
			}

			s.log.Warn("worker crashed, restarting", "name", name, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restartDelay):
			}
		}
	}()
}

// Wait blocks until every supervised worker has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func runProtected(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()
	return w.Run(ctx)
}
