// Package supervisor keeps the execution server reachable for a job.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	apperrors "comfyrelay/internal/pkg/errors"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/pkg/poll"
)

// Pinger checks the execution server health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Interval time.Duration
	Attempts int
	Clock    clock.Clock
}

type Supervisor struct {
	pinger   Pinger
	launcher Launcher
	opts     Options
	log      *logger.Logger
}

func New(pinger Pinger, launcher Launcher, opts Options, log *logger.Logger) *Supervisor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 60
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Supervisor{
		pinger:   pinger,
		launcher: launcher,
		opts:     opts,
		log:      log.WithComponent("supervisor"),
	}
}

// Ensure makes sure the health endpoint answers. A server that is already
// reachable yields a nil handle. Otherwise the server is launched and the
// returned handle owns it; running out of startup attempts is logged and the
// handle is still returned.
func (s *Supervisor) Ensure(ctx context.Context) (*Handle, error) {
	const op = "supervisor.ensure"

	if err := s.pinger.Ping(ctx); err == nil {
		s.log.Debug("execution server already running")
		return nil, nil
	}

	proc, err := s.launcher.Launch(ctx)
	if err != nil {
		return nil, apperrors.WrapWithCode(err, apperrors.CodeUnavailable, op, "failed to start execution server")
	}
	h := &Handle{proc: proc, log: s.log}
	s.log.Info("execution server launched", "pid", proc.Pid())

	attempts := 0
	err = poll.Until(ctx, poll.Options{
		Interval:    s.opts.Interval,
		MaxAttempts: s.opts.Attempts,
		Clock:       s.opts.Clock,
	}, func(ctx context.Context) (bool, error) {
		attempts++
		return s.pinger.Ping(ctx) == nil, nil
	})

	switch {
	case err == nil:
		s.log.Info("execution server ready", "attempts", attempts)
	case errors.Is(err, poll.ErrExhausted):
		s.log.Warn("execution server did not answer during startup", "attempts", attempts)
	default:
		// Cancelled while waiting: the caller still owns the handle.
		return h, apperrors.Wrap(err, op, "waiting for execution server")
	}
	return h, nil
}

// Handle owns a launched execution server.
type Handle struct {
	proc Process
	log  *logger.Logger
	once sync.Once
	err  error
}

// Pid returns the child pid, or 0 for a nil handle.
func (h *Handle) Pid() int {
	if h == nil {
		return 0
	}
	return h.proc.Pid()
}

// Stop terminates the child once. Later calls return the first result.
// Stop on a nil handle is a no-op.
func (h *Handle) Stop() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.err = h.proc.Terminate()
		if h.err != nil {
			h.log.Warn("failed to stop execution server", "pid", h.proc.Pid(), "error", h.err)
			return
		}
		h.log.Info("execution server stopped", "pid", h.proc.Pid())
	})
	return h.err
}
