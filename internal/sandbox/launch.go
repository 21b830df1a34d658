package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrStopTimeout is returned by Session.Close when the script ignores
// cancellation for longer than the stop timeout.
var ErrStopTimeout = errors.New("sandbox did not stop")

// Session is the parent's handle on a running sandbox.
type Session struct {
	*Conn
	cancel      context.CancelFunc
	stopTimeout time.Duration
	done        chan struct{}
	err         error
}

// Launch starts code in a new runtime and returns the parent end.
func Launch(ctx context.Context, code string, cfg RuntimeConfig) *Session {
	parent, child := Pipe()
	runCtx, cancel := context.WithCancel(ctx)
	runtime := NewRuntime(code, child, cfg)
	session := &Session{
		Conn:        parent,
		cancel:      cancel,
		stopTimeout: runtime.cfg.StopTimeout,
		done:        make(chan struct{}),
	}
	go func() {
		defer close(session.done)
		session.err = runtime.Run(runCtx)
		if session.err != nil && !errors.Is(session.err, context.Canceled) {
			log.Debug().Err(session.err).Msg("sandbox stopped")
		}
	}()
	return session
}

// Close stops the runtime and waits up to the stop timeout for it to exit.
func (s *Session) Close() error {
	s.cancel()
	err := s.Conn.Close()
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return err
	case <-timer.C:
		log.Warn().Dur("timeout", s.stopTimeout).Msg("sandbox ignored cancellation")
		return ErrStopTimeout
	}
}

// Wait blocks until the runtime exits and returns its error.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}
