package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"party-play/internal/sandbox"
)

// Monitor owns one sandbox for one round. It runs a single goroutine; the
// sandbox, timers and counters are touched only from it.
type Monitor struct {
	box      Sandbox
	submit   Submitter
	observer Observer
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time

	tracker *tracker
	skip    chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	result    Result
}

// New builds a monitor tagged with gen. observer may be nil.
func New(gen uint64, box Sandbox, round Round, submit Submitter, observer Observer, cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Monitor{
		box:      box,
		submit:   submit,
		observer: observer,
		cfg:      cfg,
		log:      logger.With().Str("component", "health").Uint64("generation", gen).Int("round", round.Index).Logger(),
		now:      time.Now,
		tracker:  newTracker(cfg, round, gen),
		skip:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start runs the monitor in the background until the game reaches a
// terminal state or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		go func() {
			defer close(m.done)
			m.run(ctx)
		}()
	})
}

// Done is closed once the monitor has stopped watching the game.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Skip ends the game now with the score observed so far.
func (m *Monitor) Skip() {
	select {
	case m.skip <- struct{}{}:
	default:
	}
}

// Close stops the monitor, closes the sandbox, and submits the last score if
// play had started and nothing was submitted yet. It is safe to call more
// than once.
func (m *Monitor) Close() Result {
	m.closeOnce.Do(func() {
		m.startOnce.Do(func() { close(m.done) })
		if m.cancel != nil {
			m.cancel()
		}
		<-m.done
		m.tracker.abandon()
		m.apply(context.Background(), m.tracker.drain())
		switch err := m.box.Close(); {
		case errors.Is(err, sandbox.ErrStopTimeout):
			m.log.Warn().Err(err).Msg("sandbox abandoned")
		case err != nil && !errors.Is(err, sandbox.ErrClosed):
			m.log.Debug().Err(err).Msg("sandbox close failed")
		}
		m.result = m.tracker.result()
	})
	return m.result
}

func (m *Monitor) run(ctx context.Context) {
	m.tracker.start(m.now())
	m.apply(ctx, m.tracker.drain())

	messages := m.box.Messages()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for !m.tracker.state.Terminal() {
		m.arm(timer)
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				// The game is gone; the timers decide how it ends.
				messages = nil
				continue
			}
			m.tracker.handle(msg, m.now())
		case <-timer.C:
			m.tracker.tick(m.now())
		case <-m.skip:
			m.tracker.skip()
		}
		m.apply(ctx, m.tracker.drain())
	}
	result := m.tracker.result()
	m.log.Info().Str("state", string(result.State)).Str("reason", result.Reason).Int("score", result.Score).Msg("game finished")
}

func (m *Monitor) arm(timer *time.Timer) {
	wait := time.Hour
	if next := m.tracker.next(); !next.IsZero() {
		wait = max(next.Sub(m.now()), 0)
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(wait)
}

func (m *Monitor) apply(ctx context.Context, out effects) {
	for _, msg := range out.sends {
		if err := m.box.Send(ctx, msg); err != nil && !errors.Is(err, sandbox.ErrClosed) && ctx.Err() == nil {
			m.log.Debug().Err(err).Str("type", string(msg.Type)).Msg("sandbox send failed")
		}
	}
	if m.observer != nil {
		for _, event := range out.events {
			m.observer.HealthEvent(event)
		}
	}
	if out.submit != nil && m.submit != nil {
		submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SubmitTimeout)
		defer cancel()
		if err := m.submit(submitCtx, *out.submit); err != nil {
			m.log.Warn().Err(err).Int("score", *out.submit).Msg("score submission failed")
		}
	}
}
