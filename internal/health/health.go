// Package health watches one running sandboxed game and guarantees that the
// player is scored exactly once for it, however the game ends.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"party-play/internal/sandbox"
)

type State string

const (
	StateLoading   State = "loading"
	StateCountdown State = "countdown"
	StatePlaying   State = "playing"
	StateComplete  State = "complete"
	StateError     State = "error"
)

func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Failure reasons surfaced with StateError.
const (
	ReasonFailedToLoad = "Game failed to load"
	ReasonDead         = "Game stopped responding"
	ReasonStalled      = "Game stalled"
	ReasonBlank        = "Game not rendering"
	ReasonCrashed      = "Game crashed"
)

type Config struct {
	ReadyTimeout   time.Duration
	CountdownStep  time.Duration
	CountdownSteps int
	PollInterval   time.Duration
	// DeadAfter is how long the game may go without a heartbeat.
	DeadAfter    time.Duration
	StallPolls   int
	BlankPolls   int
	MinDrawCalls int
	MaxErrors    int
	// ExpiryMargin is how long before the round deadline the score is
	// submitted regardless of what the game is doing.
	ExpiryMargin  time.Duration
	SubmitTimeout time.Duration
	Logger        *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		ReadyTimeout:   5 * time.Second,
		CountdownStep:  800 * time.Millisecond,
		CountdownSteps: 3,
		PollInterval:   2 * time.Second,
		DeadAfter:      6 * time.Second,
		StallPolls:     2,
		BlankPolls:     3,
		MinDrawCalls:   3,
		MaxErrors:      5,
		ExpiryMargin:   500 * time.Millisecond,
		SubmitTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.CountdownStep <= 0 {
		c.CountdownStep = d.CountdownStep
	}
	if c.CountdownSteps <= 0 {
		c.CountdownSteps = d.CountdownSteps
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DeadAfter <= 0 {
		c.DeadAfter = d.DeadAfter
	}
	if c.StallPolls <= 0 {
		c.StallPolls = d.StallPolls
	}
	if c.BlankPolls <= 0 {
		c.BlankPolls = d.BlankPolls
	}
	if c.MinDrawCalls <= 0 {
		c.MinDrawCalls = d.MinDrawCalls
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = d.MaxErrors
	}
	if c.ExpiryMargin <= 0 {
		c.ExpiryMargin = d.ExpiryMargin
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	return c
}

// Round describes the round the game is played in.
type Round struct {
	Index     int
	TimeLimit time.Duration
	// StartedAt is when the submit phase began; the deadline is measured
	// from it.
	StartedAt time.Time
	Init      sandbox.InitPayload
}

// Sandbox is the parent end of a running game. *sandbox.Session satisfies it.
type Sandbox interface {
	Send(ctx context.Context, msg sandbox.Message) error
	Messages() <-chan sandbox.Message
	Close() error
}

// Submitter records the final score for the round.
type Submitter func(ctx context.Context, score int) error

// Event reports a state change. Generation identifies the monitor that
// produced it so owners can drop events from monitors they have replaced.
type Event struct {
	Generation uint64
	State      State
	Reason     string
	Score      int
	// Countdown is the number of steps left while counting down.
	Countdown int
}

type Observer interface {
	HealthEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) HealthEvent(e Event) { f(e) }

// Result is the monitor's final outcome.
type Result struct {
	State     State
	Reason    string
	Score     int
	Submitted bool
}
