package health

import (
	"time"

	"party-play/internal/sandbox"
)

// effects are the side effects a tracker step asks its owner to perform.
type effects struct {
	sends  []sandbox.Message
	events []Event
	submit *int
}

// tracker is the monitor's state machine. It never blocks and never reads the
// clock; every step is given the current time.
type tracker struct {
	cfg   Config
	round Round
	gen   uint64

	state     State
	reason    string
	lastScore int
	played    bool
	submitted bool
	errors    int
	countdown int

	heartbeatAt time.Time
	frames      int
	drawCalls   float64
	seenFrames  bool
	prevFrames  int
	stalled     int
	blank       int

	readyAt     time.Time
	countdownAt time.Time
	pollAt      time.Time
	expireAt    time.Time

	out effects
}

func newTracker(cfg Config, round Round, gen uint64) *tracker {
	return &tracker{cfg: cfg, round: round, gen: gen, prevFrames: -1}
}

func (t *tracker) start(now time.Time) {
	t.state = StateLoading
	t.readyAt = now.Add(t.cfg.ReadyTimeout)
	t.emit()
}

func (t *tracker) handle(msg sandbox.Message, now time.Time) {
	if t.state.Terminal() {
		return
	}
	switch msg.Type {
	case sandbox.TypeReady:
		if t.state != StateLoading {
			return
		}
		t.readyAt = time.Time{}
		t.out.sends = append(t.out.sends, sandbox.Init(t.round.Init))
		t.state = StateCountdown
		t.countdown = t.cfg.CountdownSteps
		t.countdownAt = now.Add(t.cfg.CountdownStep)
		t.emit()
	case sandbox.TypeHeartbeat:
		var payload sandbox.HeartbeatPayload
		ok, err := msg.Decode(&payload)
		if err != nil || !ok {
			return
		}
		t.heartbeatAt = now
		t.frames = payload.FrameCount
		t.drawCalls = payload.DrawCallsPerFrame
		t.seenFrames = true
		t.observeScore(payload.Score)
	case sandbox.TypeScoreUpdate:
		var payload sandbox.ScorePayload
		if ok, err := msg.Decode(&payload); err == nil && ok {
			t.observeScore(payload.Score)
		}
	case sandbox.TypeComplete:
		var payload sandbox.ScorePayload
		if ok, err := msg.Decode(&payload); err == nil && ok {
			t.observeScore(payload.Score)
		}
		t.finish(StateComplete, "")
	case sandbox.TypeError:
		var payload sandbox.ErrorPayload
		_, _ = msg.Decode(&payload)
		t.errors++
		if payload.Fatal || t.errors >= t.cfg.MaxErrors {
			reason := payload.Message
			if reason == "" {
				reason = ReasonCrashed
			}
			t.finish(StateError, reason)
		}
	}
}

func (t *tracker) observeScore(score int) {
	if score < 0 {
		score = 0
	}
	t.lastScore = score
}

// tick runs every deadline that is due at now.
func (t *tracker) tick(now time.Time) {
	if t.state.Terminal() {
		return
	}
	switch t.state {
	case StateLoading:
		if due(t.readyAt, now) {
			t.lastScore = 0
			t.finish(StateError, ReasonFailedToLoad)
		}
	case StateCountdown:
		if !due(t.countdownAt, now) {
			return
		}
		t.countdown--
		if t.countdown > 0 {
			t.countdownAt = now.Add(t.cfg.CountdownStep)
			t.emit()
			return
		}
		t.play(now)
	case StatePlaying:
		if due(t.expireAt, now) {
			t.finish(StateComplete, "")
			return
		}
		if due(t.pollAt, now) {
			t.pollAt = now.Add(t.cfg.PollInterval)
			t.poll(now)
		}
	}
}

func (t *tracker) play(now time.Time) {
	t.state = StatePlaying
	t.played = true
	t.countdownAt = time.Time{}
	t.heartbeatAt = now
	t.seenFrames = false
	t.prevFrames = -1
	t.stalled, t.blank = 0, 0
	t.pollAt = now.Add(t.cfg.PollInterval)
	if t.round.TimeLimit > 0 {
		t.expireAt = t.round.StartedAt.Add(t.round.TimeLimit - t.cfg.ExpiryMargin)
		if !t.expireAt.After(now) {
			t.expireAt = now
		}
	}
	t.out.sends = append(t.out.sends, sandbox.Start())
	t.emit()
	if due(t.expireAt, now) {
		t.finish(StateComplete, "")
	}
}

// poll checks the three liveness conditions in order: dead, stalled, blank.
func (t *tracker) poll(now time.Time) {
	if now.Sub(t.heartbeatAt) > t.cfg.DeadAfter {
		t.finish(StateError, ReasonDead)
		return
	}
	if !t.seenFrames {
		return
	}
	if t.prevFrames >= 0 && t.frames == t.prevFrames {
		t.stalled++
	} else {
		t.stalled = 0
	}
	t.prevFrames = t.frames
	if t.stalled >= t.cfg.StallPolls {
		t.finish(StateError, ReasonStalled)
		return
	}
	if t.frames > 0 && t.drawCalls < float64(t.cfg.MinDrawCalls) {
		t.blank++
	} else {
		t.blank = 0
	}
	if t.blank >= t.cfg.BlankPolls {
		t.finish(StateError, ReasonBlank)
	}
}

// skip ends the game early with the score observed so far.
func (t *tracker) skip() {
	if t.state.Terminal() {
		return
	}
	t.finish(StateComplete, "")
}

// finish enters a terminal state and queues the one submission.
func (t *tracker) finish(state State, reason string) {
	t.state = state
	t.reason = reason
	t.readyAt, t.countdownAt, t.pollAt, t.expireAt = time.Time{}, time.Time{}, time.Time{}, time.Time{}
	t.out.sends = append(t.out.sends, sandbox.End())
	t.emit()
	t.queueSubmit()
}

// abandon is called on teardown. Play that started but never ended is still
// scored.
func (t *tracker) abandon() {
	if t.played {
		t.queueSubmit()
	}
}

func (t *tracker) queueSubmit() {
	if t.submitted {
		return
	}
	t.submitted = true
	score := t.lastScore
	t.out.submit = &score
}

func (t *tracker) emit() {
	t.out.events = append(t.out.events, Event{
		Generation: t.gen,
		State:      t.state,
		Reason:     t.reason,
		Score:      t.lastScore,
		Countdown:  t.countdown,
	})
}

func (t *tracker) drain() effects {
	out := t.out
	t.out = effects{}
	return out
}

// next returns the earliest pending deadline, or zero when none is armed.
func (t *tracker) next() time.Time {
	var earliest time.Time
	for _, at := range []time.Time{t.readyAt, t.countdownAt, t.pollAt, t.expireAt} {
		if at.IsZero() {
			continue
		}
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}
	return earliest
}

func (t *tracker) result() Result {
	return Result{State: t.state, Reason: t.reason, Score: t.lastScore, Submitted: t.submitted}
}

func due(at, now time.Time) bool {
	return !at.IsZero() && !now.Before(at)
}
