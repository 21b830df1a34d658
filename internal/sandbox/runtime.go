package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"party-play/internal/game"
)

// Functions stripped from the base library: nothing may load code from disk,
// compile strings, or touch the collector. pcall is replaced by a version
// that cannot catch cancellation.
var blockedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage", "module", "xpcall"}

var errCancelled = errors.New("sandbox cancelled")

type RuntimeConfig struct {
	FrameInterval     time.Duration
	HeartbeatInterval time.Duration
	// MaxErrors is the runtime error count at which the game is stopped.
	MaxErrors int
	// HookCount is how many Lua instructions run between cancellation checks.
	HookCount int
	// StopTimeout bounds how long Session.Close waits for the script to exit.
	StopTimeout time.Duration
	Logger      *zerolog.Logger
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		FrameInterval:     33 * time.Millisecond,
		HeartbeatInterval: 2 * time.Second,
		MaxErrors:         5,
		HookCount:         1000,
		StopTimeout:       2 * time.Second,
	}
}

// Runtime executes one game script on the child end of a pipe. A script
// defines init (which must call PB.ready), update(dt) and draw, and may
// define start and finish.
type Runtime struct {
	code string
	conn *Conn
	cfg  RuntimeConfig
	log  zerolog.Logger

	ctx   context.Context
	state *lua.State

	started  bool
	ended    bool
	paused   bool
	score    int
	delta    float64
	startAt  time.Time
	errors   int
	frames   int
	draws    int
	hbFrames int
	hbDraws  int
}

func NewRuntime(code string, conn *Conn, cfg RuntimeConfig) *Runtime {
	defaults := DefaultRuntimeConfig()
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = defaults.FrameInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaults.MaxErrors
	}
	if cfg.HookCount <= 0 {
		cfg.HookCount = defaults.HookCount
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Runtime{code: code, conn: conn, cfg: cfg, log: logger.With().Str("component", "sandbox").Logger()}
}

// Run loads the script and drives it until END arrives, the script fails
// fatally, or ctx is cancelled. The connection is closed on return.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.conn.Close()
	r.ctx = ctx
	r.state = r.newState(ctx)

	if err := lua.LoadBuffer(r.state, r.code, "=game", "t"); err != nil {
		return r.fatal(ctx, fmt.Errorf("load: %w", err))
	}
	if err := r.state.ProtectedCall(0, 0, 0); err != nil {
		return r.fatal(ctx, fmt.Errorf("load: %w", err))
	}
	if defined, err := r.callHook("init"); err != nil {
		return r.fatal(ctx, fmt.Errorf("init: %w", err))
	} else if !defined {
		return r.fatal(ctx, errors.New("init: game defines no init function"))
	}

	frames := time.NewTicker(r.cfg.FrameInterval)
	defer frames.Stop()
	heartbeats := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeats.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.conn.Messages():
			if !ok {
				return nil
			}
			stop, err := r.handle(ctx, msg)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
			last = time.Now()
		case now := <-frames.C:
			if !r.started || r.ended {
				last = now
				continue
			}
			dt := now.Sub(last).Seconds()
			last = now
			if err := r.frame(ctx, dt); err != nil {
				return err
			}
		case <-heartbeats.C:
			if !r.started || r.ended {
				continue
			}
			r.heartbeat(ctx)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, msg Message) (bool, error) {
	switch msg.Type {
	case TypeInit:
		var payload InitPayload
		if _, err := msg.Decode(&payload); err != nil {
			r.log.Debug().Err(err).Msg("bad init payload")
			return false, nil
		}
		r.applyInit(payload)
	case TypeStart:
		if r.started {
			return false, nil
		}
		r.started = true
		r.startAt = time.Now()
		if _, err := r.callHook("start"); err != nil {
			return false, r.fatal(ctx, fmt.Errorf("start: %w", err))
		}
	case TypeEnd:
		if _, err := r.callHook("finish"); err != nil {
			r.log.Debug().Err(err).Msg("finish failed")
		}
		return true, nil
	case TypeInput:
		var payload InputPayload
		if _, err := msg.Decode(&payload); err == nil {
			r.applyInput(payload)
		}
	case TypeVisibility:
		var payload VisibilityPayload
		if _, err := msg.Decode(&payload); err == nil {
			r.paused = payload.Hidden
		}
	}
	return false, nil
}

// frame runs one update and draw. Errors are reported; the MaxErrors-th one
// stops the game.
func (r *Runtime) frame(ctx context.Context, dt float64) error {
	r.delta = dt
	drawsBefore := r.draws
	if !r.paused {
		if _, err := r.callHook("update", dt); err != nil {
			if stop := r.reportError(ctx, "update", err); stop != nil {
				return stop
			}
		}
	}
	if r.ended {
		return nil
	}
	if _, err := r.callHook("draw"); err != nil {
		if stop := r.reportError(ctx, "draw", err); stop != nil {
			return stop
		}
	}
	r.frames++
	r.hbFrames++
	r.hbDraws += r.draws - drawsBefore
	return nil
}

func (r *Runtime) reportError(ctx context.Context, where string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.errors++
	fatal := r.errors >= r.cfg.MaxErrors
	r.send(ctx, Error(fmt.Sprintf("%s: %v", where, err), fatal))
	if fatal {
		return fmt.Errorf("%s: %w", where, err)
	}
	return nil
}

func (r *Runtime) heartbeat(ctx context.Context) {
	var perFrame float64
	if r.hbFrames > 0 {
		perFrame = float64(r.hbDraws) / float64(r.hbFrames)
	}
	r.send(ctx, Heartbeat(HeartbeatPayload{
		FrameCount:        r.frames,
		DrawCallsPerFrame: perFrame,
		Score:             r.score,
		ErrorCount:        r.errors,
	}))
	r.hbFrames, r.hbDraws = 0, 0
}

func (r *Runtime) fatal(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.send(ctx, Error(err.Error(), true))
	return err
}

func (r *Runtime) send(ctx context.Context, msg Message) {
	if err := r.conn.Send(ctx, msg); err != nil && !errors.Is(err, ErrClosed) {
		r.log.Debug().Err(err).Str("type", string(msg.Type)).Msg("send failed")
	}
}

// callHook calls a global script function when it exists.
func (r *Runtime) callHook(name string, args ...float64) (bool, error) {
	l := r.state
	l.Global(name)
	if !l.IsFunction(-1) {
		l.Pop(1)
		return false, nil
	}
	for _, arg := range args {
		l.PushNumber(arg)
	}
	if err := l.ProtectedCall(len(args), 0, 0); err != nil {
		if r.ctx.Err() != nil {
			return true, errCancelled
		}
		return true, err
	}
	return true, nil
}

func (r *Runtime) setScore(score int) {
	if score < 0 {
		score = 0
	}
	if score == r.score {
		return
	}
	r.score = score
	r.send(r.ctx, ScoreUpdate(score))
}

func (r *Runtime) endGame() {
	if r.ended {
		return
	}
	r.ended = true
	r.send(r.ctx, Complete(r.score))
}

func (r *Runtime) elapsed() float64 {
	if !r.started {
		return 0
	}
	return time.Since(r.startAt).Seconds()
}

func (r *Runtime) newState(ctx context.Context) *lua.State {
	l := lua.NewState()
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)
	lua.Require(l, "bit32", lua.Bit32Open, true)
	l.Pop(1)
	for _, name := range blockedGlobals {
		l.PushNil()
		l.SetGlobal(name)
	}
	l.PushGoFunction(func(l *lua.State) int {
		message, _ := l.ToString(1)
		r.log.Debug().Str("print", message).Msg("game output")
		return 0
	})
	l.SetGlobal("print")
	l.PushGoFunction(r.pcall)
	l.SetGlobal("pcall")

	lua.SetDebugHook(l, func(l *lua.State, _ lua.Debug) {
		if ctx.Err() != nil {
			lua.Errorf(l, "%s", errCancelled.Error())
		}
	}, lua.MaskCount, r.cfg.HookCount)

	r.installCapabilities(l)
	return l
}

// pcall behaves like the base library's, except that once the session is
// cancelled every caught error is raised again so the script unwinds.
func (r *Runtime) pcall(l *lua.State) int {
	lua.CheckAny(l, 1)
	l.PushBoolean(true)
	l.Insert(1)
	if err := l.ProtectedCall(l.Top()-2, lua.MultipleReturns, 0); err != nil {
		if r.ctx != nil && r.ctx.Err() != nil {
			lua.Errorf(l, "%s", errCancelled.Error())
		}
		l.PushBoolean(false)
		l.PushValue(-2)
		return 2
	}
	return l.Top()
}

func (r *Runtime) installCapabilities(l *lua.State) {
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "ready", Function: func(l *lua.State) int {
			r.send(r.ctx, Ready())
			return 0
		}},
		{Name: "set_score", Function: func(l *lua.State) int {
			r.setScore(game.ClampScore(lua.CheckNumber(l, 1)))
			return 0
		}},
		{Name: "add_score", Function: func(l *lua.State) int {
			r.setScore(game.ClampScore(float64(r.score) + math.Floor(lua.CheckNumber(l, 1))))
			return 0
		}},
		{Name: "score", Function: func(l *lua.State) int {
			l.PushInteger(r.score)
			return 1
		}},
		{Name: "end_game", Function: func(l *lua.State) int {
			if !l.IsNoneOrNil(1) {
				r.setScore(game.ClampScore(lua.CheckNumber(l, 1)))
			}
			r.endGame()
			return 0
		}},
		{Name: "delta", Function: func(l *lua.State) int {
			l.PushNumber(r.delta)
			return 1
		}},
		{Name: "paused", Function: func(l *lua.State) int {
			l.PushBoolean(r.paused)
			return 1
		}},
		{Name: "elapsed", Function: func(l *lua.State) int {
			l.PushNumber(r.elapsed())
			return 1
		}},
		{Name: "rect", Function: r.drawCall},
		{Name: "circle", Function: r.drawCall},
		{Name: "text", Function: r.drawCall},
		{Name: "sprite", Function: r.drawCall},
	}, 0)
	for _, name := range []string{"player", "config", "theme", "input"} {
		l.NewTable()
		l.SetField(-2, name)
	}
	l.SetGlobal("PB")
}

// drawCall only counts; rendering happens elsewhere.
func (r *Runtime) drawCall(*lua.State) int {
	r.draws++
	return 0
}

func (r *Runtime) applyInit(payload InitPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return
	}
	l := r.state
	l.Global("PB")
	for _, name := range []string{"player", "config", "theme"} {
		pushValue(l, fields[name])
		l.SetField(-2, name)
	}
	l.Pop(1)
}

func (r *Runtime) applyInput(payload InputPayload) {
	l := r.state
	l.Global("PB")
	l.Field(-1, "input")
	if !l.IsTable(-1) {
		l.Pop(2)
		return
	}
	for name, value := range map[string]bool{
		"left":        payload.Left,
		"right":       payload.Right,
		"up":          payload.Up,
		"down":        payload.Down,
		"action":      payload.Action,
		"pointerDown": payload.PointerDown,
	} {
		l.PushBoolean(value)
		l.SetField(-2, name)
	}
	l.PushNumber(payload.PointerX)
	l.SetField(-2, "pointerX")
	l.PushNumber(payload.PointerY)
	l.SetField(-2, "pointerY")
	l.Pop(2)
}

// pushValue pushes a decoded JSON value as the equivalent Lua value.
func pushValue(l *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(v)
	case float64:
		l.PushNumber(v)
	case string:
		l.PushString(v)
	case []any:
		l.NewTable()
		for i, item := range v {
			pushValue(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.NewTable()
		for key, item := range v {
			pushValue(l, item)
			l.SetField(-2, key)
		}
	default:
		l.PushNil()
	}
}
