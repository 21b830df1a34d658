package main

import (
	"context"
	"errors"
	"flag"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"party-play/internal/client"
	"party-play/internal/config"
	"party-play/internal/health"
	"party-play/internal/logging"
	"party-play/internal/room"
	"party-play/internal/sandbox"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	code := flag.String("code", "", "join code of the room")
	name := flag.String("name", "Bot", "player name; bots after the first get a number suffix")
	count := flag.Int("count", 1, "number of bots to join")
	follow := flag.Bool("follow", true, "join the rematch room when a game finishes")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if *code == "" {
		logger.Fatal().Msg("-code is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		botName := *name
		if i > 0 {
			botName = *name + " " + strconv.Itoa(i+1)
		}
		botLogger := logger.With().Str("bot", botName).Logger()
		wg.Add(1)
		go func() {
			defer wg.Done()
			runBot(ctx, cfg, *baseURL, *code, botName, *follow, &botLogger)
		}()
	}
	wg.Wait()
}

// runBot plays rooms until ctx ends, following rematches when asked to.
func runBot(ctx context.Context, cfg config.Config, baseURL, code, name string, follow bool, logger *zerolog.Logger) {
	identity := room.Identity{Name: name, Emoji: "🤖"}
	for code != "" {
		api, snap, err := client.Dial(ctx, baseURL, code, identity)
		if err != nil {
			logger.Error().Err(err).Str("code", code).Msg("join failed")
			return
		}
		identity.SessionID = api.SessionID
		logger.Info().Str("code", snap.Room.Code).Str("game", gameTitle(snap)).Msg("joined room")

		next, err := play(ctx, cfg, api, logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("bot stopped")
			return
		}
		if ctx.Err() != nil || !follow {
			return
		}
		code = next
	}
}

func play(ctx context.Context, cfg config.Config, api *client.Remote, logger *zerolog.Logger) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := api.Subscribe(ctx)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var rematch string
	opts := client.DefaultOptions()
	opts.Timings = client.Timings{
		Intro:  cfg.IntroDuration,
		Vote:   cfg.VoteDuration,
		Reveal: cfg.RevealDuration,
		Scores: cfg.ScoresDuration,
		Grace:  cfg.AdvanceGrace,
	}
	opts.HeartbeatInterval = cfg.HeartbeatInterval
	opts.HostTimeout = cfg.HostTimeout
	opts.Logger = logger
	opts.OnRematch = func(code string) {
		rematch = code
		cancel()
	}
	opts.Observer = health.ObserverFunc(func(event health.Event) {
		logger.Debug().Str("state", string(event.State)).Str("reason", event.Reason).Int("score", event.Score).Msg("game health")
	})

	runtime := sandbox.DefaultRuntimeConfig()
	runtime.FrameInterval = cfg.SandboxFrameInterval
	runtime.Logger = logger
	parts := client.Components{
		Sandboxes: client.SandboxFunc(func(ctx context.Context, code string) (health.Sandbox, error) {
			return sandbox.Launch(ctx, code, runtime), nil
		}),
		Policy: client.Guesser{Rand: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))},
	}
	err = client.New(api, stream, api.PlayerID, parts, opts).Run(ctx)
	if rematch != "" {
		return rematch, nil
	}
	if err == nil {
		err = stream.Err()
	}
	return "", err
}

func gameTitle(snap room.Snapshot) string {
	if snap.Game == nil {
		return ""
	}
	return snap.Game.Title
}
