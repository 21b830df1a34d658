package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"party-play/internal/db"
	"party-play/internal/game"
	"party-play/internal/telemetry"
)

const (
	maxNameLength    = 64
	maxEmojiLength   = 16
	maxContentLength = 4000
)

type Options struct {
	// HostTimeout is how long a host may go without a heartbeat before
	// another player may take over.
	HostTimeout      time.Duration
	AbandonAfter     time.Duration
	EvictAfter       time.Duration
	ReactionInterval time.Duration
	ReactionWindow   time.Duration
	Now              func() time.Time
	Logger           *zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		HostTimeout:      30 * time.Second,
		AbandonAfter:     10 * time.Minute,
		EvictAfter:       time.Hour,
		ReactionInterval: time.Second,
		ReactionWindow:   10 * time.Second,
	}
}

// Identity is who a request comes from.
type Identity struct {
	SessionID string
	Name      string
	Emoji     string
}

type Service struct {
	store  *Store
	db     *gorm.DB
	opts   Options
	now    func() time.Time
	log    zerolog.Logger
	tracer trace.Tracer

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewService wires the store to an optional database. A nil conn keeps every
// room in memory only.
func NewService(store *Store, conn *gorm.DB, opts Options) *Service {
	defaults := DefaultOptions()
	if opts.HostTimeout <= 0 {
		opts.HostTimeout = defaults.HostTimeout
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = defaults.AbandonAfter
	}
	if opts.EvictAfter <= 0 {
		opts.EvictAfter = defaults.EvictAfter
	}
	if opts.ReactionInterval <= 0 {
		opts.ReactionInterval = defaults.ReactionInterval
	}
	if opts.ReactionWindow <= 0 {
		opts.ReactionWindow = defaults.ReactionWindow
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if store == nil {
		store = NewStore()
	}
	return &Service{
		store:    store,
		db:       conn,
		opts:     opts,
		now:      now,
		log:      logger.With().Str("component", "room").Logger(),
		tracer:   telemetry.Tracer(),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *Service) HostTimeout() time.Duration {
	return s.opts.HostTimeout
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "room."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && Kind(err) == KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func touch(rec *record, now time.Time) {
	rec.room.LastActivityAt = now
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (id Identity) normalized() (Identity, error) {
	id.SessionID = strings.TrimSpace(id.SessionID)
	id.Name = strings.TrimSpace(id.Name)
	id.Emoji = strings.TrimSpace(id.Emoji)
	if id.SessionID == "" {
		return id, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if id.Name == "" {
		return id, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(id.Name) > maxNameLength {
		return id, fmt.Errorf("%w: name is too long", ErrInvalidInput)
	}
	if len(id.Emoji) > maxEmojiLength {
		return id, fmt.Errorf("%w: emoji is too long", ErrInvalidInput)
	}
	return id, nil
}

// CreateRoom stores def as a new game and opens a lobby hosted by the caller.
func (s *Service) CreateRoom(ctx context.Context, def *game.Definition, host Identity) (snap Snapshot, player Player, err error) {
	ctx, span := s.startSpan(ctx, "CreateRoom")
	defer func() { endSpan(span, err) }()

	if err := def.Validate(); err != nil {
		return Snapshot{}, Player{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.createRoom(ctx, uuid.NewString(), def, host)
}

// CreateRoomFromLibrary opens a lobby for a game loaded into the games table.
func (s *Service) CreateRoomFromLibrary(ctx context.Context, gameID string, host Identity) (snap Snapshot, player Player, err error) {
	ctx, span := s.startSpan(ctx, "CreateRoomFromLibrary", attribute.String("game_id", gameID))
	defer func() { endSpan(span, err) }()

	if s.db == nil {
		return Snapshot{}, Player{}, ErrGameNotFound
	}
	def, err := db.FindGame(s.db.WithContext(ctx), gameID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, Player{}, ErrGameNotFound
		}
		return Snapshot{}, Player{}, err
	}
	return s.createRoom(ctx, gameID, def, host)
}

func (s *Service) createRoom(ctx context.Context, gameID string, def *game.Definition, host Identity) (Snapshot, Player, error) {
	host, err := host.normalized()
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	now := s.now()
	rec, err := s.store.create(func(code string) *record {
		roomID := uuid.NewString()
		return &record{
			room: Room{
				ID:             roomID,
				GameID:         gameID,
				Code:           code,
				HostSessionID:  host.SessionID,
				Status:         StatusLobby,
				CreatedAt:      now,
				LastActivityAt: now,
			},
			game: def,
			players: []Player{{
				ID:            uuid.NewString(),
				RoomID:        roomID,
				SessionID:     host.SessionID,
				Name:          host.Name,
				Emoji:         host.Emoji,
				IsHost:        true,
				IsConnected:   true,
				JoinedAt:      now,
				LastHeartbeat: &now,
			}},
		}
	}, func(rec *record) error {
		return s.inTx(ctx, func(tx *gorm.DB) error {
			if err := persistGame(tx, gameID, raw, def.Title); err != nil {
				return err
			}
			if err := insertRoom(tx, rec.room); err != nil {
				return err
			}
			if err := insertPlayer(tx, rec.players[0]); err != nil {
				return err
			}
			return persistEvent(tx, rec.room, rec.players[0].ID, "room_created", EventPayload{
				Code:       rec.room.Code,
				PlayerName: host.Name,
			})
		})
	})
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	s.log.Info().Str("room_id", rec.room.ID).Str("code", rec.room.Code).Str("game", def.Title).Msg("room created")
	return rec.snapshot(), rec.players[0], nil
}

// Join adds the caller to the room, or reconnects them when their session
// already has a player there. Joining after the game started makes a
// spectator.
func (s *Service) Join(ctx context.Context, code string, id Identity) (snap Snapshot, player Player, err error) {
	ctx, span := s.startSpan(ctx, "Join", attribute.String("code", code))
	defer func() { endSpan(span, err) }()

	id, err = id.normalized()
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	rec, err := s.loadByCode(ctx, normalizeCode(code))
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	var joined Player
	var reconnected bool
	next, err := s.store.update(rec.room.ID, func(rec *record) error {
		now := s.now()
		touch(rec, now)
		if index, ok := rec.playerBySession(id.SessionID); ok {
			existing := &rec.players[index]
			existing.Name = id.Name
			if id.Emoji != "" {
				existing.Emoji = id.Emoji
			}
			existing.IsConnected = true
			existing.LastHeartbeat = &now
			joined = *existing
			reconnected = true
			return s.inTx(ctx, func(tx *gorm.DB) error {
				if err := savePlayers(tx, *existing); err != nil {
					return err
				}
				return saveRoom(tx, rec.room)
			})
		}

		player := Player{
			ID:            uuid.NewString(),
			RoomID:        rec.room.ID,
			SessionID:     id.SessionID,
			Name:          id.Name,
			Emoji:         id.Emoji,
			IsConnected:   true,
			IsSpectator:   rec.room.Status != StatusLobby,
			JoinedAt:      now,
			LastHeartbeat: &now,
		}
		if !player.IsSpectator {
			if _, hasHost := rec.host(); !hasHost {
				player.IsHost = true
				rec.room.HostSessionID = id.SessionID
			}
		}
		rec.players = append(rec.players, player)
		joined = player
		return s.inTx(ctx, func(tx *gorm.DB) error {
			if err := insertPlayer(tx, player); err != nil {
				return err
			}
			if err := saveRoom(tx, rec.room); err != nil {
				return err
			}
			return persistEvent(tx, rec.room, player.ID, "player_joined", EventPayload{PlayerName: player.Name})
		})
	})
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	s.log.Info().
		Str("room_id", next.room.ID).
		Str("player_id", joined.ID).
		Bool("spectator", joined.IsSpectator).
		Bool("reconnected", reconnected).
		Msg("player joined")
	return next.snapshot(), joined, nil
}

func (s *Service) RoomByCode(ctx context.Context, code string) (Snapshot, error) {
	rec, err := s.loadByCode(ctx, normalizeCode(code))
	if err != nil {
		return Snapshot{}, err
	}
	return rec.snapshot(), nil
}

func (s *Service) Snapshot(ctx context.Context, roomID string) (Snapshot, error) {
	rec, err := s.loadByID(ctx, roomID)
	if err != nil {
		return Snapshot{}, err
	}
	return rec.snapshot(), nil
}

func (s *Service) Players(ctx context.Context, roomID string) ([]Player, error) {
	rec, err := s.loadByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return append([]Player(nil), rec.players...), nil
}

func (s *Service) PlayerBySession(ctx context.Context, roomID, sessionID string) (Player, error) {
	rec, err := s.loadByID(ctx, roomID)
	if err != nil {
		return Player{}, err
	}
	index, ok := rec.playerBySession(sessionID)
	if !ok {
		return Player{}, ErrPlayerNotFound
	}
	return rec.players[index], nil
}

func (s *Service) SubmissionsByRound(ctx context.Context, roomID string, round int) ([]Submission, error) {
	rec, err := s.loadByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rec.submissionsForRound(round), nil
}

// VotesByRound returns every vote cast in round, oldest first.
func (s *Service) VotesByRound(ctx context.Context, roomID string, round int) ([]Vote, error) {
	rec, err := s.loadByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rec.votesForRound(round), nil
}

// PlayerVote returns the player's vote in round. ok is false when the player
// has not voted.
func (s *Service) PlayerVote(ctx context.Context, roomID, playerID string, round int) (Vote, bool, error) {
	rec, err := s.loadByID(ctx, roomID)
	if err != nil {
		return Vote{}, false, err
	}
	for _, vote := range rec.votes {
		if vote.PlayerID == playerID && vote.Round == round {
			return vote, true, nil
		}
	}
	return Vote{}, false, nil
}

// Subscribe streams the room's snapshot after every write, starting with
// the current one. Slow readers only ever see the latest snapshot. The
// channel closes when cancel is called or the room is evicted.
func (s *Service) Subscribe(ctx context.Context, roomID string) (<-chan Snapshot, func(), error) {
	if _, err := s.loadByID(ctx, roomID); err != nil {
		return nil, nil, err
	}
	return s.store.subscribe(roomID)
}

// ListRooms returns snapshots of the rooms held in memory, newest first.
func (s *Service) ListRooms() []Snapshot {
	out := make([]Snapshot, 0, s.store.Len())
	for _, id := range s.store.ids() {
		if rec, ok := s.store.get(id); ok {
			out = append(out, rec.snapshot())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Room.CreatedAt.After(out[j].Room.CreatedAt)
	})
	return out
}
