package room

import (
	"errors"
	"sort"
	"sync"

	"party-play/internal/game"
)

// record is one room document with everything hanging off it. Records held by
// the store are never mutated; Update works on a clone and swaps it in.
type record struct {
	room        Room
	game        *game.Definition
	players     []Player
	submissions []Submission
	votes       []Vote
	reactions   []Reaction
	positions   []PlayerPosition
	// tallied lists the rounds whose majority has been paid out.
	tallied []int
	version uint64
}

func (r *record) clone() *record {
	next := *r
	next.players = append([]Player(nil), r.players...)
	next.submissions = append([]Submission(nil), r.submissions...)
	next.votes = append([]Vote(nil), r.votes...)
	next.reactions = append([]Reaction(nil), r.reactions...)
	next.positions = append([]PlayerPosition(nil), r.positions...)
	next.tallied = append([]int(nil), r.tallied...)
	return &next
}

func (r *record) playerByID(id string) (int, bool) {
	for i := range r.players {
		if r.players[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (r *record) playerBySession(sessionID string) (int, bool) {
	for i := range r.players {
		if r.players[i].SessionID == sessionID {
			return i, true
		}
	}
	return -1, false
}

func (r *record) host() (int, bool) {
	for i := range r.players {
		if r.players[i].IsHost {
			return i, true
		}
	}
	return -1, false
}

func (r *record) submissionsForRound(round int) []Submission {
	out := make([]Submission, 0)
	for _, submission := range r.submissions {
		if submission.Round == round {
			out = append(out, submission)
		}
	}
	return out
}

func (r *record) votesForRound(round int) []Vote {
	out := make([]Vote, 0)
	for _, vote := range r.votes {
		if vote.Round == round {
			out = append(out, vote)
		}
	}
	return out
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		Room:        r.room,
		Game:        r.game,
		Players:     append([]Player(nil), r.players...),
		Submissions: r.submissionsForRound(r.room.CurrentRound),
		Reactions:   append([]Reaction(nil), r.reactions...),
		Positions:   r.positionsForRound(r.room.CurrentRound),
		Version:     r.version,
	}
}

type subscription struct {
	ch chan Snapshot
}

// deliver replaces any snapshot the subscriber has not read yet.
func (sub *subscription) deliver(snapshot Snapshot) {
	for {
		select {
		case sub.ch <- snapshot:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}

// roomLock serializes writers of one room. refs counts holders and waiters so
// the entry outlives everyone queued on it.
type roomLock struct {
	sync.Mutex
	refs int
}

// Store holds the resident rooms. mu guards the maps and is never held across
// a mutation or a database call; writers of one room queue on its roomLock.
type Store struct {
	mu     sync.Mutex
	rooms  map[string]*record
	byCode map[string]string
	subs   map[string]map[*subscription]struct{}
	locks  map[string]*roomLock
}

func NewStore() *Store {
	return &Store{
		rooms:  make(map[string]*record),
		byCode: make(map[string]string),
		subs:   make(map[string]map[*subscription]struct{}),
		locks:  make(map[string]*roomLock),
	}
}

// lockRoom takes the room's write lock and returns its release.
func (s *Store) lockRoom(roomID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[roomID]
	if !ok {
		lock = &roomLock{}
		s.locks[roomID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, roomID)
		}
		s.mu.Unlock()
	}
}

func (s *Store) get(roomID string) (*record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	return rec, ok
}

func (s *Store) getByCode(code string) (*record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, false
	}
	rec, ok := s.rooms[id]
	return rec, ok
}

// create picks a join code that is free in memory, builds the record and
// inserts it once persist succeeds. The code stays reserved while persist
// runs. persist may return errCodeTaken to retry with another code.
func (s *Store) create(build func(code string) *record, persist func(*record) error) (*record, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := newJoinCode()
		rec := build(code)
		if !s.reserveCode(code, rec.room.ID) {
			continue
		}
		if err := persist(rec); err != nil {
			s.releaseCode(code, rec.room.ID)
			if errors.Is(err, errCodeTaken) {
				continue
			}
			return nil, err
		}
		rec.version = 1
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.rooms[rec.room.ID]; ok {
			return existing, nil
		}
		s.rooms[rec.room.ID] = rec
		return rec, nil
	}
	return nil, errors.New("could not allocate a join code")
}

func (s *Store) reserveCode(code, roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byCode[code]; taken {
		return false
	}
	s.byCode[code] = roomID
	return true
}

func (s *Store) releaseCode(code, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byCode[code] == roomID {
		delete(s.byCode, code)
	}
}

// restore inserts a record loaded from the database unless the room is
// already resident, in which case the resident record wins.
func (s *Store) restore(rec *record) *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rooms[rec.room.ID]; ok {
		return existing
	}
	if rec.version == 0 {
		rec.version = 1
	}
	s.rooms[rec.room.ID] = rec
	s.byCode[rec.room.Code] = rec.room.ID
	return rec
}

// update runs mutate on a clone of the room and swaps it in when mutate
// succeeds. errNoChange discards the clone and returns the current record.
// Updates of one room run one at a time; other rooms are not blocked.
// All subscribers see the new snapshot before update returns.
func (s *Store) update(roomID string, mutate func(rec *record) error) (*record, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	current, ok := s.get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	next := current.clone()
	if err := mutate(next); err != nil {
		if errors.Is(err, errNoChange) {
			return current, nil
		}
		return nil, err
	}
	next.version = current.version + 1

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = next
	s.publishLocked(next)
	return next, nil
}

func (s *Store) publishLocked(rec *record) {
	if len(s.subs[rec.room.ID]) == 0 {
		return
	}
	snapshot := rec.snapshot()
	for sub := range s.subs[rec.room.ID] {
		sub.deliver(snapshot)
	}
}

// subscribe returns a channel that always holds the latest snapshot. The
// current state is delivered immediately.
func (s *Store) subscribe(roomID string) (<-chan Snapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	sub := &subscription{ch: make(chan Snapshot, 1)}
	if s.subs[roomID] == nil {
		s.subs[roomID] = make(map[*subscription]struct{})
	}
	s.subs[roomID][sub] = struct{}{}
	sub.ch <- rec.snapshot()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if subs, ok := s.subs[roomID]; ok {
				if _, live := subs[sub]; live {
					delete(subs, sub)
					close(sub.ch)
				}
				if len(subs) == 0 {
					delete(s.subs, roomID)
				}
			}
		})
	}
	return sub.ch, cancel, nil
}

// evict drops the room from memory and closes its subscriptions when idle
// still holds for the resident record. It waits for in-flight updates, so a
// write that lands first is seen by idle. It reports whether the room went.
func (s *Store) evict(roomID string, idle func(rec *record) bool) bool {
	unlock := s.lockRoom(roomID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok || !idle(rec) {
		return false
	}
	delete(s.rooms, roomID)
	if s.byCode[rec.room.Code] == roomID {
		delete(s.byCode, rec.room.Code)
	}
	for sub := range s.subs[roomID] {
		close(sub.ch)
	}
	delete(s.subs, roomID)
	return true
}

// ids returns the resident room ids in a stable order.
func (s *Store) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
