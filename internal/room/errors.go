package room

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrGameNotFound       = errors.New("game not found")

	ErrNotHost     = errors.New("only the host can do that")
	ErrSpectator   = errors.New("spectators cannot submit")
	ErrRateLimited = errors.New("too many requests")

	ErrAlreadyStarted      = errors.New("game already started")
	ErrInsufficientPlayers = errors.New("need at least 2 players")
	ErrGameNotInProgress   = errors.New("game not in progress")
	ErrHostStillConnected  = errors.New("host is still connected")
	ErrGameNotFinished     = errors.New("game not finished")
	ErrNoRounds            = errors.New("game has no rounds")

	ErrAlreadySubmitted = errors.New("already submitted")
	ErrAlreadyVoted     = errors.New("already voted")

	ErrSelfVote     = errors.New("cannot vote for your own submission")
	ErrInvalidInput = errors.New("invalid input")

	// errNoChange aborts a mutation without an error for the caller.
	errNoChange = errors.New("no change")
)

// ErrorKind groups errors by how callers should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindAuthorization
	KindPrecondition
	KindConflict
	KindValidation
	KindRateLimited
)

var errorKinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindNotFound, []error{ErrRoomNotFound, ErrPlayerNotFound, ErrSubmissionNotFound, ErrGameNotFound}},
	{KindAuthorization, []error{ErrNotHost, ErrSpectator}},
	{KindPrecondition, []error{ErrAlreadyStarted, ErrInsufficientPlayers, ErrGameNotInProgress, ErrHostStillConnected, ErrGameNotFinished, ErrNoRounds}},
	{KindConflict, []error{ErrAlreadySubmitted, ErrAlreadyVoted}},
	{KindValidation, []error{ErrSelfVote, ErrInvalidInput}},
	{KindRateLimited, []error{ErrRateLimited}},
}

// Kind classifies err; unknown errors are KindInternal.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	for _, group := range errorKinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}

// Sentinel returns the exported error err wraps, or nil.
func Sentinel(err error) error {
	for _, group := range errorKinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return target
			}
		}
	}
	return nil
}

// ParseError maps a sentinel's message back to the sentinel. Clients use it
// to recover typed errors from a response body.
func ParseError(message string) (error, bool) {
	for _, group := range errorKinds {
		for _, target := range group.errs {
			if target.Error() == message {
				return target, true
			}
		}
	}
	return nil, false
}
