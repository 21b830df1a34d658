// Package game holds the immutable game definitions produced by the content
// pipeline. A definition is read-only to the room service.
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Kind tags are the JSON discriminators of the round variants.
const (
	KindSandboxedCode = "sandboxed-code"
	KindNativeScene   = "native-scene"
	KindChoiceVote    = "choice-vote"
	KindSpeedAnswer   = "speed-answer"
)

const defaultTimeLimit = 30

// MaxScore caps a single game score.
const MaxScore = 1_000_000_000

type Theme struct {
	Emoji          string `json:"emoji"`
	PrimaryColor   string `json:"primaryColor"`
	SecondaryColor string `json:"secondaryColor"`
	AccentColor    string `json:"accentColor"`
	Mood           string `json:"mood,omitempty"`
}

type Definition struct {
	Title   string  `json:"title"`
	Tagline string  `json:"tagline,omitempty"`
	Theme   Theme   `json:"theme"`
	Rounds  []Round `json:"rounds"`
}

// Round is one entry of a game. Kind carries the fields specific to the
// round's type.
type Round struct {
	Title     string
	TimeLimit int
	Kind      RoundKind
}

// RoundKind is implemented only by the variants in this package:
// SandboxedCode, NativeScene, ChoiceVote and SpeedAnswer.
type RoundKind interface {
	Tag() string
	// NeedsVoting reports whether the round enters the vote phase.
	NeedsVoting() bool
	// Bonus returns the points a submission earns and the bonus recorded on
	// it. elapsedSeconds is measured from the submit phase start.
	Bonus(content string, timeLimit int, elapsedSeconds float64) (points, bonus int)
	sealed()
}

type SandboxedCode struct {
	Code       string `json:"code,omitempty"`
	Difficulty int    `json:"difficulty,omitempty"`
	Theme      string `json:"theme,omitempty"`
}

type NativeScene struct {
	SceneType   string          `json:"sceneType,omitempty"`
	SceneConfig json.RawMessage `json:"sceneConfig,omitempty"`
}

type ChoiceVote struct {
	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options,omitempty"`
}

type SpeedAnswer struct {
	Question     string   `json:"question,omitempty"`
	Answer       string   `json:"answer,omitempty"`
	Choices      []string `json:"choices,omitempty"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
}

func (SandboxedCode) Tag() string { return KindSandboxedCode }
func (NativeScene) Tag() string   { return KindNativeScene }
func (ChoiceVote) Tag() string    { return KindChoiceVote }
func (SpeedAnswer) Tag() string   { return KindSpeedAnswer }

func (SandboxedCode) NeedsVoting() bool { return false }
func (NativeScene) NeedsVoting() bool   { return false }
func (ChoiceVote) NeedsVoting() bool    { return true }
func (SpeedAnswer) NeedsVoting() bool   { return false }

func (SandboxedCode) sealed() {}
func (NativeScene) sealed()   {}
func (ChoiceVote) sealed()    {}
func (SpeedAnswer) sealed()   {}

func (SandboxedCode) Bonus(content string, _ int, _ float64) (int, int) {
	score := ParseGameScore(content)
	return score, score
}

func (NativeScene) Bonus(content string, _ int, _ float64) (int, int) {
	score := ParseGameScore(content)
	return score, score
}

// Bonus is zero at submission time; points arrive through votes.
func (ChoiceVote) Bonus(string, int, float64) (int, int) { return 0, 0 }

func (k SpeedAnswer) Bonus(content string, timeLimit int, elapsedSeconds float64) (int, int) {
	if !k.Correct(content) {
		return 0, 0
	}
	bonus := SpeedBonus(timeLimit, elapsedSeconds)
	return 100 + bonus, bonus
}

// Correct compares a free-text answer case-insensitively, or a choice index
// when the round lists choices.
func (k SpeedAnswer) Correct(content string) bool {
	content = strings.TrimSpace(content)
	if k.CorrectIndex != nil && len(k.Choices) > 0 {
		var index int
		if _, err := fmt.Sscanf(content, "%d", &index); err != nil {
			return false
		}
		return index == *k.CorrectIndex
	}
	if k.Answer == "" {
		return false
	}
	return strings.EqualFold(content, strings.TrimSpace(k.Answer))
}

// SpeedBonus awards ten points per second left on the clock.
func SpeedBonus(timeLimit int, elapsedSeconds float64) int {
	remaining := float64(timeLimit) - elapsedSeconds
	if remaining <= 0 {
		return 0
	}
	return ClampScore(remaining*10 + 0.5)
}

// ParseGameScore reads the score out of a game submission. Content is either
// {"score": n} or a bare number; anything else scores zero.
func ParseGameScore(content string) int {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0
	}
	var payload struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		var bare float64
		if err := json.Unmarshal([]byte(content), &bare); err != nil {
			return 0
		}
		payload.Score = bare
	}
	return ClampScore(payload.Score)
}

// ClampScore floors score into [0, MaxScore]. NaN scores zero.
func ClampScore(score float64) int {
	switch {
	case math.IsNaN(score) || score <= 0:
		return 0
	case score >= MaxScore:
		return MaxScore
	}
	return int(math.Floor(score))
}

// GameScoreContent renders the submission content for a game score.
func GameScoreContent(score int) string {
	return fmt.Sprintf(`{"score":%d}`, ClampScore(float64(score)))
}

type roundJSON struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	TimeLimit int    `json:"timeLimit"`
	SandboxedCode
	NativeScene
	ChoiceVote
	SpeedAnswer
}

func (r Round) MarshalJSON() ([]byte, error) {
	if r.Kind == nil {
		return nil, errors.New("round kind is required")
	}
	out := roundJSON{Type: r.Kind.Tag(), Title: r.Title, TimeLimit: r.TimeLimit}
	switch kind := r.Kind.(type) {
	case SandboxedCode:
		out.SandboxedCode = kind
	case NativeScene:
		out.NativeScene = kind
	case ChoiceVote:
		out.ChoiceVote = kind
	case SpeedAnswer:
		out.SpeedAnswer = kind
	}
	return json.Marshal(out)
}

func (r *Round) UnmarshalJSON(data []byte) error {
	var in roundJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Title = in.Title
	r.TimeLimit = in.TimeLimit
	switch in.Type {
	case KindSandboxedCode:
		r.Kind = in.SandboxedCode
	case KindNativeScene:
		r.Kind = in.NativeScene
	case KindChoiceVote:
		r.Kind = in.ChoiceVote
	case KindSpeedAnswer:
		r.Kind = in.SpeedAnswer
	default:
		return fmt.Errorf("unknown round type %q", in.Type)
	}
	return nil
}

// Limit returns the round's time limit in seconds, defaulting to 30.
func (r Round) Limit() int {
	if r.TimeLimit <= 0 {
		return defaultTimeLimit
	}
	return r.TimeLimit
}

// Parse decodes and validates a definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode game definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) Validate() error {
	if d == nil {
		return errors.New("game definition is nil")
	}
	if strings.TrimSpace(d.Title) == "" {
		return errors.New("game title is required")
	}
	if len(d.Rounds) == 0 {
		return errors.New("game has no rounds")
	}
	for i, round := range d.Rounds {
		if round.Kind == nil {
			return fmt.Errorf("round %d has no type", i)
		}
		if code, ok := round.Kind.(SandboxedCode); ok && strings.TrimSpace(code.Code) == "" {
			return fmt.Errorf("round %d has no code", i)
		}
	}
	return nil
}

// Round returns the round at index or false when out of range.
func (d *Definition) Round(index int) (Round, bool) {
	if d == nil || index < 0 || index >= len(d.Rounds) {
		return Round{}, false
	}
	return d.Rounds[index], true
}

func (d *Definition) TotalRounds() int {
	if d == nil {
		return 0
	}
	return len(d.Rounds)
}
