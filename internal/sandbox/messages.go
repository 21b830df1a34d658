// Package sandbox runs untrusted game code behind a message protocol. The
// trusted side only ever sees messages; the game sees only the capability
// table it is handed.
package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"party-play/internal/game"
)

type Type string

// Parent to sandbox.
const (
	TypeInit       Type = "INIT"
	TypeStart      Type = "START"
	TypeEnd        Type = "END"
	TypeInput      Type = "INPUT"
	TypeVisibility Type = "VISIBILITY"
)

// Sandbox to parent.
const (
	TypeReady       Type = "READY"
	TypeHeartbeat   Type = "HEARTBEAT"
	TypeScoreUpdate Type = "SCORE_UPDATE"
	TypeComplete    Type = "COMPLETE"
	TypeError       Type = "ERROR"
)

var ErrUnknownType = errors.New("unknown message type")

// Message is one frame on the wire: {"type": ..., "payload": ...}.
type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type PlayerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
	Color string `json:"color,omitempty"`
	Index int    `json:"index"`
}

type RoundConfig struct {
	TimeLimit  int    `json:"timeLimit"`
	Difficulty int    `json:"difficulty"`
	Theme      string `json:"theme,omitempty"`
}

type InitPayload struct {
	Player PlayerInfo  `json:"player"`
	Config RoundConfig `json:"config"`
	Theme  game.Theme  `json:"theme"`
}

type InputPayload struct {
	Left        bool    `json:"left"`
	Right       bool    `json:"right"`
	Up          bool    `json:"up"`
	Down        bool    `json:"down"`
	Action      bool    `json:"action"`
	PointerX    float64 `json:"pointerX"`
	PointerY    float64 `json:"pointerY"`
	PointerDown bool    `json:"pointerDown"`
}

type VisibilityPayload struct {
	Hidden bool `json:"hidden"`
}

// HeartbeatPayload reports liveness. DrawCallsPerFrame is averaged over the
// frames since the previous heartbeat.
type HeartbeatPayload struct {
	FrameCount        int     `json:"frameCount"`
	DrawCallsPerFrame float64 `json:"drawCallsPerFrame"`
	Score             int     `json:"score"`
	ErrorCount        int     `json:"errorCount"`
}

type ScorePayload struct {
	Score int `json:"score"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

func newMessage(kind Type, payload any) Message {
	msg := Message{Type: kind}
	if payload != nil {
		// Payload types here are plain structs and always marshal.
		msg.Payload, _ = json.Marshal(payload)
	}
	return msg
}

func Init(payload InitPayload) Message   { return newMessage(TypeInit, payload) }
func Start() Message                     { return newMessage(TypeStart, nil) }
func End() Message                       { return newMessage(TypeEnd, nil) }
func Input(payload InputPayload) Message { return newMessage(TypeInput, payload) }
func Visibility(hidden bool) Message {
	return newMessage(TypeVisibility, VisibilityPayload{Hidden: hidden})
}
func Ready() Message                             { return newMessage(TypeReady, nil) }
func Heartbeat(payload HeartbeatPayload) Message { return newMessage(TypeHeartbeat, payload) }
func ScoreUpdate(score int) Message              { return newMessage(TypeScoreUpdate, ScorePayload{Score: score}) }
func Complete(score int) Message                 { return newMessage(TypeComplete, ScorePayload{Score: score}) }
func Error(message string, fatal bool) Message {
	return newMessage(TypeError, ErrorPayload{Message: message, Fatal: fatal})
}

func (t Type) known() bool {
	switch t {
	case TypeInit, TypeStart, TypeEnd, TypeInput, TypeVisibility,
		TypeReady, TypeHeartbeat, TypeScoreUpdate, TypeComplete, TypeError:
		return true
	}
	return false
}

func Encode(msg Message) ([]byte, error) {
	if !msg.Type.known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return json.Marshal(msg)
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !msg.Type.known() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return msg, nil
}

// Decode unmarshals the payload into out. A missing payload leaves out
// untouched and returns false.
func (m Message) Decode(out any) (bool, error) {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return false, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return true, nil
}
