package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

const testGame = `{
  "title": "Test Night",
  "tagline": "Three quick rounds",
  "theme": {"emoji": "🎉", "accentColor": "#ff0"},
  "rounds": [
    {"type": "speed-answer", "title": "Quick", "timeLimit": 20, "question": "Capital of France?", "answer": "Paris"},
    {"type": "choice-vote", "title": "Name it", "timeLimit": 30, "prompt": "Name the ship"},
    {"type": "sandboxed-code", "title": "Dodge", "timeLimit": 30, "code": "function init() PB.ready() end"}
  ]
}`

type testPlayer struct {
	session string
	id      string
	code    string
}

func newSession() string {
	return uuid.NewString()
}

func createRoom(t *testing.T, ts *httptest.Server, name string) testPlayer {
	t.Helper()
	session := newSession()
	resp := doRequest(t, ts, http.MethodPost, "/api/rooms", session, map[string]any{
		"game":  json.RawMessage(testGame),
		"name":  name,
		"emoji": "🦊",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	snapshot := body["snapshot"].(map[string]any)
	roomBody := snapshot["room"].(map[string]any)
	player := body["player"].(map[string]any)
	return testPlayer{session: session, id: player["id"].(string), code: roomBody["code"].(string)}
}

func joinRoom(t *testing.T, ts *httptest.Server, code, name string) testPlayer {
	t.Helper()
	session := newSession()
	resp := doRequest(t, ts, http.MethodPost, "/api/rooms/"+code+"/join", session, map[string]string{"name": name})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	player := body["player"].(map[string]any)
	return testPlayer{session: session, id: player["id"].(string), code: code}
}

func fetchRoom(t *testing.T, ts *httptest.Server, code string) map[string]any {
	t.Helper()
	resp := doRequest(t, ts, http.MethodGet, "/api/rooms/"+code, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	return decodeBody(t, resp)
}

func roomField(t *testing.T, snapshot map[string]any, key string) any {
	t.Helper()
	roomBody, ok := snapshot["room"].(map[string]any)
	if !ok {
		t.Fatalf("expected room object, got %#v", snapshot["room"])
	}
	return roomBody[key]
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, session string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func expectError(t *testing.T, resp *http.Response, status int, message string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d", status, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != message {
		t.Fatalf("expected error %q, got %#v", message, body["error"])
	}
}
