package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"party-play/internal/room"
)

const sessionHeader = "X-Session-ID"

// Remote calls a room over HTTP.
type Remote struct {
	BaseURL   string
	Code      string
	SessionID string
	PlayerID  string
	HTTP      *http.Client
}

type joinResponse struct {
	Snapshot room.Snapshot `json:"snapshot"`
	Player   room.Player   `json:"player"`
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Dial joins the room with code on the server at baseURL. An empty session
// id gets a fresh one.
func Dial(ctx context.Context, baseURL, code string, id room.Identity) (*Remote, room.Snapshot, error) {
	if id.SessionID == "" {
		id.SessionID = uuid.NewString()
	}
	r := &Remote{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Code:      strings.ToUpper(strings.TrimSpace(code)),
		SessionID: id.SessionID,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
	var resp joinResponse
	err := r.do(ctx, http.MethodPost, "/join", map[string]string{"name": id.Name, "emoji": id.Emoji}, &resp)
	if err != nil {
		return nil, room.Snapshot{}, err
	}
	r.PlayerID = resp.Player.ID
	return r, resp.Snapshot, nil
}

func (r *Remote) Heartbeat(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, "/heartbeat", nil, nil)
}

func (r *Remote) AdvancePhase(ctx context.Context, expect room.Position) error {
	return r.do(ctx, http.MethodPost, "/advance", map[string]room.Position{"expect": expect}, nil)
}

func (r *Remote) TransferHost(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, "/transfer-host", nil, nil)
}

func (r *Remote) SubmitScore(ctx context.Context, round int, content string, kind room.SubmissionType) error {
	return r.do(ctx, http.MethodPost, "/submissions", map[string]any{
		"round":   round,
		"content": content,
		"type":    kind,
	}, nil)
}

func (r *Remote) Vote(ctx context.Context, submissionID string, round int) error {
	return r.do(ctx, http.MethodPost, "/votes", map[string]any{
		"submissionId": submissionID,
		"round":        round,
	}, nil)
}

func (r *Remote) UpdatePosition(ctx context.Context, update room.PositionUpdate) error {
	return r.do(ctx, http.MethodPost, "/positions", update, nil)
}

// Snapshot fetches the room once.
func (r *Remote) Snapshot(ctx context.Context) (room.Snapshot, error) {
	var snap room.Snapshot
	err := r.do(ctx, http.MethodGet, "", nil, &snap)
	return snap, err
}

func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+"/api/rooms/"+url.PathEscape(r.Code)+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(sessionHeader, r.SessionID)
	httpClient := r.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeError turns an error response back into the room error it came
// from when the message names one.
func decodeError(method, path string, resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	if sentinel, ok := room.ParseError(body.Error); ok {
		if body.Detail != "" {
			return fmt.Errorf("%w: %s", sentinel, strings.TrimPrefix(body.Detail, body.Error+": "))
		}
		return sentinel
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, body.Error)
}

// Stream is a websocket feed of room snapshots. Only the newest unread
// snapshot is kept.
type Stream struct {
	conn      *websocket.Conn
	snapshots chan room.Snapshot
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Subscribe opens the room's snapshot stream. The stream ends when ctx is
// cancelled, Close is called or the server drops the connection.
func (r *Remote) Subscribe(ctx context.Context) (*Stream, error) {
	wsURL, err := url.Parse(r.BaseURL + "/ws/rooms/" + url.PathEscape(r.Code))
	if err != nil {
		return nil, err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial room stream: %w", err)
	}
	s := &Stream{conn: conn, snapshots: make(chan room.Snapshot, 1), done: make(chan struct{})}
	go s.read()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *Stream) Snapshots() <-chan room.Snapshot { return s.snapshots }

// Err reports why the stream ended. It is nil until the channel closes and
// after a normal close.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

func (s *Stream) read() {
	defer close(s.done)
	defer close(s.snapshots)
	for {
		var snap room.Snapshot
		if err := s.conn.ReadJSON(&snap); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				s.err = err
			}
			return
		}
		select {
		case <-s.snapshots:
		default:
		}
		s.snapshots <- snap
	}
}
