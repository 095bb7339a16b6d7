// Package client is a small Go client for the peercall signaling protocol.
// It mirrors the wire protocol one-to-one and adds no policy of its own;
// callers drive pairing and interpret relayed payloads themselves.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one server-to-client message.
type Event struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	TS      int64           `json:"ts,omitempty"`
}

// Event types and signal kinds, as they appear on the wire.
const (
	EventRoomCreated      = "room-created"
	EventRoomJoined       = "room-joined"
	EventReady            = "ready"
	EventSignal           = "signal"
	EventPeerDisconnected = "peer-disconnected"
	EventError            = "error"
	EventPong             = "pong"

	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
)

var ErrClosed = errors.New("client closed")

type Options struct {
	// Token is sent as ?token= on the upgrade request (jwt auth mode).
	Token string
	// APIKey is sent as ?apiKey= on the upgrade request (api_key auth mode).
	APIKey string
	// EventBuffer sizes the received-event channel. Default 32.
	EventBuffer int
}

type Client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	events chan Event

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Dial connects to the signaling endpoint (a ws:// or wss:// URL) and starts
// reading events. Credentials from opts are carried in the query string.
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse signaling url: %w", err)
	}
	q := u.Query()
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	if opts.APIKey != "" {
		q.Set("apiKey", opts.APIKey)
	}
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 32
	}
	c := &Client{
		ws:     ws,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

func (c *Client) readPump() {
	defer close(c.events)
	for {
		var ev Event
		if err := c.ws.ReadJSON(&ev); err != nil {
			c.closeOnce.Do(func() {
				c.closeErr = err
				close(c.done)
				_ = c.ws.Close()
			})
			return
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// Events exposes the received-event stream. The channel closes when the
// connection does.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Next returns the next server event, or an error on timeout or close.
func (c *Client) Next(timeout time.Duration) (Event, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ev, ok := <-c.events:
		if !ok {
			return Event{}, fmt.Errorf("%w: %v", ErrClosed, c.closeErr)
		}
		return ev, nil
	case <-t.C:
		return Event{}, fmt.Errorf("no event within %v", timeout)
	}
}

// Expect reads the next event and fails unless it has the wanted type.
func (c *Client) Expect(eventType string, timeout time.Duration) (Event, error) {
	ev, err := c.Next(timeout)
	if err != nil {
		return Event{}, err
	}
	if ev.Type != eventType {
		return Event{}, fmt.Errorf("got %q event (code=%q), want %q", ev.Type, ev.Code, eventType)
	}
	return ev, nil
}

type wireRequest struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Token   string          `json:"token,omitempty"`
	APIKey  string          `json:"apiKey,omitempty"`
	TS      int64           `json:"ts,omitempty"`
}

func (c *Client) write(msg wireRequest) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(msg)
}

// Auth sends a first-message credential for connections dialed without one.
func (c *Client) Auth(token, apiKey string) error {
	return c.write(wireRequest{Type: "auth", Token: token, APIKey: apiKey})
}

// CreateRoom asks the server for a fresh room. The server answers with a
// room-created event carrying the new room ID.
func (c *Client) CreateRoom() error {
	return c.write(wireRequest{Type: "create-room"})
}

func (c *Client) JoinRoom(roomID string) error {
	return c.write(wireRequest{Type: "join-room", RoomID: roomID})
}

// Signal relays an opaque payload to the peer. payload must marshal to JSON.
func (c *Client) Signal(roomID, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal signal payload: %w", err)
	}
	return c.write(wireRequest{Type: "signal", RoomID: roomID, Kind: kind, Payload: raw})
}

// Ping sends an application-level latency probe; the server echoes ts in a
// pong event.
func (c *Client) Ping() error {
	return c.write(wireRequest{Type: "ping", TS: time.Now().UnixMilli()})
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = ErrClosed
		_ = c.ws.Close()
	})
	return nil
}
