package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peercall/webrtc-signaling/internal/auth"
	"github.com/peercall/webrtc-signaling/internal/ratelimit"
	"github.com/peercall/webrtc-signaling/internal/room"
)

// connState is the per-connection lifecycle. Transitions are the only place
// membership changes: the read loop dispatches on (state, message type).
type connState int

const (
	stateConnecting connState = iota // transport up, identity not yet verified
	stateIdle                        // authenticated, roomless
	statePaired                      // occupying a room (alone or with a peer)
	stateClosed                      // terminal
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateIdle:
		return "idle"
	case statePaired:
		return "paired"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type conn struct {
	id       room.ConnID
	ws       *websocket.Conn
	log      *slog.Logger
	identity auth.Identity
	limiter  *ratelimit.TokenBucket

	// writeMu serializes all data-frame writes. Relay happens on the sender's
	// read goroutine, so per-sender FIFO order falls out of this mutex alone.
	writeMu sync.Mutex

	mu     sync.Mutex
	state  connState
	roomID room.ID

	closeOnce sync.Once
	done      chan struct{}
}

func (c *conn) send(msg wireMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(msg)
}

func (c *conn) sendError(code, message string) {
	if err := c.send(wireMessage{Type: typeError, Code: code, Message: message}); err != nil {
		c.log.Debug("error_event_write_failed", "err", err)
	}
}

// close is terminal and idempotent. The close frame is best-effort; the read
// loop unblocks via the underlying ws.Close.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		_ = c.ws.Close()
		c.writeMu.Unlock()

		close(c.done)
	})
}

func (c *conn) currentState() (connState, room.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.roomID
}

// enterRoom moves an idle connection into a room. Returns false if the
// connection is not in a state that may join (raced with close).
func (c *conn) enterRoom(id room.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return false
	}
	c.state = statePaired
	c.roomID = id
	return true
}

// exitRoom returns the connection to idle after its room dissolved.
func (c *conn) exitRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == statePaired {
		c.state = stateIdle
		c.roomID = ""
	}
}
