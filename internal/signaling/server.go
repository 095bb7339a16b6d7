// Package signaling implements the WebSocket pairing endpoint: it
// authenticates connections, drives room create/join against the registry,
// relays opaque negotiation payloads between the two members of a room, and
// notifies the survivor when its peer drops.
package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peercall/webrtc-signaling/internal/auth"
	"github.com/peercall/webrtc-signaling/internal/config"
	"github.com/peercall/webrtc-signaling/internal/metrics"
	"github.com/peercall/webrtc-signaling/internal/origin"
	"github.com/peercall/webrtc-signaling/internal/ratelimit"
	"github.com/peercall/webrtc-signaling/internal/room"
)

const wsWriteWait = 1 * time.Second

type Server struct {
	cfg      config.Config
	registry *room.Registry
	verifier auth.Verifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[room.ConnID]*conn
}

func NewServer(cfg config.Config, registry *room.Registry, verifier auth.Verifier, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		verifier: verifier,
		metrics:  m,
		log:      logger,
		conns:    make(map[room.ConnID]*conn),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	normalized, originHost, ok := origin.Normalize(originHeader)
	if !ok {
		return false
	}
	return origin.Allowed(normalized, originHost, r.Host, s.cfg.AllowedOrigins)
}

// ConnectionCount reports live signaling connections, for readiness output.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &conn{
		id:      room.ConnID(uuid.NewString()),
		ws:      ws,
		limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{}, int64(s.cfg.MaxSignalingMessagesPerSecond), int64(s.cfg.MaxSignalingMessagesPerSecond)),
		done:    make(chan struct{}),
	}
	c.log = s.log.With("conn_id", string(c.id), "remote_addr", r.RemoteAddr)
	ws.SetReadLimit(s.cfg.MaxSignalingMessageBytes)

	if !s.authenticate(c, r) {
		c.close(websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	c.log.Info("signaling_connected", "subject", c.identity.Subject)

	ws.SetPongHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
		if ms, err := strconv.ParseInt(appData, 10, 64); err == nil {
			c.log.Debug("latency_probe_rtt", "rtt", time.Since(time.UnixMilli(ms)))
		}
		return nil
	})
	go s.keepalive(c)

	defer s.teardown(c)
	s.readLoop(c)
}

// authenticate gates the connection per the configured mode: credential in
// the upgrade query, else a first `auth` message within the auth timeout.
// On failure the caller closes the socket; no error event, no registry state.
func (s *Server) authenticate(c *conn, r *http.Request) bool {
	if s.cfg.AuthMode == config.AuthModeNone {
		return true
	}

	cred, err := auth.CredentialFromQuery(s.cfg.AuthMode, r.URL.Query())
	if err == nil {
		identity, err := s.verifier.Verify(cred)
		if err != nil {
			s.metrics.Inc(metrics.AuthFailure)
			c.log.Info("auth_rejected", "source", "query", "err", err)
			return false
		}
		c.identity = identity
		return true
	}
	if !errors.Is(err, auth.ErrMissingCredentials) {
		c.log.Error("auth_config_invalid", "err", err)
		return false
	}

	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.SignalingAuthTimeout))
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			s.metrics.Inc(metrics.AuthFailure)
			c.log.Info("auth_rejected", "source", "timeout")
		}
		return false
	}
	if msgType != websocket.TextMessage {
		s.metrics.Inc(metrics.AuthFailure)
		return false
	}
	msg, err := parseClientMessage(data)
	if err != nil || msg.Type != typeAuth {
		s.metrics.Inc(metrics.AuthFailure)
		c.log.Info("auth_rejected", "source", "first_message")
		return false
	}
	cred = msg.Token
	if s.cfg.AuthMode == config.AuthModeAPIKey {
		cred = msg.APIKey
	}
	if cred == "" {
		s.metrics.Inc(metrics.AuthFailure)
		return false
	}
	identity, err := s.verifier.Verify(cred)
	if err != nil {
		s.metrics.Inc(metrics.AuthFailure)
		c.log.Info("auth_rejected", "source", "first_message", "err", err)
		return false
	}
	c.identity = identity
	_ = c.ws.SetReadDeadline(time.Time{})
	return true
}

func (s *Server) readLoop(c *conn) {
	if s.cfg.SignalingWSIdleTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
	}
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if s.cfg.SignalingWSIdleTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.SignalingWSIdleTimeout))
		}

		if !c.limiter.Allow() {
			s.metrics.Inc(metrics.RateLimited)
			c.close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.MalformedMessages)
			c.log.Debug("message_dropped", "reason", "non_text_frame")
			continue
		}
		msg, err := parseClientMessage(data)
		if err != nil {
			// Malformed input is dropped: no reply, connection stays open.
			s.metrics.Inc(metrics.MalformedMessages)
			c.log.Debug("message_dropped", "reason", "malformed", "err", err)
			continue
		}

		s.dispatch(c, msg)
	}
}

func (s *Server) dispatch(c *conn, msg wireMessage) {
	state, roomID := c.currentState()
	if state == stateClosed {
		return
	}

	switch msg.Type {
	case typeAuth:
		// Redundant auth after a successful handshake is tolerated.
	case typePing:
		if err := c.send(wireMessage{Type: typePong, TS: msg.TS}); err != nil {
			c.log.Debug("pong_write_failed", "err", err)
		}
	case typeCreateRoom:
		s.createRoom(c, state)
	case typeJoinRoom:
		s.joinRoom(c, state, room.ID(msg.RoomID))
	case typeSignal:
		s.relay(c, state, roomID, msg)
	}
}

func (s *Server) createRoom(c *conn, state connState) {
	if state == statePaired {
		c.sendError(codeAlreadyInRoom, "already in a room")
		return
	}

	id, err := s.registry.Create(c.id)
	switch {
	case errors.Is(err, room.ErrTooManyRooms):
		s.metrics.Inc(metrics.TooManyRooms)
		c.sendError(codeTooManyRooms, "too many active rooms")
		return
	case errors.Is(err, room.ErrAlreadyInRoom):
		c.sendError(codeAlreadyInRoom, "already in a room")
		return
	case err != nil:
		// Internal failure: log with context, keep the connection and the
		// process alive. The registry mutates nothing on error.
		c.log.Error("create_room_failed", "err", err)
		return
	}

	if !c.enterRoom(id) {
		// Lost a race with close; undo the registry entry.
		s.registry.Leave(c.id)
		return
	}
	s.metrics.Inc(metrics.RoomsCreated)
	c.log.Info("room_created", "room_id", string(id))
	if err := c.send(wireMessage{Type: typeRoomCreated, RoomID: string(id)}); err != nil {
		c.log.Debug("room_created_write_failed", "err", err)
	}
}

func (s *Server) joinRoom(c *conn, state connState, roomID room.ID) {
	if state == statePaired {
		c.sendError(codeAlreadyInRoom, "already in a room")
		return
	}

	ready, peerID, err := s.registry.Join(roomID, c.id)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		c.sendError(codeRoomNotFound, "room not found")
		return
	case errors.Is(err, room.ErrRoomFull):
		c.sendError(codeRoomFull, "room is full")
		return
	case errors.Is(err, room.ErrAlreadyInRoom):
		c.sendError(codeAlreadyInRoom, "already in a room")
		return
	case err != nil:
		c.log.Error("join_room_failed", "err", err)
		return
	}

	s.finishJoin(c, roomID, ready, peerID)
}

// finishJoin lands the connection-state transition for a join the registry
// has already committed, then sends the confirmations. The creator may
// disconnect between the registry commit and the transition; teardown then
// dissolves the room without seeing this connection as paired, so membership
// is re-checked after the transition and rolled back if the room is gone.
func (s *Server) finishJoin(c *conn, roomID room.ID, ready bool, peerID room.ConnID) {
	if !c.enterRoom(roomID) {
		s.registry.Leave(c.id)
		return
	}
	if got, ok := s.registry.RoomOf(c.id); !ok || got != roomID {
		c.exitRoom()
		c.sendError(codeRoomNotFound, "room not found")
		return
	}
	s.metrics.Inc(metrics.RoomsJoined)
	c.log.Info("room_joined", "room_id", string(roomID))
	if err := c.send(wireMessage{Type: typeRoomJoined, RoomID: string(roomID)}); err != nil {
		c.log.Debug("room_joined_write_failed", "err", err)
	}

	if ready {
		s.metrics.Inc(metrics.RoomsReady)
		readyMsg := wireMessage{Type: typeReady, RoomID: string(roomID)}
		if err := c.send(readyMsg); err != nil {
			c.log.Debug("ready_write_failed", "err", err)
		}
		if peer := s.lookup(peerID); peer != nil {
			if err := peer.send(readyMsg); err != nil {
				peer.log.Debug("ready_write_failed", "err", err)
			}
		}
	}
}

// relay forwards a signal to the other member of the sender's room. Failures
// are silent: drop, log, count, never an error event back to the sender.
func (s *Server) relay(c *conn, state connState, roomID room.ID, msg wireMessage) {
	if state != statePaired || roomID != room.ID(msg.RoomID) {
		s.metrics.Inc(metrics.SignalsDropped)
		c.log.Debug("signal_dropped", "reason", "not_room_member", "room_id", msg.RoomID)
		return
	}

	peerID, ok := s.registry.Peer(roomID, c.id)
	if !ok {
		s.metrics.Inc(metrics.SignalsDropped)
		c.log.Debug("signal_dropped", "reason", "no_peer", "room_id", string(roomID))
		return
	}
	peer := s.lookup(peerID)
	if peer == nil {
		s.metrics.Inc(metrics.SignalsDropped)
		c.log.Debug("signal_dropped", "reason", "peer_gone", "room_id", string(roomID))
		return
	}

	out := wireMessage{Type: typeSignal, RoomID: string(roomID), Kind: msg.Kind, Payload: msg.Payload}
	if err := peer.send(out); err != nil {
		s.metrics.Inc(metrics.SignalsDropped)
		c.log.Debug("signal_dropped", "reason", "write_failed", "err", err)
		return
	}
	s.metrics.Inc(metrics.SignalsRelayed)
}

// teardown is the sole cleanup path, for abrupt drops and graceful closes
// alike. It dissolves the connection's room and notifies the survivor once.
func (s *Server) teardown(c *conn) {
	c.close(websocket.CloseNormalClosure, "")

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	roomID, peerID, ok := s.registry.Leave(c.id)
	if ok {
		s.metrics.Inc(metrics.RoomsDeleted)
		c.log.Info("room_dissolved", "room_id", string(roomID))
	}
	if ok && peerID != "" {
		if peer := s.lookup(peerID); peer != nil {
			peer.exitRoom()
			s.metrics.Inc(metrics.PeerDisconnects)
			if err := peer.send(wireMessage{Type: typePeerDisconnected, RoomID: string(roomID)}); err != nil {
				peer.log.Debug("peer_disconnected_write_failed", "err", err)
			}
		}
	}
	c.log.Info("signaling_disconnected")
}

func (s *Server) lookup(id room.ConnID) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

// keepalive sends transport-level pings carrying a send timestamp; the pong
// handler turns the echo into an RTT observation and extends the read
// deadline. Purely advisory: it never gates pairing or relay.
func (s *Server) keepalive(c *conn) {
	if s.cfg.SignalingWSPingInterval <= 0 {
		return
	}
	t := time.NewTicker(s.cfg.SignalingWSPingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-t.C:
			appData := strconv.FormatInt(now.UnixMilli(), 10)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte(appData), time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// Close terminates every live connection. Used on shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
