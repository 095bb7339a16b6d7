package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// wireMessage is the single JSON envelope for every client<->server event.
// Payload is carried verbatim: the relay routes it without looking inside.
type wireMessage struct {
	Type    messageType     `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Kind    signalKind      `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Token   string          `json:"token,omitempty"`
	APIKey  string          `json:"apiKey,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	TS      int64           `json:"ts,omitempty"`
}

type messageType string

const (
	typeAuth             messageType = "auth"
	typeCreateRoom       messageType = "create-room"
	typeRoomCreated      messageType = "room-created"
	typeJoinRoom         messageType = "join-room"
	typeRoomJoined       messageType = "room-joined"
	typeReady            messageType = "ready"
	typeSignal           messageType = "signal"
	typePeerDisconnected messageType = "peer-disconnected"
	typeError            messageType = "error"
	typePing             messageType = "ping"
	typePong             messageType = "pong"
)

type signalKind string

const (
	kindOffer     signalKind = "offer"
	kindAnswer    signalKind = "answer"
	kindCandidate signalKind = "candidate"
)

// Error codes surfaced in `error` events. Recoverable: the connection stays
// open after any of these.
const (
	codeRoomNotFound  = "room_not_found"
	codeRoomFull      = "room_full"
	codeAlreadyInRoom = "already_in_room"
	codeNotInRoom     = "not_in_room"
	codeTooManyRooms  = "too_many_rooms"
)

var errMalformedMessage = errors.New("malformed message")

// parseClientMessage decodes one client frame strictly: unknown fields and
// trailing data are rejected, and type-specific required fields are checked.
// Callers treat any error as MalformedPayload (drop and log, no reply).
func parseClientMessage(data []byte) (wireMessage, error) {
	var msg wireMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return wireMessage{}, fmt.Errorf("%w: %v", errMalformedMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return wireMessage{}, fmt.Errorf("%w: trailing data", errMalformedMessage)
	}

	switch msg.Type {
	case typeAuth, typeCreateRoom, typePing:
		// No required fields beyond the type itself.
	case typeJoinRoom:
		if msg.RoomID == "" {
			return wireMessage{}, fmt.Errorf("%w: join-room without roomId", errMalformedMessage)
		}
	case typeSignal:
		if msg.RoomID == "" {
			return wireMessage{}, fmt.Errorf("%w: signal without roomId", errMalformedMessage)
		}
		switch msg.Kind {
		case kindOffer, kindAnswer, kindCandidate:
		default:
			return wireMessage{}, fmt.Errorf("%w: signal kind %q", errMalformedMessage, msg.Kind)
		}
		if len(msg.Payload) == 0 {
			return wireMessage{}, fmt.Errorf("%w: signal without payload", errMalformedMessage)
		}
	default:
		return wireMessage{}, fmt.Errorf("%w: unknown type %q", errMalformedMessage, msg.Type)
	}
	return msg, nil
}
