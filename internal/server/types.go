// Package server defines the wire event types and utility helpers shared by
// the hub and client logic.
package server

import (
	"encoding/json"
	"strings"

	"github.com/sigilo-chat/sigilo/internal/room"
)

// Event names carried on websocket frames. Server-emitted room events
// (room-data, encrypted-message) are named in the room package next to their
// payloads.
const (
	EventSession       = "session"
	EventAck           = "ack"
	EventCreateRoom    = "create-room"
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventSendEncrypted = "send-encrypted"
)

// Event is the inbound frame format: a named event with an optional payload
// and an optional acknowledgment id. Clients that want an ack reply pick a
// non-zero id; the server echoes it on the ack event.
type Event struct {
	Event string          `json:"event"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outEvent is the outbound frame format. Data is marshaled in place.
type outEvent struct {
	Event string `json:"event"`
	Ack   uint64 `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// SessionPayload tells a freshly connected client its assigned session id.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// CreateRoomPayload is the create-room request body.
type CreateRoomPayload struct {
	RoomName   string `json:"roomName"`
	Passphrase string `json:"passphrase"`
	Username   string `json:"username"`
	PublicKey  string `json:"publicKey"`
}

// JoinRoomPayload is the join-room request body.
type JoinRoomPayload struct {
	RoomID     string `json:"roomId"`
	Passphrase string `json:"passphrase"`
	Username   string `json:"username"`
	PublicKey  string `json:"publicKey"`
}

// LeaveRoomPayload is the leave-room request body.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendEncryptedPayload is the send-encrypted request body: a batch of
// per-recipient envelopes for one room.
type SendEncryptedPayload struct {
	RoomID   string          `json:"roomId"`
	Messages []room.Envelope `json:"messages"`
}

// AckPayload is the response body for acknowledged requests.
type AckPayload struct {
	OK     bool   `json:"ok"`
	RoomID string `json:"roomId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
