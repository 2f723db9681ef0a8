// Package server exposes the websocket upgrade handler and the inbound event
// dispatcher that bridges sessions to the room core.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sigilo-chat/sigilo/internal/room"
)

// ServeWS handles websocket upgrade requests. It upgrades the connection,
// creates a Client with a fresh session id, and hands it to the hub, which
// launches the pump goroutines and emits the session event.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, h, r.RemoteAddr)

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close()
	}
}

// dispatch decodes an inbound frame and routes it to the matching handler.
// Malformed frames are logged and dropped; the transport never sees a fault.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.Warn().Err(err).Msg("invalid frame from session")
		return
	}

	switch ev.Event {
	case EventCreateRoom:
		h.handleCreateRoom(c, ev)
	case EventJoinRoom:
		h.handleJoinRoom(c, ev)
	case EventLeaveRoom:
		h.handleLeaveRoom(c, ev)
	case EventSendEncrypted:
		h.handleSendEncrypted(c, ev)
	default:
		c.log.Debug().Str("event", ev.Event).Msg("unknown event from session")
	}
}

func (h *Hub) handleCreateRoom(c *Client, ev Event) {
	defer h.trapInternal(c, ev.Ack)

	var req CreateRoomPayload
	if err := json.Unmarshal(ev.Data, &req); err != nil {
		c.log.Warn().Err(err).Msg("malformed create-room payload")
		h.ack(c, ev.Ack, AckPayload{OK: false, Error: room.ErrInternal.Error()})
		return
	}

	creator := room.Member{
		SessionID: c.id,
		Username:  req.Username,
		PublicKey: req.PublicKey,
	}

	roomID, err := h.registry.CreateRoom(req.RoomName, req.Passphrase, creator)
	if err != nil {
		h.ack(c, ev.Ack, AckPayload{OK: false, Error: userMessage(err)})
		return
	}
	h.ack(c, ev.Ack, AckPayload{OK: true, RoomID: roomID})
}

func (h *Hub) handleJoinRoom(c *Client, ev Event) {
	defer h.trapInternal(c, ev.Ack)

	var req JoinRoomPayload
	if err := json.Unmarshal(ev.Data, &req); err != nil {
		c.log.Warn().Err(err).Msg("malformed join-room payload")
		h.ack(c, ev.Ack, AckPayload{OK: false, Error: room.ErrInternal.Error()})
		return
	}

	member := room.Member{
		SessionID: c.id,
		Username:  req.Username,
		PublicKey: req.PublicKey,
	}

	if err := h.registry.Join(req.RoomID, req.Passphrase, member); err != nil {
		h.ack(c, ev.Ack, AckPayload{OK: false, Error: userMessage(err)})
		return
	}
	h.ack(c, ev.Ack, AckPayload{OK: true, RoomID: req.RoomID})
}

func (h *Hub) handleLeaveRoom(c *Client, ev Event) {
	defer h.trapInternal(c, 0)

	var req LeaveRoomPayload
	if err := json.Unmarshal(ev.Data, &req); err != nil {
		c.log.Warn().Err(err).Msg("malformed leave-room payload")
		return
	}
	h.registry.Leave(req.RoomID, c.id)
}

func (h *Hub) handleSendEncrypted(c *Client, ev Event) {
	defer h.trapInternal(c, 0)

	var req SendEncryptedPayload
	if err := json.Unmarshal(ev.Data, &req); err != nil {
		c.log.Warn().Err(err).Msg("malformed send-encrypted payload")
		return
	}
	h.registry.SendEncrypted(req.RoomID, c.id, req.Messages)
}

// ack replies to an acknowledged request. Requests without an ack id get no
// reply, matching the fire-and-forget events.
func (h *Hub) ack(c *Client, ackID uint64, payload AckPayload) {
	if ackID == 0 {
		return
	}

	data, err := json.Marshal(outEvent{Event: EventAck, Ack: ackID, Data: payload})
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode ack")
		return
	}
	h.safeSend(c, data)
}

// trapInternal converts a handler panic into an InternalError ack so a fault
// in one session's request can never tear down the read pump or reach the
// transport layer.
func (h *Hub) trapInternal(c *Client, ackID uint64) {
	if r := recover(); r != nil {
		c.log.Error().Interface("panic", r).Msg("recovered from panic in event handler")
		h.ack(c, ackID, AckPayload{OK: false, Error: room.ErrInternal.Error()})
	}
}

// userMessage maps a room core error to the message surfaced in acks.
// Anything outside the known taxonomy collapses to the internal error text.
func userMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return room.ErrRoomNotFound.Error()
	case errors.Is(err, room.ErrInvalidPassphrase):
		return room.ErrInvalidPassphrase.Error()
	default:
		return room.ErrInternal.Error()
	}
}
