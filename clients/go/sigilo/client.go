// Package sigilo provides a Go client for the Sigilo encrypted room relay.
// It owns an ephemeral NaCl box keypair per connection and seals one envelope
// per recipient before anything leaves the process; the relay only ever sees
// ciphertext.
package sigilo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// User is one room member as published in membership snapshots.
type User struct {
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}

// Message is a decrypted inbound message. When decryption fails Text carries
// DecryptFailedPlaceholder and DecryptFailed is set.
type Message struct {
	FromSessionID string
	FromUsername  string
	Text          string
	DecryptFailed bool
}

// envelope mirrors the relay's per-recipient payload shape.
type envelope struct {
	ToSessionID     string `json:"toSessionId"`
	Ciphertext      string `json:"ciphertext"`
	Nonce           string `json:"nonce"`
	SenderPublicKey string `json:"senderPublicKey"`
}

type event struct {
	Event string          `json:"event"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outEvent struct {
	Event string `json:"event"`
	Ack   uint64 `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type ackData struct {
	OK     bool   `json:"ok"`
	RoomID string `json:"roomId"`
	Error  string `json:"error"`
}

type roomData struct {
	RoomID string          `json:"roomId"`
	Users  map[string]User `json:"users"`
}

type encryptedMessage struct {
	FromSessionID   string `json:"fromSessionId"`
	FromUsername    string `json:"fromUsername"`
	Ciphertext      string `json:"ciphertext"`
	Nonce           string `json:"nonce"`
	SenderPublicKey string `json:"senderPublicKey"`
}

// Option configures a Client at dial time.
type Option func(*Client)

// WithOnMessage registers a handler invoked for every inbound encrypted
// message after decryption (or decryption failure). Called from the read
// loop, so it must not block.
func WithOnMessage(fn func(Message)) Option {
	return func(c *Client) { c.onMessage = fn }
}

// WithOnRoomData registers a handler invoked for every membership snapshot.
// Called from the read loop, so it must not block.
func WithOnRoomData(fn func(roomID string, users map[string]User)) Option {
	return func(c *Client) { c.onRoomData = fn }
}

// Client is a connected Sigilo session.
type Client struct {
	Username string

	conn *websocket.Conn
	keys *KeyPair

	onMessage  func(Message)
	onRoomData func(roomID string, users map[string]User)

	mu        sync.Mutex
	writeMu   sync.Mutex
	sessionID string
	ackSeq    uint64
	pending   map[uint64]chan ackData
	rooms     map[string]map[string]User

	ready chan struct{}
	done  chan struct{}
}

// Dial connects to a relay's /ws endpoint, generates a fresh keypair for the
// connection, and waits for the server-assigned session id.
func Dial(ctx context.Context, url, username string, opts ...Option) (*Client, error) {
	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		Username: username,
		conn:     conn,
		keys:     keys,
		pending:  make(map[uint64]chan ackData),
		rooms:    make(map[string]map[string]User),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()

	select {
	case <-c.ready:
	case <-c.done:
		_ = conn.Close()
		return nil, fmt.Errorf("connection closed before session was assigned")
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}

	return c, nil
}

// SessionID returns the server-assigned session identifier.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// PublicKey returns this connection's base64-encoded public key.
func (c *Client) PublicKey() string {
	return c.keys.PublicKey()
}

// Users returns the most recently received membership snapshot for a room,
// or nil if none has arrived.
func (c *Client) Users(roomID string) map[string]User {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	users := make(map[string]User, len(snap))
	for id, u := range snap {
		users[id] = u
	}
	return users
}

// CreateRoom creates a room, joining it as the first member, and returns the
// new room id. An empty passphrase creates an open room.
func (c *Client) CreateRoom(ctx context.Context, roomName, passphrase string) (string, error) {
	ack, err := c.request(ctx, "create-room", map[string]string{
		"roomName":   roomName,
		"passphrase": passphrase,
		"username":   c.Username,
		"publicKey":  c.keys.PublicKey(),
	})
	if err != nil {
		return "", err
	}
	if !ack.OK {
		return "", fmt.Errorf("create room: %s", ack.Error)
	}
	return ack.RoomID, nil
}

// JoinRoom joins an existing room by id.
func (c *Client) JoinRoom(ctx context.Context, roomID, passphrase string) error {
	ack, err := c.request(ctx, "join-room", map[string]string{
		"roomId":     roomID,
		"passphrase": passphrase,
		"username":   c.Username,
		"publicKey":  c.keys.PublicKey(),
	})
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("join room: %s", ack.Error)
	}
	return nil
}

// LeaveRoom leaves a room. There is no acknowledgment; leaving an unknown
// room is a silent no-op server-side.
func (c *Client) LeaveRoom(roomID string) error {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()

	return c.writeEvent(outEvent{
		Event: "leave-room",
		Data:  map[string]string{"roomId": roomID},
	})
}

// Send encrypts the text once per current member of the room (excluding this
// session) and submits the batch for relay. Delivery is best effort without
// acknowledgment.
func (c *Client) Send(roomID, text string) error {
	c.mu.Lock()
	self := c.sessionID
	snap := c.rooms[roomID]
	recipients := make(map[string]User, len(snap))
	for id, u := range snap {
		if id != self {
			recipients[id] = u
		}
	}
	c.mu.Unlock()

	if len(recipients) == 0 {
		return nil
	}

	messages := make([]envelope, 0, len(recipients))
	for id, u := range recipients {
		ciphertext, nonce, err := c.keys.Seal(text, u.PublicKey)
		if err != nil {
			return fmt.Errorf("seal for %s: %w", id, err)
		}
		messages = append(messages, envelope{
			ToSessionID:     id,
			Ciphertext:      ciphertext,
			Nonce:           nonce,
			SenderPublicKey: c.keys.PublicKey(),
		})
	}

	return c.writeEvent(outEvent{
		Event: "send-encrypted",
		Data: map[string]any{
			"roomId":   roomID,
			"messages": messages,
		},
	})
}

// Close tears down the connection. The server treats this as a disconnect
// and removes the session from every room.
func (c *Client) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

// request sends an acknowledged event and waits for the matching ack.
func (c *Client) request(ctx context.Context, name string, data any) (ackData, error) {
	c.mu.Lock()
	c.ackSeq++
	id := c.ackSeq
	ch := make(chan ackData, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeEvent(outEvent{Event: name, Ack: id, Data: data}); err != nil {
		return ackData{}, err
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-c.done:
		return ackData{}, fmt.Errorf("connection closed waiting for %s ack", name)
	case <-ctx.Done():
		return ackData{}, ctx.Err()
	}
}

func (c *Client) writeEvent(ev outEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var ev event
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}

		switch ev.Event {
		case "session":
			var data struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			c.mu.Lock()
			first := c.sessionID == ""
			c.sessionID = data.SessionID
			c.mu.Unlock()
			if first {
				close(c.ready)
			}

		case "ack":
			var data ackData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			c.mu.Lock()
			ch := c.pending[ev.Ack]
			c.mu.Unlock()
			if ch != nil {
				ch <- data
			}

		case "room-data":
			var data roomData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			c.mu.Lock()
			c.rooms[data.RoomID] = data.Users
			c.mu.Unlock()
			if c.onRoomData != nil {
				c.onRoomData(data.RoomID, data.Users)
			}

		case "encrypted-message":
			var data encryptedMessage
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				continue
			}
			msg := Message{
				FromSessionID: data.FromSessionID,
				FromUsername:  data.FromUsername,
			}
			text, err := c.keys.Open(data.Ciphertext, data.Nonce, data.SenderPublicKey)
			if err != nil {
				msg.Text = DecryptFailedPlaceholder
				msg.DecryptFailed = true
			} else {
				msg.Text = text
			}
			if c.onMessage != nil {
				c.onMessage(msg)
			}
		}
	}
}
