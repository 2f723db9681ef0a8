package room

// Event names emitted by the core toward sessions.
const (
	EventRoomData         = "room-data"
	EventEncryptedMessage = "encrypted-message"
)

// RoomData is the membership snapshot broadcast to every member of a room
// after any membership change. It doubles as the key directory: the publicKey
// in each entry is the only place a member's key is published.
type RoomData struct {
	RoomID string          `json:"roomId"`
	Users  map[string]User `json:"users"`
}

// EncryptedMessage is the targeted delivery produced by the relay for a
// single recipient. The server never inspects ciphertext or nonce.
type EncryptedMessage struct {
	FromSessionID   string `json:"fromSessionId"`
	FromUsername    string `json:"fromUsername"`
	Ciphertext      string `json:"ciphertext"`
	Nonce           string `json:"nonce"`
	SenderPublicKey string `json:"senderPublicKey"`
}

// Envelope is one recipient-specific encrypted payload inside a
// send-encrypted batch.
type Envelope struct {
	ToSessionID     string `json:"toSessionId"`
	Ciphertext      string `json:"ciphertext"`
	Nonce           string `json:"nonce"`
	SenderPublicKey string `json:"senderPublicKey"`
}

// Notifier delivers a named event to a single session. Implemented by the
// websocket hub; delivery is best effort and non-blocking with respect to the
// registry's locks.
type Notifier interface {
	Deliver(sessionID, event string, payload any)
}
