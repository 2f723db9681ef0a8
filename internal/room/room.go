// Package room implements the server-side core of Sigilo: the room registry,
// membership transitions, and the encrypted-envelope relay. The package never
// touches plaintext; ciphertext, nonces, and public keys are opaque
// base64-encoded strings routed by session id.
package room

import "sync"

// Member is one session's presence in a room. A member record is created on
// join and removed on leave or disconnect; it is never mutated in between.
type Member struct {
	SessionID string
	Username  string
	PublicKey string
}

// User is the wire shape of a member inside a room-data snapshot.
type User struct {
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}

// Room is a single membership context. Membership mutations on one room are
// serialized by its own mutex; rooms mutate independently of each other.
type Room struct {
	id           string
	name         string
	passwordHash []byte
	persistent   bool

	mu        sync.Mutex
	members   map[string]Member
	destroyed bool
}

// ID returns the room's immutable identifier.
func (r *Room) ID() string { return r.id }

// Name returns the room's display label.
func (r *Room) Name() string { return r.name }

// Protected reports whether joining requires a passphrase.
func (r *Room) Protected() bool { return len(r.passwordHash) > 0 }

// MemberCount returns the current number of members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// snapshotLocked builds the users mapping broadcast as room-data. Callers must
// hold r.mu.
func (r *Room) snapshotLocked() map[string]User {
	users := make(map[string]User, len(r.members))
	for id, m := range r.members {
		users[id] = User{Username: m.Username, PublicKey: m.PublicKey}
	}
	return users
}
