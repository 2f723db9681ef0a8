package room

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sigilo-chat/sigilo/internal/metrics"
)

// Registry owns every live room and the session→rooms reverse index used for
// disconnect cleanup. The registry mutex only guards the two maps; membership
// mutations are serialized per room by the room's own mutex, so slow
// passphrase hashing and one room's churn never stall the others.
type Registry struct {
	mu           sync.RWMutex
	rooms        map[string]*Room
	sessionRooms map[string]map[string]struct{}

	hasher   PasswordHasher
	notifier Notifier
	log      zerolog.Logger
}

// NewRegistry creates an empty registry that broadcasts through the given
// notifier and gates protected rooms with the given hasher. A nil hasher
// falls back to bcrypt at default cost.
func NewRegistry(notifier Notifier, hasher PasswordHasher, log zerolog.Logger) *Registry {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Registry{
		rooms:        make(map[string]*Room),
		sessionRooms: make(map[string]map[string]struct{}),
		hasher:       hasher,
		notifier:     notifier,
		log:          log.With().Str("component", "registry").Logger(),
	}
}

// CreateRoom allocates a fresh room with the creator as its first member and
// returns the new room id. A non-empty passphrase is hashed before the room
// becomes visible; a hashing failure is the only error path.
func (r *Registry) CreateRoom(name, passphrase string, creator Member) (string, error) {
	var passwordHash []byte
	if passphrase != "" {
		hash, err := r.hasher.Hash(passphrase)
		if err != nil {
			return "", fmt.Errorf("%w: hash passphrase: %v", ErrInternal, err)
		}
		passwordHash = hash
	}

	id := uuid.NewString()
	if name == "" {
		name = id
	}

	rm := &Room{
		id:           id,
		name:         name,
		passwordHash: passwordHash,
		members:      map[string]Member{creator.SessionID: creator},
	}

	r.mu.Lock()
	r.rooms[id] = rm
	r.indexAddLocked(creator.SessionID, id)
	r.mu.Unlock()

	metrics.RoomsCreated.Inc()
	metrics.RoomsActive.Inc()
	r.log.Info().
		Str("room_id", id).
		Str("room_name", name).
		Bool("protected", len(passwordHash) > 0).
		Str("session_id", creator.SessionID).
		Msg("room created")

	rm.mu.Lock()
	snap := rm.snapshotLocked()
	rm.mu.Unlock()
	r.broadcast(id, snap)

	return id, nil
}

// Lookup returns the room with the given id, or ErrRoomNotFound.
func (r *Registry) Lookup(roomID string) (*Room, error) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rm, nil
}

// Join adds a member to a room, verifying the passphrase first when the room
// is protected. A rejoin by the same session replaces its previous member
// record. On success every member of the room, the joiner included, receives
// a fresh room-data snapshot.
//
// Passphrase verification happens against the immutable hash outside any
// lock; the destroyed check under the room mutex closes the race against a
// concurrent leave emptying and deleting the room.
func (r *Registry) Join(roomID, passphrase string, m Member) error {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		metrics.RoomJoins.WithLabelValues("not_found").Inc()
		return ErrRoomNotFound
	}

	if len(rm.passwordHash) > 0 {
		if err := r.hasher.Compare(rm.passwordHash, passphrase); err != nil {
			if errors.Is(err, ErrInvalidPassphrase) {
				metrics.RoomJoins.WithLabelValues("bad_passphrase").Inc()
			} else {
				metrics.RoomJoins.WithLabelValues("error").Inc()
			}
			return err
		}
	}

	rm.mu.Lock()
	if rm.destroyed {
		rm.mu.Unlock()
		metrics.RoomJoins.WithLabelValues("not_found").Inc()
		return ErrRoomNotFound
	}
	rm.members[m.SessionID] = m
	snap := rm.snapshotLocked()
	rm.mu.Unlock()

	r.mu.Lock()
	r.indexAddLocked(m.SessionID, roomID)
	r.mu.Unlock()

	metrics.RoomJoins.WithLabelValues("ok").Inc()
	r.log.Info().
		Str("room_id", roomID).
		Str("session_id", m.SessionID).
		Int("members", len(snap)).
		Msg("session joined room")

	r.broadcast(roomID, snap)
	return nil
}

// Leave removes a session from a room, broadcasts the updated snapshot to
// the remaining members, and destroys the room if it is now empty and not
// persistent. Unknown rooms and non-members are silent no-ops.
func (r *Registry) Leave(roomID, sessionID string) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.removeMember(rm, sessionID)
}

// HandleDisconnect removes the session from every room it belongs to,
// applying the same broadcast-and-maybe-destroy sequence as Leave per room.
func (r *Registry) HandleDisconnect(sessionID string) {
	r.mu.RLock()
	memberOf := make([]*Room, 0, len(r.sessionRooms[sessionID]))
	for roomID := range r.sessionRooms[sessionID] {
		if rm, ok := r.rooms[roomID]; ok {
			memberOf = append(memberOf, rm)
		}
	}
	r.mu.RUnlock()

	for _, rm := range memberOf {
		r.removeMember(rm, sessionID)
	}

	if len(memberOf) > 0 {
		r.log.Info().
			Str("session_id", sessionID).
			Int("rooms", len(memberOf)).
			Msg("session swept from rooms on disconnect")
	}
}

// SendEncrypted relays a batch of per-recipient envelopes within a room.
// The whole batch is dropped when the room is gone; individual envelopes are
// dropped when their recipient is no longer a member. Both outcomes are
// silent toward the sender.
func (r *Registry) SendEncrypted(roomID, senderSessionID string, envelopes []Envelope) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		metrics.EnvelopesDropped.WithLabelValues("room_gone").Add(float64(len(envelopes)))
		return
	}

	type delivery struct {
		to  string
		msg EncryptedMessage
	}

	rm.mu.Lock()
	sender := rm.members[senderSessionID]
	deliveries := make([]delivery, 0, len(envelopes))
	dropped := 0
	for _, env := range envelopes {
		if _, member := rm.members[env.ToSessionID]; !member {
			dropped++
			continue
		}
		deliveries = append(deliveries, delivery{
			to: env.ToSessionID,
			msg: EncryptedMessage{
				FromSessionID:   senderSessionID,
				FromUsername:    sender.Username,
				Ciphertext:      env.Ciphertext,
				Nonce:           env.Nonce,
				SenderPublicKey: env.SenderPublicKey,
			},
		})
	}
	rm.mu.Unlock()

	if dropped > 0 {
		metrics.EnvelopesDropped.WithLabelValues("not_member").Add(float64(dropped))
	}
	for _, d := range deliveries {
		r.notifier.Deliver(d.to, EventEncryptedMessage, d.msg)
	}
	metrics.EnvelopesRelayed.Add(float64(len(deliveries)))
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// removeMember applies the leave/disconnect transition for one room: drop the
// member, snapshot, destroy the room if empty and not persistent, then
// broadcast to whoever remains.
func (r *Registry) removeMember(rm *Room, sessionID string) {
	rm.mu.Lock()
	if _, member := rm.members[sessionID]; !member {
		rm.mu.Unlock()
		return
	}
	delete(rm.members, sessionID)
	destroy := len(rm.members) == 0 && !rm.persistent
	if destroy {
		rm.destroyed = true
	}
	snap := rm.snapshotLocked()
	rm.mu.Unlock()

	r.mu.Lock()
	r.indexRemoveLocked(sessionID, rm.id)
	if destroy {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()

	metrics.RoomLeaves.Inc()
	if destroy {
		metrics.RoomsActive.Dec()
		r.log.Info().Str("room_id", rm.id).Msg("room destroyed, last member gone")
	}

	r.broadcast(rm.id, snap)
}

// broadcast pushes a room-data snapshot to every session listed in it.
// Best effort: the mutation that produced the snapshot has already been
// applied and is not rolled back on delivery failure.
func (r *Registry) broadcast(roomID string, users map[string]User) {
	payload := RoomData{RoomID: roomID, Users: users}
	for sessionID := range users {
		r.notifier.Deliver(sessionID, EventRoomData, payload)
	}
}

// indexAddLocked records sessionID as a member of roomID. Callers hold r.mu.
func (r *Registry) indexAddLocked(sessionID, roomID string) {
	set, ok := r.sessionRooms[sessionID]
	if !ok {
		set = make(map[string]struct{})
		r.sessionRooms[sessionID] = set
	}
	set[roomID] = struct{}{}
}

// indexRemoveLocked forgets sessionID's membership in roomID. Callers hold r.mu.
func (r *Registry) indexRemoveLocked(sessionID, roomID string) {
	set, ok := r.sessionRooms[sessionID]
	if !ok {
		return
	}
	delete(set, roomID)
	if len(set) == 0 {
		delete(r.sessionRooms, sessionID)
	}
}
