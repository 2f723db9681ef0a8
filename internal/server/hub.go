// Package server coordinates session registration, targeted event delivery,
// and connection cleanup for the Sigilo websocket gateway via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sigilo-chat/sigilo/internal/config"
	"github.com/sigilo-chat/sigilo/internal/metrics"
	"github.com/sigilo-chat/sigilo/internal/room"
)

// Hub owns every live websocket session, keyed by the session id handed to
// the client on connect. It implements room.Notifier, so the room core
// reaches sessions only through Deliver and never learns about connections.
type Hub struct {
	registry *room.Registry

	sessions   map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	cfg *config.Config
	log zerolog.Logger
}

// NewHub creates a hub ready to manage websocket sessions. BindRegistry must
// be called before the first connection is registered.
func NewHub(cfg *config.Config, log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		cfg:        cfg,
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// BindRegistry wires the room core the hub dispatches events into and
// notifies about disconnects.
func (h *Hub) BindRegistry(registry *room.Registry) {
	h.registry = registry
}

// Deliver sends a named event to a single session. Unknown sessions and full
// send buffers are silent drops; delivery is at-most-once by design.
func (h *Hub) Deliver(sessionID, event string, payload any) {
	h.mutex.RLock()
	client := h.sessions[sessionID]
	h.mutex.RUnlock()

	if client == nil {
		if event == room.EventEncryptedMessage {
			metrics.EnvelopesDropped.WithLabelValues("session_gone").Inc()
		}
		return
	}

	data, err := json.Marshal(outEvent{Event: event, Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode outbound event")
		return
	}

	if !h.safeSend(client, data) {
		h.log.Debug().
			Str("event", event).
			Str("session_id", sessionID).
			Msg("dropped outbound event, session unreachable")
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn().Interface("panic", r).Msg("recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation so the channel cannot be
	// closed out from under the send.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	current, exists := h.sessions[client.id]
	if !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling session registration and
// cleanup. This method should be called in a separate goroutine as it runs
// until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn().Msg("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.sessions[client.id] = client
			sessionCount := len(h.sessions)
			h.mutex.Unlock()

			metrics.SessionsConnected.Inc()
			h.log.Info().
				Str("session_id", client.id).
				Str("addr", client.addr).
				Int("sessions", sessionCount).
				Msg("session connected")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

			// Tell the session its id before any room event can reach it.
			h.Deliver(client.id, EventSession, SessionPayload{SessionID: client.id})

		case client := <-h.unregister:
			h.mutex.Lock()
			if current, ok := h.sessions[client.id]; ok && current == client {
				delete(h.sessions, client.id)
				client.closed = true
				sessionCount := len(h.sessions)
				h.mutex.Unlock()
				// Close the channel after releasing the lock.
				close(client.send)

				metrics.SessionsConnected.Dec()
				h.log.Info().
					Str("session_id", client.id).
					Int("sessions", sessionCount).
					Msg("session disconnected")

				// Sweep the session out of every room it joined.
				h.registry.HandleDisconnect(client.id)
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

// shutdownClients closes all active websocket connections.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.sessions))
	for _, client := range h.sessions {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn().Err(err).Str("addr", client.addr).Msg("error closing client connection")
			}
		}
	}

	h.log.Info().Int("sessions", len(clients)).Msg("closed all client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
