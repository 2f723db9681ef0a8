package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sigilo-chat/sigilo/clients/go/sigilo"
	"github.com/sigilo-chat/sigilo/internal/config"
	"github.com/sigilo-chat/sigilo/internal/room"
	"github.com/sigilo-chat/sigilo/internal/server"
)

// newRelay starts a full relay (hub + registry + router) on an ephemeral
// port and returns the base HTTP URL and the websocket URL.
func newRelay(t *testing.T, customize func(cfg *config.Config)) (baseURL, wsURL string) {
	t.Helper()

	cfg := &config.Config{
		Env:            "test",
		MaxMessageSize: 64 * 1024,
		RateLimit:      config.RateLimitConfig{Burst: 100, RefillInterval: time.Second},
	}
	if customize != nil {
		customize(cfg)
	}

	logger := zerolog.Nop()
	hub := server.NewHub(cfg, logger)
	registry := room.NewRegistry(hub, room.BcryptHasher{Cost: 4}, logger)
	hub.BindRegistry(registry)
	go hub.Run()

	ts := httptest.NewServer(server.NewRouter(logger, hub))
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})

	return ts.URL, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHealthEndpoint(t *testing.T) {
	baseURL, _ := newRelay(t, nil)

	resp, err := http.Get(baseURL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	baseURL, _ := newRelay(t, nil)

	resp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionAssignedOnConnect(t *testing.T) {
	_, wsURL := newRelay(t, nil)
	ctx := testCtx(t)

	alice, err := sigilo.Dial(ctx, wsURL, "alice")
	require.NoError(t, err)
	defer alice.Close()

	require.NotEmpty(t, alice.SessionID())
	require.NotEmpty(t, alice.PublicKey())

	bob, err := sigilo.Dial(ctx, wsURL, "bob")
	require.NoError(t, err)
	defer bob.Close()

	require.NotEqual(t, alice.SessionID(), bob.SessionID())
}

func TestEncryptedRoomScenario(t *testing.T) {
	_, wsURL := newRelay(t, nil)
	ctx := testCtx(t)

	aliceSnaps := make(chan int, 16)
	alice, err := sigilo.Dial(ctx, wsURL, "alice",
		sigilo.WithOnRoomData(func(_ string, users map[string]sigilo.User) {
			aliceSnaps <- len(users)
		}))
	require.NoError(t, err)
	defer alice.Close()

	roomID, err := alice.CreateRoom(ctx, "Test", "secret123")
	require.NoError(t, err)
	require.NotEmpty(t, roomID)
	waitForSnapshot(t, aliceSnaps, 1)

	bobMsgs := make(chan sigilo.Message, 16)
	bobSnaps := make(chan int, 16)
	bob, err := sigilo.Dial(ctx, wsURL, "bob",
		sigilo.WithOnMessage(func(m sigilo.Message) { bobMsgs <- m }),
		sigilo.WithOnRoomData(func(_ string, users map[string]sigilo.User) {
			bobSnaps <- len(users)
		}))
	require.NoError(t, err)
	defer bob.Close()

	err = bob.JoinRoom(ctx, roomID, "wrong")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Senha incorreta")

	err = bob.JoinRoom(ctx, roomID, "secret123")
	require.NoError(t, err)

	// Both sides see the two-member snapshot before anything is sent.
	waitForSnapshot(t, bobSnaps, 2)
	waitForSnapshot(t, aliceSnaps, 2)

	require.NoError(t, alice.Send(roomID, "olá bob"))

	select {
	case msg := <-bobMsgs:
		require.Equal(t, "olá bob", msg.Text)
		require.Equal(t, "alice", msg.FromUsername)
		require.Equal(t, alice.SessionID(), msg.FromSessionID)
		require.False(t, msg.DecryptFailed)
	case <-time.After(3 * time.Second):
		t.Fatal("bob never received the encrypted message")
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	_, wsURL := newRelay(t, nil)
	ctx := testCtx(t)

	bob, err := sigilo.Dial(ctx, wsURL, "bob")
	require.NoError(t, err)
	defer bob.Close()

	err = bob.JoinRoom(ctx, "00000000-0000-0000-0000-000000000000", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Room não existe")
}

func TestRoomDestroyedWhenLastMemberLeaves(t *testing.T) {
	_, wsURL := newRelay(t, nil)
	ctx := testCtx(t)

	alice, err := sigilo.Dial(ctx, wsURL, "alice")
	require.NoError(t, err)
	defer alice.Close()

	roomID, err := alice.CreateRoom(ctx, "ephemeral", "")
	require.NoError(t, err)

	require.NoError(t, alice.LeaveRoom(roomID))

	bob, err := sigilo.Dial(ctx, wsURL, "bob")
	require.NoError(t, err)
	defer bob.Close()

	// leave-room carries no ack, so probe with joins until the destruction
	// is observed. If a probe join sneaks in before alice's leave is
	// applied, leave again so the room empties either way.
	require.Eventually(t, func() bool {
		err := bob.JoinRoom(ctx, roomID, "")
		if err == nil {
			_ = bob.LeaveRoom(roomID)
			return false
		}
		return strings.Contains(err.Error(), "Room não existe")
	}, 3*time.Second, 50*time.Millisecond, "room should be destroyed after the last member left")
}

func TestDisconnectSweepsAllRooms(t *testing.T) {
	_, wsURL := newRelay(t, nil)
	ctx := testCtx(t)

	type snap struct {
		roomID string
		count  int
	}
	aliceSnaps := make(chan snap, 32)
	alice, err := sigilo.Dial(ctx, wsURL, "alice",
		sigilo.WithOnRoomData(func(roomID string, users map[string]sigilo.User) {
			aliceSnaps <- snap{roomID: roomID, count: len(users)}
		}))
	require.NoError(t, err)
	defer alice.Close()

	roomA, err := alice.CreateRoom(ctx, "A", "")
	require.NoError(t, err)
	roomB, err := alice.CreateRoom(ctx, "B", "")
	require.NoError(t, err)

	bob, err := sigilo.Dial(ctx, wsURL, "bob")
	require.NoError(t, err)
	require.NoError(t, bob.JoinRoom(ctx, roomA, ""))
	require.NoError(t, bob.JoinRoom(ctx, roomB, ""))

	// Wait until alice has seen bob in both rooms.
	waitFor(t, aliceSnaps, func(s snap) bool { return s.roomID == roomA && s.count == 2 })
	waitFor(t, aliceSnaps, func(s snap) bool { return s.roomID == roomB && s.count == 2 })

	// Abrupt disconnect: both rooms get a snapshot omitting bob.
	require.NoError(t, bob.Close())

	waitFor(t, aliceSnaps, func(s snap) bool { return s.roomID == roomA && s.count == 1 })
	waitFor(t, aliceSnaps, func(s snap) bool { return s.roomID == roomB && s.count == 1 })
}

func TestDisallowedOriginRejected(t *testing.T) {
	_, wsURL := newRelay(t, func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"https://chat.example.com"}
	})

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if conn != nil {
		_ = conn.Close()
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.Error(t, err, "handshake from a disallowed origin must fail")
}

func waitForSnapshot(t *testing.T, snaps chan int, want int) {
	t.Helper()
	waitFor(t, snaps, func(count int) bool { return count == want })
}

func waitFor[T any](t *testing.T, ch chan T, match func(T) bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-ch:
			if match(v) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for expected event")
		}
	}
}
