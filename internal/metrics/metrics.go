package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigilo_sessions_connected",
			Help: "Currently connected websocket sessions",
		},
	)

	// Room metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigilo_rooms_active",
			Help: "Rooms currently present in the registry",
		},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sigilo_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigilo_room_joins_total",
			Help: "Total join attempts",
		},
		[]string{"result"}, // "ok", "not_found", "bad_passphrase", "error"
	)

	RoomLeaves = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sigilo_room_leaves_total",
			Help: "Total members removed by leave or disconnect",
		},
	)

	// Relay metrics
	EnvelopesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sigilo_envelopes_relayed_total",
			Help: "Encrypted envelopes delivered to recipients",
		},
	)

	EnvelopesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigilo_envelopes_dropped_total",
			Help: "Encrypted envelopes dropped without delivery",
		},
		[]string{"reason"}, // "room_gone", "not_member", "session_gone"
	)

	// Transport metrics
	MessagesRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sigilo_messages_rate_limited_total",
			Help: "Inbound frames discarded by the per-connection rate limiter",
		},
	)
)
