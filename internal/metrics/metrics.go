package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission metrics
	ConnectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_connections_accepted_total",
			Help: "Total connections admitted",
		},
	)

	ConnectionsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_connections_denied_total",
			Help: "Total connections denied at admission",
		},
		[]string{"reason"},
	)

	ConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connections_open",
			Help: "Currently open connections",
		},
	)

	// Traffic metrics
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_packets_received_total",
			Help: "Inbound packets by kind",
		},
		[]string{"kind"},
	)

	BroadcastsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broadcasts_total",
			Help: "Room broadcast fan-outs",
		},
		[]string{"room_kind"},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_send_failures_total",
			Help: "Per-recipient send failures swallowed during fan-out",
		},
	)

	// Room metrics
	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rooms_created_total",
			Help: "Rooms created by kind",
		},
		[]string{"kind"},
	)

	RoomsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rooms_swept_total",
			Help: "Empty rooms removed by the sweeper",
		},
	)

	PrivateSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_private_sessions_open",
			Help: "Currently open private sessions",
		},
	)

	// Moderation metrics
	Kicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_kicks_total",
			Help: "Kick requests by method",
		},
		[]string{"method"},
	)

	BansAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bans_added_total",
			Help: "Ban entries recorded by type",
		},
		[]string{"type"},
	)

	BansExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_bans_expired_total",
			Help: "Ban entries removed by the sweeper",
		},
	)
)
