package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Timeline metrics
	MergedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classchat_timeline_merged_total",
			Help: "Messages inserted into the active timeline by merge",
		},
	)

	DuplicateMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classchat_timeline_duplicates_total",
			Help: "Messages dropped because their id was already in the timeline",
		},
	)

	// Room controller metrics
	StaleResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_stale_results_total",
			Help: "Async results discarded because the scope changed",
		},
		[]string{"op"}, // "history", "resolve", "join", "event"
	)

	FilteredEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_live_events_filtered_total",
			Help: "Live events not merged into the timeline",
		},
		[]string{"reason"}, // "malformed", "foreign_scope"
	)

	ScopeChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classchat_scope_changes_total",
			Help: "Total scope selections",
		},
	)

	// Outbound metrics
	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_sends_total",
			Help: "Message sends by result",
		},
		[]string{"result"}, // "ok", "invalid", "error"
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classchat_send_duration_seconds",
			Help:    "Send round trip duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Connection metrics
	ConnectionStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_connection_status_total",
			Help: "Connection status transitions",
		},
		[]string{"status"},
	)

	DialAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_dial_attempts_total",
			Help: "Websocket dial attempts by result",
		},
		[]string{"result"},
	)

	// Dev server metrics
	ServerSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classchat_server_sessions",
			Help: "Open websocket sessions on the dev server",
		},
	)

	ServerMessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classchat_server_messages_posted_total",
			Help: "Messages posted to the dev server",
		},
		[]string{"kind"},
	)

	ServerRoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classchat_server_rooms_created_total",
			Help: "Rooms lazily created by the dev server",
		},
	)
)
