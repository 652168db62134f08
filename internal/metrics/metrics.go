package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "central"
)

var (
	// FramesTotal counts inbound frames
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of inbound frames processed",
		},
		[]string{"header", "status"}, // status: ok/error/unknown/rejected
	)

	// FrameDuration measures handler latency
	FrameDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Frame handler latency in seconds",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"header"},
	)

	// PartyOperations counts party operations by outcome
	PartyOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "party_operations_total",
			Help:      "Total number of party operations",
		},
		[]string{"op", "result"},
	)

	// Migrations counts migration lifecycle transitions
	Migrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Total number of migration transitions",
		},
		[]string{"result"}, // submitted/duplicate/completed/rejected/expired
	)

	// RelayDeliveries counts relayed payloads
	RelayDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_deliveries_total",
			Help:      "Total number of relayed user payloads",
		},
		[]string{"kind", "result"}, // kind: id/name/broadcast, result: sent/dropped
	)

	// ChannelsConnected tracks registered channel nodes
	ChannelsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_connected",
			Help:      "Number of registered channel nodes",
		},
	)

	// UsersOnline tracks user records
	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_online",
			Help:      "Number of tracked user records",
		},
	)

	// PartiesActive tracks live parties
	PartiesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parties_active",
			Help:      "Number of live parties",
		},
	)

	// PendingMigrations tracks outstanding migration requests
	PendingMigrations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_migrations",
			Help:      "Number of outstanding migration requests",
		},
	)

	// PeersDropped counts connections closed for exceeding the send queue
	PeersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_dropped_total",
			Help:      "Total number of peers disconnected as slow consumers",
		},
	)

	// Info exposes build info
	Info = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Central coordinator build info",
		},
		[]string{"version", "commit"},
	)
)

// InitInfo initializes info metric
func InitInfo(version, commit string) {
	Info.WithLabelValues(version, commit).Set(1)
}

// RecordFrame records one dispatched frame
func RecordFrame(header, status string, duration time.Duration) {
	FramesTotal.WithLabelValues(header, status).Inc()
	FrameDuration.WithLabelValues(header).Observe(duration.Seconds())
}

// RecordPartyOp records a party operation outcome
func RecordPartyOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PartyOperations.WithLabelValues(op, result).Inc()
}

// RecordMigration records a migration transition
func RecordMigration(result string) {
	Migrations.WithLabelValues(result).Inc()
}

// RecordRelay records a relay attempt
func RecordRelay(kind string, sent bool) {
	result := "sent"
	if !sent {
		result = "dropped"
	}
	RelayDeliveries.WithLabelValues(kind, result).Inc()
}
