// Package metrics registers the Prometheus collectors exposed by the
// server's /metrics endpoint. Names are bounded-cardinality (no per-player
// labels) to avoid a metrics-driven DoS surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TickRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_tick_rate",
		Help: "Current observed tick rate in ticks per second",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_tick_duration_seconds",
		Help:    "Time spent executing one game tick",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	MatchmakingQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaking_queue_size",
		Help: "Current number of requests waiting in the matchmaking queue",
	})

	MatchmakingMatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchmaking_matches_total",
		Help: "Total matches produced by the matchmaker",
	})

	MatchmakingWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchmaking_wait_seconds",
		Help:    "Time a request spent queued before being matched",
		Buckets: []float64{0, 5, 10, 20, 40, 80},
	})

	PlayerProfilesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "player_profiles_total",
		Help: "Total number of tracked player profiles",
	})

	LeaderboardEntriesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_entries_total",
		Help: "Total number of ranked leaderboard entries",
	})

	MatchesRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matches_recorded_total",
		Help: "Total completed matches recorded into player profiles",
	})

	RatingUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rating_updates_total",
		Help: "Total ELO rating updates applied",
	})

	LagCompensationHitsValidatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lag_compensation_hits_validated_total",
		Help: "Total hit claims run through lag-compensated validation",
	})

	LagCompensationHitsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lag_compensation_hits_accepted_total",
		Help: "Total hit claims accepted by lag-compensated validation",
	})

	LagCompensationHitsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lag_compensation_hits_rejected_total",
		Help: "Total hit claims rejected by lag-compensated validation",
	})

	LagCompensationAvgRewindMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lag_compensation_avg_rewind_ms",
		Help: "Running average rewind, in milliseconds, across accepted hits",
	})

	AnticheatSuspicionLevelTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anticheat_suspicion_level_total",
		Help: "Anomaly analyses resolved at each suspicion level",
	}, []string{"level"}) // bounded: none, low, medium, high, critical

	ConnectionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // bounded: rate_limit, origin, ws_total_limit, ws_ip_limit

	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	RequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	WSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// Handler returns the HTTP handler serving the registered collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordConnectionRejected(reason string) {
	ConnectionRejectedTotal.WithLabelValues(reason).Inc()
}

func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	RequestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	RequestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}
