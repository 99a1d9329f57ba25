package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionTransitions counts playback session phase transitions. The "phase"
// label carries the phase being entered (resolving, playing, exhausted),
// making loading-to-playing latency and exhaustion rates observable.
var SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_player_session_transitions",
	Help: "Number of playback session phase transitions",
}, []string{"kind", "phase"})

// CandidateFailures counts failed candidate attempts per content kind.
// The "reason" label distinguishes watchdog expiry from decoder fatals.
var CandidateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_player_candidate_failures",
	Help: "Number of failed stream candidate attempts",
}, []string{"kind", "reason"})

// RPCFailures counts panel RPC failures per network path. The "class"
// label separates terminal credential verdicts from retryable faults.
var RPCFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_player_rpc_failures",
	Help: "Number of panel RPC failures",
}, []string{"path", "class"})

// SilentReconnects counts mid-play reconnection attempts for live sessions.
// These never surface to the user; the metric is the only way to see them.
var SilentReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_player_silent_reconnects",
	Help: "Number of silent live stream reconnection attempts",
}, []string{"trigger"})

// OutputBytes counts media bytes delivered to the playback output surface.
var OutputBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_player_output_bytes",
	Help: "Total media bytes written to the playback output",
}, []string{"format"})

// OutputConsumers tracks consumers currently attached to the playback output.
var OutputConsumers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_player_output_consumers",
	Help: "Number of consumers attached to the playback output",
})
