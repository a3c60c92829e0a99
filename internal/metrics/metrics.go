package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playcore_player_sessions_active",
		Help: "Number of open playback sessions",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playcore_player_sessions_total",
		Help: "Playback sessions by how they ended",
	}, []string{"result"})

	playSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playcore_player_play_speed",
		Help: "Current play speed in thousandths of normal",
	})

	cacheState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playcore_player_cache_state",
		Help: "Current caching state (0 done, 1 init, 2 play, 3 full)",
	})

	// Packet flow metrics
	packetsDemuxedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playcore_player_packets_demuxed_total",
		Help: "Packets read from the source per stream",
	}, []string{"stream"})

	packetsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playcore_player_packets_dropped_total",
		Help: "Packets dropped before display per stream and reason",
	}, []string{"stream", "reason"})

	packetsDecodedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playcore_player_packets_decoded_total",
		Help: "Packets handed to a decoder per stream",
	}, []string{"stream"})

	// Synchronization metrics
	resyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playcore_player_resyncs_total",
		Help: "Resync commands sent per stream",
	}, []string{"stream"})

	skewSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playcore_player_start_skew_seconds",
		Help:    "Start time skew between a stream and the earliest started stream",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"stream"})

	barrierTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playcore_player_barrier_timeouts_total",
		Help: "Synchronize barriers that timed out",
	}, []string{"barrier"})

	clockDiscontinuitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playcore_player_clock_discontinuities_total",
		Help: "Clock discontinuities applied by type",
	}, []string{"type"})

	// Seek metrics
	seeksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playcore_player_seeks_total",
		Help: "Seeks requested by kind",
	}, []string{"kind"})

	sceneSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playcore_player_edl_skips_total",
		Help: "Automatic EDL skips by action",
	}, []string{"action"})

	// Debug metrics
	goroutinesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_created_total",
		Help: "Total number of goroutines created",
	}, []string{"component"})

	goroutinesDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_destroyed_total",
		Help: "Total number of goroutines destroyed",
	}, []string{"component"})

	activeGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "debug_goroutines_active",
		Help: "Number of active goroutines",
	}, []string{"component"})

	contextCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_context_cancellations_total",
		Help: "Total context cancellations by reason",
	}, []string{"component", "reason"})
)

// SessionOpened records a newly opened playback session
func SessionOpened() {
	sessionsActive.Inc()
}

// SessionClosed records the end of a session. result is "ended", "stopped"
// or "failed".
func SessionClosed(result string) {
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues(result).Inc()
}

// SessionFailed records a session that never opened
func SessionFailed() {
	sessionsTotal.WithLabelValues("failed").Inc()
}

// SetPlaySpeed sets the current play speed
func SetPlaySpeed(speed int) {
	playSpeed.Set(float64(speed))
}

// SetCacheState sets the current caching state
func SetCacheState(state int) {
	cacheState.Set(float64(state))
}

// IncrementDemuxed counts a packet read from the source
func IncrementDemuxed(stream string) {
	packetsDemuxedTotal.WithLabelValues(stream).Inc()
}

// IncrementDropped counts a packet dropped before display
func IncrementDropped(stream, reason string) {
	packetsDroppedTotal.WithLabelValues(stream, reason).Inc()
}

// IncrementDecoded counts a packet handed to a decoder
func IncrementDecoded(stream string) {
	packetsDecodedTotal.WithLabelValues(stream).Inc()
}

// IncrementResync counts a resync command
func IncrementResync(stream string) {
	resyncsTotal.WithLabelValues(stream).Inc()
}

// ObserveSkew records a start skew in seconds
func ObserveSkew(stream string, seconds float64) {
	skewSeconds.WithLabelValues(stream).Observe(seconds)
}

// IncrementBarrierTimeout counts a synchronize barrier timeout
func IncrementBarrierTimeout(barrier string) {
	barrierTimeoutsTotal.WithLabelValues(barrier).Inc()
}

// IncrementDiscontinuity counts a clock discontinuity
func IncrementDiscontinuity(typ string) {
	clockDiscontinuitiesTotal.WithLabelValues(typ).Inc()
}

// IncrementSeek counts a seek request
func IncrementSeek(kind string) {
	seeksTotal.WithLabelValues(kind).Inc()
}

// IncrementSceneSkip counts an automatic EDL skip
func IncrementSceneSkip(action string) {
	sceneSkipsTotal.WithLabelValues(action).Inc()
}

// Debug metrics functions

// IncrementGoroutineCreated increments the goroutine creation counter
func IncrementGoroutineCreated(component string) {
	goroutinesCreated.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Inc()
}

// IncrementGoroutineDestroyed increments the goroutine destruction counter
func IncrementGoroutineDestroyed(component string) {
	goroutinesDestroyed.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Dec()
}

// IncrementContextCancellation increments context cancellation counter
func IncrementContextCancellation(component, reason string) {
	contextCancellations.WithLabelValues(component, reason).Inc()
}
