package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMetrics(t *testing.T) {
	initialActive := testutil.ToFloat64(sessionsActive)
	initialEnded := testutil.ToFloat64(sessionsTotal.WithLabelValues("ended"))
	initialFailed := testutil.ToFloat64(sessionsTotal.WithLabelValues("failed"))

	SessionOpened()
	SessionOpened()
	assert.Equal(t, initialActive+2, testutil.ToFloat64(sessionsActive))

	SessionClosed("ended")
	assert.Equal(t, initialActive+1, testutil.ToFloat64(sessionsActive))
	assert.Equal(t, initialEnded+1, testutil.ToFloat64(sessionsTotal.WithLabelValues("ended")))

	SessionFailed()
	assert.Equal(t, initialActive+1, testutil.ToFloat64(sessionsActive), "a failed open was never active")
	assert.Equal(t, initialFailed+1, testutil.ToFloat64(sessionsTotal.WithLabelValues("failed")))

	SessionClosed("stopped")
}

func TestPlayerGauges(t *testing.T) {
	tests := []struct {
		speed int
		state int
	}{
		{1000, 2},
		{0, 3},
		{-2000, 0},
		{4000, 1},
	}

	for _, tt := range tests {
		SetPlaySpeed(tt.speed)
		SetCacheState(tt.state)

		assert.Equal(t, float64(tt.speed), testutil.ToFloat64(playSpeed))
		assert.Equal(t, float64(tt.state), testutil.ToFloat64(cacheState))
	}
}

func TestPacketCounters(t *testing.T) {
	tests := []struct {
		name  string
		inc   func()
		value prometheus.Collector
	}{
		{"demuxed", func() { IncrementDemuxed("video") }, packetsDemuxedTotal.WithLabelValues("video")},
		{"dropped", func() { IncrementDropped("audio", "start_pts") }, packetsDroppedTotal.WithLabelValues("audio", "start_pts")},
		{"decoded", func() { IncrementDecoded("subtitle") }, packetsDecodedTotal.WithLabelValues("subtitle")},
		{"resync", func() { IncrementResync("video") }, resyncsTotal.WithLabelValues("video")},
		{"barrier timeout", func() { IncrementBarrierTimeout("flush") }, barrierTimeoutsTotal.WithLabelValues("flush")},
		{"discontinuity", func() { IncrementDiscontinuity("normal") }, clockDiscontinuitiesTotal.WithLabelValues("normal")},
		{"seek", func() { IncrementSeek("time") }, seeksTotal.WithLabelValues("time")},
		{"scene skip", func() { IncrementSceneSkip("cut") }, sceneSkipsTotal.WithLabelValues("cut")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.value)
			tt.inc()
			tt.inc()
			assert.Equal(t, before+2, testutil.ToFloat64(tt.value))
		})
	}
}

func TestObserveSkew(t *testing.T) {
	observer := skewSeconds.WithLabelValues("audio")
	histogram, ok := observer.(prometheus.Histogram)
	require.True(t, ok)

	var before dto.Metric
	require.NoError(t, histogram.Write(&before))

	ObserveSkew("audio", 0.25)
	ObserveSkew("audio", 1.5)

	var after dto.Metric
	require.NoError(t, histogram.Write(&after))
	assert.Equal(t, before.GetHistogram().GetSampleCount()+2, after.GetHistogram().GetSampleCount())
	assert.InDelta(t, before.GetHistogram().GetSampleSum()+1.75, after.GetHistogram().GetSampleSum(), 1e-9)
}

func TestGoroutineMetrics(t *testing.T) {
	component := "test_component"

	initialCreated := testutil.ToFloat64(goroutinesCreated.WithLabelValues(component))
	initialActive := testutil.ToFloat64(activeGoroutines.WithLabelValues(component))

	IncrementGoroutineCreated(component)
	IncrementGoroutineCreated(component)
	IncrementGoroutineDestroyed(component)

	assert.Equal(t, initialCreated+2, testutil.ToFloat64(goroutinesCreated.WithLabelValues(component)))
	assert.Equal(t, initialActive+1, testutil.ToFloat64(activeGoroutines.WithLabelValues(component)))
}

func TestIncrementContextCancellation(t *testing.T) {
	before := testutil.ToFloat64(contextCancellations.WithLabelValues("player", "close"))
	IncrementContextCancellation("player", "close")
	assert.Equal(t, before+1, testutil.ToFloat64(contextCancellations.WithLabelValues("player", "close")))
}
