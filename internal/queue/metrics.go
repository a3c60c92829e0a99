package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDataBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playcore_queue_data_bytes",
		Help: "Packet bytes buffered in a stream queue",
	}, []string{"queue"})

	queueLevelPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playcore_queue_level_percent",
		Help: "Fill level of a stream queue in percent",
	}, []string{"queue"})
)

func updateQueueMetrics(name string, bytes, level int) {
	queueDataBytes.WithLabelValues(name).Set(float64(bytes))
	queueLevelPercent.WithLabelValues(name).Set(float64(level))
}
