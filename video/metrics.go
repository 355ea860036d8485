package video

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firewatch_frames_captured_total",
		Help: "Frames read from all video sources.",
	})

	metricFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firewatch_frames_dropped_total",
		Help: "Frames evicted from full stage queues.",
	}, []string{"stage"})

	metricFramesStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firewatch_frames_streamed_total",
		Help: "Annotated frames delivered to the output buffer.",
	})

	metricFramesThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firewatch_frames_throttled_total",
		Help: "Inference results discarded by the recognition interval.",
	})

	metricInferenceSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "firewatch_inference_seconds",
		Help:    "Model inference latency.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	metricPipelines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firewatch_pipelines_active",
		Help: "Pipelines currently running.",
	})
)
