package sequencer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	queueDepth = promauto.With(ctrlmetrics.Registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "argocd_notifier_event_queue_depth",
			Help: "Number of events waiting in the sequencer.",
		},
	)
	taskTotal = promauto.With(ctrlmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "argocd_notifier_event_tasks_total",
			Help: "Sequenced event tasks by outcome.",
		},
		[]string{"result"},
	)
	taskDuration = promauto.With(ctrlmetrics.Registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argocd_notifier_event_task_duration_seconds",
			Help:    "Time spent running one event task.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
		},
	)
	taskWait = promauto.With(ctrlmetrics.Registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argocd_notifier_event_task_wait_seconds",
			Help:    "Time an event task waited in the queue before running.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)
