package watch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	watchEvents = promauto.With(ctrlmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "argocd_notifier_watch_events_total",
			Help: "Watch events received, by resource and event type.",
		},
		[]string{"resource", "type"},
	)
	watchFailures = promauto.With(ctrlmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "argocd_notifier_watch_failures_total",
			Help: "Watch transport failures, by resource.",
		},
		[]string{"resource"},
	)
	watchReconnectDelay = promauto.With(ctrlmetrics.Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argocd_notifier_watch_reconnect_delay_seconds",
			Help: "Delay before the next scheduled reconnect, by resource.",
		},
		[]string{"resource"},
	)
)
