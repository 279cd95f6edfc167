package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	dispatched = promauto.With(ctrlmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "argocd_notifier_events_dispatched_total",
			Help: "Events dispatched after classification, by resource and refined phase.",
		},
		[]string{"resource", "phase"},
	)
	subscriptionFailures = promauto.With(ctrlmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "argocd_notifier_subscription_failures_total",
			Help: "Subscription failures reported to the engine, by resource.",
		},
		[]string{"resource"},
	)
)
