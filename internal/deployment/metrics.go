package deployment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	transitions = promauto.With(ctrlmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "argocd_notifier_deployment_transitions_total",
			Help: "Coordinator outcomes per processed event.",
		},
		[]string{"outcome"},
	)
	notifyErrors = promauto.With(ctrlmetrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "argocd_notifier_notify_errors_total",
			Help: "Notifier calls that failed, by operation.",
		},
		[]string{"op"},
	)
)
