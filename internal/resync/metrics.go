package resync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var resyncTotal = promauto.With(ctrlmetrics.Registry).NewCounterVec(
	prometheus.CounterOpts{
		Name: "argocd_notifier_resync_total",
		Help: "Full-list resync runs by result.",
	},
	[]string{"result"},
)
