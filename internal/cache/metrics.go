package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var cacheEntries = promauto.With(ctrlmetrics.Registry).NewGauge(
	prometheus.GaugeOpts{
		Name: "argocd_notifier_cache_entries",
		Help: "Number of applications tracked in the state cache.",
	},
)
