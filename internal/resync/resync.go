// Package resync periodically lists every watched object and feeds it into the
// same path as watch events, so drift missed by the watch is still seen.
package resync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/utils/clock"

	"github.com/delivops/argocd-notifier/internal/types"
)

// SubmitFunc receives every listed object.
type SubmitFunc func(gvr schema.GroupVersionResource, phase types.Phase, obj *unstructured.Unstructured)

// listPageSize bounds a single List call.
const listPageSize = 500

// Resyncer lists one resource kind on an interval.
type Resyncer struct {
	logger    *zap.Logger
	client    dynamic.Interface
	gvr       schema.GroupVersionResource
	namespace string
	interval  time.Duration
	submit    SubmitFunc
	clock     clock.WithTicker
}

// New creates a Resyncer. An interval of zero lists only once at start.
func New(logger *zap.Logger, client dynamic.Interface, gvr schema.GroupVersionResource, namespace string,
	interval time.Duration, submit SubmitFunc) *Resyncer {
	return &Resyncer{
		logger:    logger.Named("resync"),
		client:    client,
		gvr:       gvr,
		namespace: namespace,
		interval:  interval,
		submit:    submit,
		clock:     clock.RealClock{},
	}
}

// WithClock replaces the ticker clock. For tests.
func (r *Resyncer) WithClock(c clock.WithTicker) *Resyncer {
	r.clock = c
	return r
}

// Start lists immediately, then on every tick until ctx is cancelled. Blocks.
// List failures are logged and retried on the next tick.
func (r *Resyncer) Start(ctx context.Context) error {
	r.logger.Info("Starting resync",
		zap.String("resource", r.gvr.Resource),
		zap.Duration("interval", r.interval),
	)
	r.runOnce(ctx)

	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			r.runOnce(ctx)
		}
	}
}

func (r *Resyncer) runOnce(ctx context.Context) {
	n, err := r.List(ctx)
	if err != nil {
		resyncTotal.WithLabelValues("error").Inc()
		r.logger.Warn("Resync list failed", zap.Error(err))
		return
	}
	resyncTotal.WithLabelValues("success").Inc()
	r.logger.Debug("Resync submitted objects", zap.Int("count", n))
}

// List submits every object of the kind as MODIFIED and returns the count.
func (r *Resyncer) List(ctx context.Context) (int, error) {
	var ri dynamic.ResourceInterface = r.client.Resource(r.gvr)
	if r.namespace != "" {
		ri = r.client.Resource(r.gvr).Namespace(r.namespace)
	}

	n := 0
	opts := metav1.ListOptions{Limit: listPageSize}
	for {
		list, err := ri.List(ctx, opts)
		if err != nil {
			return n, fmt.Errorf("listing %s: %w", r.gvr.Resource, err)
		}
		for i := range list.Items {
			r.submit(r.gvr, types.PhaseModified, &list.Items[i])
			n++
		}
		if list.GetContinue() == "" {
			return n, nil
		}
		opts.Continue = list.GetContinue()
	}
}
