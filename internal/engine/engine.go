// Package engine wires watch subscriptions, the event sequencer, the
// classifier and per-kind resource handlers into one event path.
//
// Every event, whether from a watch or a full-list resync, enters through
// Submit and is handled on the sequencer's single worker.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/delivops/argocd-notifier/internal/classifier"
	"github.com/delivops/argocd-notifier/internal/sequencer"
	"github.com/delivops/argocd-notifier/internal/types"
	"github.com/delivops/argocd-notifier/internal/watch"
)

// registration is one row of the dispatch table.
type registration struct {
	namespace string
	handler   types.ResourceHandler
	sub       *watch.Subscription
}

// Engine routes events of registered kinds to their handlers.
type Engine struct {
	logger  *zap.Logger
	watcher *watch.Manager
	seq     *sequencer.Sequencer

	mu       sync.Mutex
	handlers map[schema.GroupVersionResource]*registration
	stopOnce sync.Once
}

// New creates an Engine.
func New(logger *zap.Logger, watcher *watch.Manager, seq *sequencer.Sequencer) *Engine {
	return &Engine{
		logger:   logger.Named("engine"),
		watcher:  watcher,
		seq:      seq,
		handlers: make(map[schema.GroupVersionResource]*registration),
	}
}

// Register adds gvr to the dispatch table. namespace "" watches all
// namespaces. Must be called before Start.
func (e *Engine) Register(gvr schema.GroupVersionResource, namespace string, handler types.ResourceHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[gvr] = &registration{namespace: namespace, handler: handler}
}

// Start opens one subscription per registered kind, then blocks until ctx is
// cancelled and stops them.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	for gvr, reg := range e.handlers {
		gvr := gvr
		reg.sub = e.watcher.Start(ctx, gvr, reg.namespace,
			func(phase types.Phase, obj *unstructured.Unstructured) {
				e.Submit(gvr, phase, obj)
			},
			func(err error) {
				subscriptionFailures.WithLabelValues(gvr.Resource).Inc()
				e.logger.Debug("Subscription failure reported", zap.String("resource", gvr.Resource), zap.Error(err))
			},
		)
	}
	e.mu.Unlock()

	<-ctx.Done()
	e.Stop()
	return nil
}

// Stop aborts every subscription. Pending reconnects never fire.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Info("Stopping engine")
		e.watcher.Stop()
	})
}

// Submit queues one raw event for handling. Never blocks.
func (e *Engine) Submit(gvr schema.GroupVersionResource, phase types.Phase, obj *unstructured.Unstructured) {
	name := fmt.Sprintf("%s %s %s", gvr.Resource, phase, types.IdentityOf(obj))
	e.seq.Enqueue(name, func(ctx context.Context) error {
		return e.dispatch(ctx, gvr, phase, obj)
	})
}

// dispatch classifies the event and calls the matching handler method.
func (e *Engine) dispatch(ctx context.Context, gvr schema.GroupVersionResource, raw types.Phase, obj *unstructured.Unstructured) error {
	e.mu.Lock()
	reg, ok := e.handlers[gvr]
	e.mu.Unlock()
	if !ok {
		e.logger.Warn("No handler registered, dropping event", zap.String("resource", gvr.Resource))
		return nil
	}

	ev := classifier.Refine(raw, obj)
	dispatched.WithLabelValues(gvr.Resource, string(ev.Phase)).Inc()
	log := e.logger.With(
		zap.String("resource", gvr.Resource),
		zap.String("name", types.IdentityOf(obj).String()),
		zap.String("phase", string(ev.Phase)),
	)

	switch {
	case classifier.IsSync(ev.Phase):
		log.Debug("Syncing resource")
		return reg.handler.SyncResource(ctx, ev.Object)
	case ev.Phase == types.PhaseDeleted:
		log.Debug("Deleting resource")
		return reg.handler.DeleteResource(ctx, ev.Object)
	case ev.Phase == types.PhaseDeleting:
		log.Info("Resource is being deleted")
		return nil
	default:
		log.Warn("Unrecognized phase, dropping event")
		return nil
	}
}

// ReadyCheck fails until every subscription has an open watch.
// It has the signature of a controller-runtime healthz.Checker.
func (e *Engine) ReadyCheck(_ *http.Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var pending []string
	for gvr, reg := range e.handlers {
		if reg.sub == nil || reg.sub.State() != watch.StateWatching {
			pending = append(pending, gvr.Resource)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Strings(pending)
	return fmt.Errorf("watches not open: %s", strings.Join(pending, ", "))
}
