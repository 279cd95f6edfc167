package watch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

// Manager owns every Subscription of the process.
type Manager struct {
	logger *zap.Logger
	client dynamic.Interface
	opts   Options

	mu   sync.Mutex
	subs []*Subscription
}

// NewManager creates a Manager. Zero option fields take their defaults.
func NewManager(logger *zap.Logger, client dynamic.Interface, opts Options) *Manager {
	return &Manager{
		logger: logger.Named("watch"),
		client: client,
		opts:   opts.withDefaults(),
	}
}

// Start opens a watch on gvr in namespace ("" for cluster scope) and keeps it
// open until Stop or ctx cancellation. The first open happens synchronously;
// a failure there is reported through onFail like any other.
func (m *Manager) Start(ctx context.Context, gvr schema.GroupVersionResource, namespace string,
	onEvent EventFunc, onFail FailFunc) *Subscription {
	sub := newSubscription(m.logger, m.client, gvr, namespace, onEvent, onFail, m.opts)

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	m.logger.Info("Starting watch",
		zap.String("group", gvr.Group),
		zap.String("version", gvr.Version),
		zap.String("resource", gvr.Resource),
		zap.String("namespace", namespace),
	)
	sub.open(ctx)
	return sub
}

// Stop stops every subscription started by this manager.
func (m *Manager) Stop() {
	m.mu.Lock()
	subs := append([]*Subscription(nil), m.subs...)
	m.mu.Unlock()

	for _, s := range subs {
		s.Stop()
	}
}
