package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/utils/clock"

	"github.com/delivops/argocd-notifier/internal/types"
)

// ErrWatchClosed is reported when the server closes the result channel.
var ErrWatchClosed = errors.New("watch channel closed")

// EventFunc receives ADDED, MODIFIED and DELETED events.
type EventFunc func(phase types.Phase, obj *unstructured.Unstructured)

// FailFunc receives every transport failure.
type FailFunc func(err error)

// State is the lifecycle state of a Subscription.
type State string

const (
	StateConnecting State = "Connecting"
	StateWatching   State = "Watching"
	StateBackoff    State = "Backoff"
	StateStopped    State = "Stopped"
)

// Subscription is the watch of one resource kind in one scope.
type Subscription struct {
	logger    *zap.Logger
	client    dynamic.Interface
	gvr       schema.GroupVersionResource
	namespace string
	onEvent   EventFunc
	onFail    FailFunc
	clock     clock.WithDelayedExecution

	mu       sync.Mutex
	state    State
	stopped  bool
	watcher  watch.Interface
	timer    clock.Timer
	backoff  *backoff.ExponentialBackOff
	delay    time.Duration
	attempts int
	healthy  bool
}

func newSubscription(logger *zap.Logger, client dynamic.Interface, gvr schema.GroupVersionResource,
	namespace string, onEvent EventFunc, onFail FailFunc, opts Options) *Subscription {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     opts.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          opts.BackoffFactor,
		MaxInterval:         opts.MaxDelay,
	}
	b.Reset()

	return &Subscription{
		logger: logger.With(
			zap.String("resource", gvr.Resource),
			zap.String("namespace", namespace),
		),
		client:    client,
		gvr:       gvr,
		namespace: namespace,
		onEvent:   onEvent,
		onFail:    onFail,
		clock:     opts.Clock,
		state:     StateConnecting,
		backoff:   b,
	}
}

// State returns the current state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns how many times the watch has been opened.
func (s *Subscription) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// NextDelay returns the delay of the currently armed reconnect timer, or zero.
func (s *Subscription) NextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBackoff {
		return 0
	}
	return s.delay
}

// Stop aborts the open watch and cancels any pending reconnect.
// Safe to call more than once.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.state = StateStopped
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	s.logger.Info("Watch stopped")
}

func (s *Subscription) resource() dynamic.ResourceInterface {
	if s.namespace == "" {
		return s.client.Resource(s.gvr)
	}
	return s.client.Resource(s.gvr).Namespace(s.namespace)
}

// open opens a new watch. Failures move the subscription to Backoff.
func (s *Subscription) open(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.attempts++
	s.healthy = false
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.Stop()
		return
	}

	w, err := s.resource().Watch(ctx, metav1.ListOptions{})
	if err != nil {
		s.fail(ctx, fmt.Errorf("opening watch on %s: %w", s.gvr.Resource, err))
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		w.Stop()
		return
	}
	s.watcher = w
	s.state = StateWatching
	s.mu.Unlock()

	s.logger.Info("Watch opened")
	go s.consume(ctx, w)
}

// consume forwards events from w until it fails or is stopped.
func (s *Subscription) consume(ctx context.Context, w watch.Interface) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case ev, ok := <-w.ResultChan():
			if !ok {
				if s.isStopped() {
					return
				}
				s.fail(ctx, ErrWatchClosed)
				return
			}
			if !s.dispatch(ctx, w, ev) {
				return
			}
		}
	}
}

// dispatch handles one event. Returns false when the watch must be abandoned.
func (s *Subscription) dispatch(ctx context.Context, w watch.Interface, ev watch.Event) bool {
	watchEvents.WithLabelValues(s.gvr.Resource, string(ev.Type)).Inc()

	switch ev.Type {
	case watch.Added, watch.Modified, watch.Deleted:
		obj, ok := ev.Object.(*unstructured.Unstructured)
		if !ok {
			s.logger.Warn("Dropping event with unexpected object type",
				zap.String("type", string(ev.Type)),
				zap.String("object", fmt.Sprintf("%T", ev.Object)),
			)
			return true
		}
		s.markHealthy()
		if s.isStopped() {
			return false
		}
		s.onEvent(types.Phase(ev.Type), obj)
		return true

	case watch.Error:
		w.Stop()
		if s.isStopped() {
			return false
		}
		s.fail(ctx, fmt.Errorf("watch error event: %w", apierrors.FromObject(ev.Object)))
		return false

	default:
		s.logger.Debug("Dropping unrecognized watch event", zap.String("type", string(ev.Type)))
		return true
	}
}

// markHealthy resets the backoff on the first event after an open.
func (s *Subscription) markHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthy {
		return
	}
	s.healthy = true
	s.backoff.Reset()
	watchReconnectDelay.WithLabelValues(s.gvr.Resource).Set(0)
}

// fail reports err and arms the reconnect timer.
func (s *Subscription) fail(ctx context.Context, err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.watcher = nil
	delay := s.backoff.NextBackOff()
	s.delay = delay
	s.state = StateBackoff
	s.mu.Unlock()

	watchFailures.WithLabelValues(s.gvr.Resource).Inc()
	watchReconnectDelay.WithLabelValues(s.gvr.Resource).Set(delay.Seconds())
	s.logger.Warn("Watch failed, scheduling reconnect",
		zap.Error(err),
		zap.Duration("retry_in", delay),
	)
	s.onFail(err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timer = s.clock.AfterFunc(delay, func() { go s.reconnect(ctx) })
}

// reconnect is the timer callback. It re-checks the stop flag first.
func (s *Subscription) reconnect(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Debug("Reconnect timer fired after stop, ignoring")
		return
	}
	s.timer = nil
	s.mu.Unlock()

	s.open(ctx)
}

func (s *Subscription) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
