package deployment

import (
	"context"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/utils/clock"

	"github.com/delivops/argocd-notifier/internal/cache"
	"github.com/delivops/argocd-notifier/internal/changes"
	"github.com/delivops/argocd-notifier/internal/notifier"
	"github.com/delivops/argocd-notifier/internal/types"
)

// Options configures a Coordinator.
type Options struct {
	// IgnoreSpecFields are top-level spec fields excluded from diffs.
	// Nil means DefaultIgnoredSpecFields.
	IgnoreSpecFields []string

	// Clock stamps merge markers.
	Clock clock.PassiveClock
}

// Coordinator decides per application whether to create, update or stay
// silent, and keeps the cache in step. It implements types.ResourceHandler.
//
// Calls must be serialized; the engine's sequencer does that.
type Coordinator struct {
	logger   *zap.Logger
	store    *cache.Store
	notifier notifier.Notifier
	renderer changes.Renderer
	ignore   []string
	clock    clock.PassiveClock

	// deleted holds the resourceVersion of each application seen deleted, so
	// an older copy from a full list cannot bring its entry back.
	deleted map[types.ResourceIdentity]string
}

var _ types.ResourceHandler = (*Coordinator)(nil)

// NewCoordinator creates a Coordinator.
func NewCoordinator(logger *zap.Logger, store *cache.Store, n notifier.Notifier, renderer changes.Renderer, opts Options) *Coordinator {
	if opts.IgnoreSpecFields == nil {
		opts.IgnoreSpecFields = DefaultIgnoredSpecFields
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Coordinator{
		logger:   logger.Named("deployment"),
		store:    store,
		notifier: n,
		renderer: renderer,
		ignore:   opts.IgnoreSpecFields,
		clock:    opts.Clock,
		deleted:  make(map[types.ResourceIdentity]string),
	}
}

// SyncResource handles Added, Modified and UpToDate events.
func (c *Coordinator) SyncResource(ctx context.Context, obj *unstructured.Unstructured) error {
	upd, ok := BuildUpdate(obj, c.ignore)
	if !ok {
		c.logger.Debug("Skipping directory-based application", zap.String("application", types.IdentityOf(obj).String()))
		transitions.WithLabelValues("skipped").Inc()
		return nil
	}
	id, next, rv := upd.Identity, upd.Snapshot, upd.ResourceVersion
	log := c.logger.With(zap.String("application", id.String()))

	entry, seen := c.store.Get(id)
	if c.stale(id, rv, entry, seen) {
		log.Debug("Dropping stale event",
			zap.String("resource_version", rv),
			zap.String("cached_resource_version", entry.ResourceVersion),
		)
		transitions.WithLabelValues("stale").Inc()
		return nil
	}
	delete(c.deleted, id)

	if !seen {
		c.store.Put(id, cache.Entry{Snapshot: next, ResourceVersion: rv})
		log.Info("Tracking application",
			zap.String("sync", string(next.Sync)),
			zap.String("health", string(next.Health)),
		)
		transitions.WithLabelValues("initialized").Inc()
		return nil
	}

	prev := entry.Snapshot
	syncChanged := prev.Sync != next.Sync
	healthChanged := prev.Health != next.Health
	cs := changes.Compute(prev.Spec, next.Spec)
	if !syncChanged && !healthChanged && cs.Empty() {
		entry.Snapshot = next
		entry.ResourceVersion = rv
		c.store.Put(id, entry)
		log.Debug("No change")
		transitions.WithLabelValues("unchanged").Inc()
		return nil
	}

	diff, err := c.renderer.Render(prev.Spec, next.Spec, cs)
	if err != nil {
		log.Warn("Could not render spec diff", zap.Error(err))
		diff = ""
	}
	log.Debug("Application changed",
		zap.Bool("sync_changed", syncChanged),
		zap.Bool("health_changed", healthChanged),
		zap.Strings("paths", cs.Paths()),
		zap.Bool("terse", cs.IsTerse()),
	)

	inProgress := !next.Settled()
	if !entry.DeploymentInProgress {
		handle := c.create(ctx, log, notifier.Message{
			Identity:   id,
			Snapshot:   next,
			Changes:    diff,
			InProgress: inProgress,
		})
		c.store.Put(id, cache.Entry{
			Snapshot:             next,
			Handle:               handle,
			Text:                 diff,
			DeploymentInProgress: inProgress,
			ResourceVersion:      rv,
		})
		transitions.WithLabelValues("created").Inc()
		log.Info("Deployment started",
			zap.String("sync", string(next.Sync)),
			zap.String("health", string(next.Health)),
			zap.Bool("in_progress", inProgress),
		)
		return nil
	}

	text := changes.Merge(entry.Text, diff, c.clock.Now())
	msg := notifier.Message{
		Identity:   id,
		Snapshot:   next,
		Changes:    text,
		InProgress: inProgress,
	}
	handle := entry.Handle
	if handle == "" {
		handle = c.create(ctx, log, msg)
	} else {
		handle = c.update(ctx, log, handle, msg)
	}
	c.store.Put(id, cache.Entry{
		Snapshot:             next,
		Handle:               handle,
		Text:                 text,
		DeploymentInProgress: inProgress,
		ResourceVersion:      rv,
	})
	transitions.WithLabelValues("updated").Inc()
	if !inProgress {
		log.Info("Deployment finished", zap.String("revision", next.Revision))
	}
	return nil
}

// DeleteResource evicts the application. If it vanished mid-deployment the
// message is updated once more to say so.
func (c *Coordinator) DeleteResource(ctx context.Context, obj *unstructured.Unstructured) error {
	id := types.IdentityOf(obj)
	log := c.logger.With(zap.String("application", id.String()))

	if rv := obj.GetResourceVersion(); rv != "" {
		c.deleted[id] = rv
	}

	entry, ok := c.store.Get(id)
	if !ok {
		log.Debug("Deleted application was not tracked")
		return nil
	}
	c.store.Delete(id)
	transitions.WithLabelValues("deleted").Inc()
	log.Info("Application deleted, no longer tracking")

	if !entry.DeploymentInProgress || entry.Handle == "" {
		return nil
	}
	c.update(ctx, log, entry.Handle, notifier.Message{
		Identity:   id,
		Snapshot:   entry.Snapshot,
		Changes:    entry.Text,
		InProgress: false,
		Deleted:    true,
	})
	return nil
}

// stale reports whether an event at resourceVersion rv is older than what was
// already processed for id. A full list can be taken before a watch event and
// still be queued after it.
func (c *Coordinator) stale(id types.ResourceIdentity, rv string, entry cache.Entry, seen bool) bool {
	if seen {
		cmp, ok := compareVersions(rv, entry.ResourceVersion)
		return ok && cmp < 0
	}
	if tomb, ok := c.deleted[id]; ok {
		cmp, ok := compareVersions(rv, tomb)
		return ok && cmp <= 0
	}
	return false
}

// create posts a new message. Returns "" on failure.
func (c *Coordinator) create(ctx context.Context, log *zap.Logger, msg notifier.Message) string {
	h, err := c.notifier.Create(ctx, msg)
	if err != nil {
		notifyErrors.WithLabelValues("create").Inc()
		log.Error("Failed to create notification", zap.Error(err))
		return ""
	}
	return string(h)
}

// update edits the message behind handle. Keeps handle on failure.
func (c *Coordinator) update(ctx context.Context, log *zap.Logger, handle string, msg notifier.Message) string {
	h, err := c.notifier.Update(ctx, notifier.Handle(handle), msg)
	if err != nil {
		notifyErrors.WithLabelValues("update").Inc()
		log.Error("Failed to update notification", zap.String("handle", handle), zap.Error(err))
		return handle
	}
	if h == "" {
		return handle
	}
	return string(h)
}
