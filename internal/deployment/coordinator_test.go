package deployment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	testclock "k8s.io/utils/clock/testing"

	"github.com/delivops/argocd-notifier/internal/cache"
	"github.com/delivops/argocd-notifier/internal/changes"
	"github.com/delivops/argocd-notifier/internal/notifier"
	"github.com/delivops/argocd-notifier/internal/testutil"
	"github.com/delivops/argocd-notifier/internal/types"
)

type notifyCall struct {
	op     string
	handle notifier.Handle
	msg    notifier.Message
}

// fakeNotifier records calls and hands out handles h1, h2, ...
type fakeNotifier struct {
	calls     []notifyCall
	created   int
	createErr error
	updateErr error
}

func (f *fakeNotifier) Create(_ context.Context, msg notifier.Message) (notifier.Handle, error) {
	f.calls = append(f.calls, notifyCall{op: "create", msg: msg})
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return notifier.Handle(fmt.Sprintf("h%d", f.created)), nil
}

func (f *fakeNotifier) Update(_ context.Context, h notifier.Handle, msg notifier.Message) (notifier.Handle, error) {
	f.calls = append(f.calls, notifyCall{op: "update", handle: h, msg: msg})
	if f.updateErr != nil {
		return "", f.updateErr
	}
	return h, nil
}

func (f *fakeNotifier) ops() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	coord    *Coordinator
	store    *cache.Store
	notifier *fakeNotifier
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	store := cache.New()
	fn := &fakeNotifier{}
	coord := NewCoordinator(zap.New(core), store, fn, changes.NewRenderer(3, false), Options{
		Clock: testclock.NewFakePassiveClock(now),
	})
	return &harness{coord: coord, store: store, notifier: fn, logs: logs}
}

func (h *harness) sync(t *testing.T, obj *unstructured.Unstructured) {
	t.Helper()
	require.NoError(t, h.coord.SyncResource(context.Background(), obj))
}

func (h *harness) entry(t *testing.T, name string) cache.Entry {
	t.Helper()
	e, ok := h.store.Get(types.ResourceIdentity{Namespace: "argocd", Name: name})
	require.True(t, ok, "no cache entry for %s", name)
	return e
}

func TestCoordinator_FirstEventInitializesSilently(t *testing.T) {
	for _, status := range [][2]string{{"Synced", "Healthy"}, {"OutOfSync", "Progressing"}, {"Unknown", "Degraded"}} {
		t.Run(status[0]+"/"+status[1], func(t *testing.T) {
			h := newHarness(t)
			h.sync(t, testutil.MakeApplication("app1", testutil.WithStatus(status[0], status[1])))

			assert.Empty(t, h.notifier.calls)
			e := h.entry(t, "app1")
			assert.False(t, e.DeploymentInProgress)
			assert.Empty(t, e.Text)
			assert.Empty(t, e.Handle)
			assert.Equal(t, types.SyncStatus(status[0]), e.Snapshot.Sync)
		})
	}
}

func TestCoordinator_UnchangedEventsAreSilent(t *testing.T) {
	h := newHarness(t)
	for range 5 {
		h.sync(t, testutil.MakeApplication("app1"))
	}
	assert.Empty(t, h.notifier.calls)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 4, h.logs.FilterMessage("No change").Len())
}

func TestCoordinator_IgnoredFieldsAreSilent(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app1", testutil.WithSpecField(false, "syncPolicy", "automated", "prune")))
	assert.Empty(t, h.notifier.calls)
}

func TestCoordinator_RevisionOnlyChangeIsSilent(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app1", testutil.WithRevision("2.0.0")))
	assert.Empty(t, h.notifier.calls)
	assert.Equal(t, "2.0.0", h.entry(t, "app1").Snapshot.Revision, "snapshot refreshed on every event")
}

func TestCoordinator_DeploymentStartCreates(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.1.0"),
	))

	require.Equal(t, []string{"create"}, h.notifier.ops())
	msg := h.notifier.calls[0].msg
	assert.True(t, msg.InProgress)
	assert.Contains(t, msg.Changes, "targetRevision: 1.1.0")
	assert.Equal(t, types.SyncOutOfSync, msg.Snapshot.Sync)

	e := h.entry(t, "app1")
	assert.True(t, e.DeploymentInProgress)
	assert.Equal(t, "h1", e.Handle)
	assert.Equal(t, msg.Changes, e.Text)
}

func TestCoordinator_InProgressUpdatesMerge(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.1.0"),
	))
	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.1.0"),
		testutil.WithImageTag("1.1.0"),
	))

	require.Equal(t, []string{"create", "update"}, h.notifier.ops())
	upd := h.notifier.calls[1]
	assert.Equal(t, notifier.Handle("h1"), upd.handle)

	first := h.notifier.calls[0].msg.Changes
	text := upd.msg.Changes
	marker := changes.Marker(now)
	require.Contains(t, text, marker)
	assert.True(t, strings.HasPrefix(text, first+"\n"+marker+"\n"))
	assert.Contains(t, text[strings.Index(text, marker):], "tag: 1.1.0")

	e := h.entry(t, "app1")
	assert.True(t, e.DeploymentInProgress)
	assert.Equal(t, text, e.Text)
}

func TestCoordinator_SettleThenNewCycle(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.1.0"),
	))
	h.sync(t, testutil.MakeApplication("app1", testutil.WithTargetRevision("1.1.0")))

	require.Equal(t, []string{"create", "update"}, h.notifier.ops())
	settled := h.notifier.calls[1]
	assert.False(t, settled.msg.InProgress)
	// A status-only change adds nothing to the text.
	assert.Equal(t, h.notifier.calls[0].msg.Changes, settled.msg.Changes)

	e := h.entry(t, "app1")
	assert.False(t, e.DeploymentInProgress)
	assert.Equal(t, "h1", e.Handle, "handle kept for reference while idle")

	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.2.0"),
	))
	require.Equal(t, []string{"create", "update", "create"}, h.notifier.ops())

	e = h.entry(t, "app1")
	assert.Equal(t, "h2", e.Handle)
	assert.True(t, e.DeploymentInProgress)
	assert.NotContains(t, e.Text, changes.Marker(now))
}

func TestCoordinator_RolloutExample(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1", testutil.WithTargetRevision("v1.0.0")))

	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("v1.1.0"),
	))
	require.Equal(t, []string{"create"}, h.notifier.ops())
	assert.True(t, h.entry(t, "app1").DeploymentInProgress)

	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("v1.1.1"),
	))
	require.Equal(t, []string{"create", "update"}, h.notifier.ops())
	merged := h.notifier.calls[1].msg.Changes
	assert.Equal(t, notifier.Handle("h1"), h.notifier.calls[1].handle)
	assert.Contains(t, merged, "v1.1.0")
	assert.Contains(t, merged, "v1.1.1")

	h.sync(t, testutil.MakeApplication("app1", testutil.WithTargetRevision("v1.1.1")))
	require.Equal(t, []string{"create", "update", "update"}, h.notifier.ops())
	assert.False(t, h.entry(t, "app1").DeploymentInProgress)
}

func TestCoordinator_TerseRevisionDiff(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.0.1"),
	))

	diff := h.notifier.calls[0].msg.Changes
	lines := strings.Split(diff, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "-")
	assert.Contains(t, lines[0], "1.0.0")
	assert.Contains(t, lines[1], "+")
	assert.Contains(t, lines[1], "1.0.1")
}

func TestCoordinator_NotifierFailureStillCommits(t *testing.T) {
	h := newHarness(t)
	h.notifier.createErr = errors.New("slack down")

	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.1.0"),
	))

	e := h.entry(t, "app1")
	assert.True(t, e.DeploymentInProgress)
	assert.Empty(t, e.Handle)
	assert.NotEmpty(t, e.Text)
	assert.Equal(t, 1, h.logs.FilterMessage("Failed to create notification").Len())

	// Without a handle the next change falls back to create.
	h.notifier.createErr = nil
	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.2.0"),
	))
	assert.Equal(t, []string{"create", "create"}, h.notifier.ops())
	assert.Contains(t, h.notifier.calls[1].msg.Changes, changes.Marker(now))
	assert.Equal(t, "h1", h.entry(t, "app1").Handle)
}

func TestCoordinator_UpdateFailureKeepsHandle(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.1.0"),
	))
	h.notifier.updateErr = errors.New("timeout")
	h.sync(t, testutil.MakeApplication("app1", testutil.WithTargetRevision("1.1.0")))

	e := h.entry(t, "app1")
	assert.Equal(t, "h1", e.Handle)
	assert.False(t, e.DeploymentInProgress)
	assert.Equal(t, 1, h.logs.FilterMessage("Failed to update notification").Len())
}

func TestCoordinator_SkipsDirectoryApps(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("rbac", testutil.WithPathSource("rbac")))
	h.sync(t, testutil.MakeApplication("rbac", testutil.WithPathSource("rbac"), testutil.WithStatus("OutOfSync", "Progressing")))

	assert.Empty(t, h.notifier.calls)
	assert.Zero(t, h.store.Len())
}

func TestCoordinator_DeleteEvictsAndNotifiesMidDeployment(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app1",
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.1.0"),
	))

	require.NoError(t, h.coord.DeleteResource(context.Background(), testutil.MakeApplication("app1")))
	assert.Zero(t, h.store.Len())
	require.Equal(t, []string{"create", "update"}, h.notifier.ops())
	last := h.notifier.calls[1]
	assert.Equal(t, notifier.Handle("h1"), last.handle)
	assert.True(t, last.msg.Deleted)
	assert.False(t, last.msg.InProgress)

	// Seen again after deletion: a fresh, silent start.
	h.sync(t, testutil.MakeApplication("app1"))
	assert.Len(t, h.notifier.calls, 2)
	assert.Equal(t, 1, h.store.Len())
}

func TestCoordinator_DeleteIdleIsSilent(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	require.NoError(t, h.coord.DeleteResource(context.Background(), testutil.MakeApplication("app1")))
	require.NoError(t, h.coord.DeleteResource(context.Background(), testutil.MakeApplication("never-seen")))

	assert.Empty(t, h.notifier.calls)
	assert.Zero(t, h.store.Len())
}

func TestCoordinator_ResourcesAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1"))
	h.sync(t, testutil.MakeApplication("app2"))
	h.sync(t, testutil.MakeApplication("app1", testutil.WithStatus("OutOfSync", "Progressing"), testutil.WithTargetRevision("2.0.0")))
	h.sync(t, testutil.MakeApplication("app2", testutil.WithStatus("OutOfSync", "Progressing"), testutil.WithTargetRevision("3.0.0")))

	assert.Equal(t, []string{"create", "create"}, h.notifier.ops())
	assert.Equal(t, "h1", h.entry(t, "app1").Handle)
	assert.Equal(t, "h2", h.entry(t, "app2").Handle)
	assert.Equal(t, []types.ResourceIdentity{
		{Namespace: "argocd", Name: "app1"},
		{Namespace: "argocd", Name: "app2"},
	}, h.store.InProgress())
}

func TestCoordinator_StaleListCopyIsDropped(t *testing.T) {
	h := newHarness(t)
	rv := testutil.WithResourceVersion

	h.sync(t, testutil.MakeApplication("app1", rv("100")))
	h.sync(t, testutil.MakeApplication("app1", rv("200"),
		testutil.WithStatus("OutOfSync", "Progressing"),
		testutil.WithTargetRevision("1.1.0"),
	))
	// A full list taken before the event above, queued after it.
	h.sync(t, testutil.MakeApplication("app1", rv("100")))
	h.sync(t, testutil.MakeApplication("app1", rv("300"),
		testutil.WithStatus("Synced", "Progressing"),
		testutil.WithTargetRevision("1.1.0"),
	))

	require.Equal(t, []string{"create", "update"}, h.notifier.ops())
	upd := h.notifier.calls[1]
	assert.Equal(t, notifier.Handle("h1"), upd.handle)
	assert.True(t, upd.msg.InProgress)
	// No reverted diff was merged in.
	assert.Equal(t, h.notifier.calls[0].msg.Changes, upd.msg.Changes)
	assert.Equal(t, 1, h.logs.FilterMessage("Dropping stale event").Len())

	e := h.entry(t, "app1")
	assert.Equal(t, "300", e.ResourceVersion)
	assert.True(t, e.DeploymentInProgress)
}

func TestCoordinator_SameOrUnparseableVersionIsProcessed(t *testing.T) {
	h := newHarness(t)
	h.sync(t, testutil.MakeApplication("app1", testutil.WithResourceVersion("100")))
	h.sync(t, testutil.MakeApplication("app1", testutil.WithResourceVersion("100")))
	h.sync(t, testutil.MakeApplication("app1", testutil.WithResourceVersion("opaque"),
		testutil.WithStatus("OutOfSync", "Progressing"),
	))

	assert.Equal(t, []string{"create"}, h.notifier.ops())
	assert.Zero(t, h.logs.FilterMessage("Dropping stale event").Len())
	assert.Equal(t, "opaque", h.entry(t, "app1").ResourceVersion)
}

func TestCoordinator_StaleListCopyDoesNotResurrectDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rv := testutil.WithResourceVersion

	h.sync(t, testutil.MakeApplication("app1", rv("100")))
	require.NoError(t, h.coord.DeleteResource(ctx, testutil.MakeApplication("app1", rv("150"))))
	h.sync(t, testutil.MakeApplication("app1", rv("100")))

	_, ok := h.store.Get(types.ResourceIdentity{Namespace: "argocd", Name: "app1"})
	assert.False(t, ok)

	// Recreated with a newer version: tracked again.
	h.sync(t, testutil.MakeApplication("app1", rv("400")))
	assert.Equal(t, "400", h.entry(t, "app1").ResourceVersion)
	assert.Empty(t, h.notifier.calls)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		cmp  int
		ok   bool
	}{
		{"9", "10", -1, true},
		{"10", "9", 1, true},
		{"10", "10", 0, true},
		{"", "10", 0, false},
		{"abc", "10", 0, false},
		{"10", "", 0, false},
	}
	for _, tt := range tests {
		cmp, ok := compareVersions(tt.a, tt.b)
		assert.Equal(t, tt.cmp, cmp, "%s vs %s", tt.a, tt.b)
		assert.Equal(t, tt.ok, ok, "%s vs %s", tt.a, tt.b)
	}
}
