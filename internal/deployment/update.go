package deployment

import (
	"strconv"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/delivops/argocd-notifier/internal/changes"
	"github.com/delivops/argocd-notifier/internal/types"
	"github.com/delivops/argocd-notifier/internal/util"
)

// DefaultIgnoredSpecFields are top-level spec fields never diffed.
var DefaultIgnoredSpecFields = []string{"syncPolicy"}

// Update is the snapshot derived from one Application object.
type Update struct {
	Identity        types.ResourceIdentity
	Snapshot        types.ResourceSnapshot
	ResourceVersion string
}

// BuildUpdate extracts the snapshot of obj. It returns false when the
// application is directory based and must be ignored.
func BuildUpdate(obj *unstructured.Unstructured, ignore []string) (Update, bool) {
	spec := util.SafeNestedMap(obj.Object, "spec")
	if isDirectoryApp(spec) {
		return Update{}, false
	}

	trimmed := make(map[string]interface{}, len(spec))
	for k, v := range spec {
		trimmed[k] = v
	}
	for _, f := range ignore {
		delete(trimmed, f)
	}

	return Update{
		Identity:        types.IdentityOf(obj),
		ResourceVersion: obj.GetResourceVersion(),
		Snapshot: types.ResourceSnapshot{
			Health:               types.HealthStatus(util.SafeNestedString(obj.Object, "status", "health", "status")),
			Sync:                 types.SyncStatus(util.SafeNestedString(obj.Object, "status", "sync", "status")),
			Revision:             util.SafeNestedString(obj.Object, "status", "sync", "revision"),
			Spec:                 changes.Normalize(trimmed),
			DestinationNamespace: util.SafeNestedString(obj.Object, "spec", "destination", "namespace"),
		},
	}, true
}

// isDirectoryApp reports whether every source of spec is a plain directory.
// A spec without sources is not a directory app.
func isDirectoryApp(spec map[string]interface{}) bool {
	if src := util.SafeNestedMap(spec, "source"); src != nil {
		return isDirectorySource(src)
	}
	srcs := util.SafeNestedSlice(spec, "sources")
	if len(srcs) == 0 {
		return false
	}
	for _, s := range srcs {
		src, ok := s.(map[string]interface{})
		if !ok || !isDirectorySource(src) {
			return false
		}
	}
	return true
}

func isDirectorySource(src map[string]interface{}) bool {
	if _, ok := src["directory"]; ok {
		return true
	}
	if util.SafeStringFromMap(src, "path") == "" {
		return false
	}
	for _, tool := range []string{"helm", "kustomize", "plugin"} {
		if _, ok := src[tool]; ok {
			return false
		}
	}
	return true
}

// compareVersions orders two resourceVersions. Resource versions are opaque;
// they are only compared when both parse as integers, which is what the API
// server hands out. ok is false otherwise and callers treat the event as fresh.
func compareVersions(a, b string) (cmp int, ok bool) {
	x, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return 0, false
	}
	y, err := strconv.ParseUint(b, 10, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	default:
		return 0, true
	}
}
