// Package testutil provides shared test helpers for the argocd-notifier project.
// Import this in test files to avoid duplicating fixture loading, application builders, etc.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/yaml"
)

// ApplicationGVR is the resource the notifier watches.
var ApplicationGVR = schema.GroupVersionResource{Group: "argoproj.io", Version: "v1alpha1", Resource: "applications"}

// LoadFixture reads a YAML file and returns it as an Unstructured object.
// Fails the test immediately if the file can't be read or parsed.
func LoadFixture(t *testing.T, path string) *unstructured.Unstructured {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read fixture %s", path)
	obj := &unstructured.Unstructured{}
	require.NoError(t, yaml.Unmarshal(data, &obj.Object), "failed to parse fixture %s", path)
	return obj
}

// AppOption mutates an Application built by MakeApplication.
type AppOption func(obj *unstructured.Unstructured)

// MakeApplication builds a Synced, Healthy helm-chart Application in the
// "argocd" namespace, then applies opts in order.
func MakeApplication(name string, opts ...AppOption) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "argoproj.io/v1alpha1",
		"kind":       "Application",
		"metadata": map[string]interface{}{
			"name":       name,
			"namespace":  "argocd",
			"generation": int64(1),
		},
		"spec": map[string]interface{}{
			"project": "default",
			"source": map[string]interface{}{
				"repoURL":        "https://charts.example.com",
				"chart":          name,
				"targetRevision": "1.0.0",
				"helm": map[string]interface{}{
					"valuesObject": map[string]interface{}{
						"image": map[string]interface{}{
							"repository": "registry.example.com/" + name,
							"tag":        "1.0.0",
						},
						"replicas": int64(2),
					},
				},
			},
			"destination": map[string]interface{}{
				"server":    "https://kubernetes.default.svc",
				"namespace": name,
			},
			"syncPolicy": map[string]interface{}{
				"automated": map[string]interface{}{"prune": true, "selfHeal": true},
			},
		},
		"status": map[string]interface{}{
			"health": map[string]interface{}{"status": "Healthy"},
			"sync": map[string]interface{}{
				"status":   "Synced",
				"revision": "1.0.0",
			},
			"observedGeneration": int64(1),
		},
	}}
	for _, opt := range opts {
		opt(obj)
	}
	return obj
}

// WithNamespace sets metadata.namespace.
func WithNamespace(ns string) AppOption {
	return func(obj *unstructured.Unstructured) { obj.SetNamespace(ns) }
}

// WithStatus sets the sync and health status.
func WithStatus(sync, health string) AppOption {
	return func(obj *unstructured.Unstructured) {
		mustSet(obj, sync, "status", "sync", "status")
		mustSet(obj, health, "status", "health", "status")
	}
}

// WithRevision sets status.sync.revision.
func WithRevision(rev string) AppOption {
	return func(obj *unstructured.Unstructured) { mustSet(obj, rev, "status", "sync", "revision") }
}

// WithTargetRevision sets spec.source.targetRevision.
func WithTargetRevision(rev string) AppOption {
	return func(obj *unstructured.Unstructured) { mustSet(obj, rev, "spec", "source", "targetRevision") }
}

// WithImageTag sets the image tag in the helm values object.
func WithImageTag(tag string) AppOption {
	return func(obj *unstructured.Unstructured) {
		mustSet(obj, tag, "spec", "source", "helm", "valuesObject", "image", "tag")
	}
}

// WithSpecField sets an arbitrary spec field. value must be JSON compatible.
func WithSpecField(value interface{}, fields ...string) AppOption {
	return func(obj *unstructured.Unstructured) {
		mustSet(obj, value, append([]string{"spec"}, fields...)...)
	}
}

// WithPathSource replaces the source with a plain directory source.
func WithPathSource(path string) AppOption {
	return func(obj *unstructured.Unstructured) {
		mustSet(obj, map[string]interface{}{
			"repoURL":        "https://git.example.com/manifests.git",
			"targetRevision": "HEAD",
			"path":           path,
		}, "spec", "source")
	}
}

// WithGeneration sets metadata.generation and status.observedGeneration.
func WithGeneration(generation, observed int64) AppOption {
	return func(obj *unstructured.Unstructured) {
		obj.SetGeneration(generation)
		mustSet(obj, observed, "status", "observedGeneration")
	}
}

// WithResourceVersion sets metadata.resourceVersion.
func WithResourceVersion(rv string) AppOption {
	return func(obj *unstructured.Unstructured) { obj.SetResourceVersion(rv) }
}

// WithDeletionTimestamp marks the object as being deleted.
func WithDeletionTimestamp() AppOption {
	return func(obj *unstructured.Unstructured) {
		ts := metav1.NewTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		obj.SetDeletionTimestamp(&ts)
	}
}

func mustSet(obj *unstructured.Unstructured, value interface{}, fields ...string) {
	if err := unstructured.SetNestedField(obj.Object, value, fields...); err != nil {
		panic(err)
	}
}
