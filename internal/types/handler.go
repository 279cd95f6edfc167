package types

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ResourceHandler reacts to lifecycle changes of one resource kind.
//
// The engine keeps a dispatch table from GVR to ResourceHandler and calls
// exactly one method per refined event. Calls are serialized by the event
// sequencer, so implementations never see two calls at once.
//
// Contract:
//   - Must not modify the input object.
//   - Must not panic; return errors instead. Errors are logged and dropped.
//   - State committed before an error is returned stands.
type ResourceHandler interface {
	// SyncResource handles Added, Modified and UpToDate events.
	SyncResource(ctx context.Context, obj *unstructured.Unstructured) error

	// DeleteResource handles Deleted events.
	DeleteResource(ctx context.Context, obj *unstructured.Unstructured) error
}
