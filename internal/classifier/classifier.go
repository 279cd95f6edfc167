// Package classifier reduces a raw watch phase and the object's own state to a
// refined lifecycle phase.
//
// Priority, first match wins:
//  1. raw phase DELETED gives Deleted.
//  2. metadata.deletionTimestamp set gives Deleting.
//  3. status.observedGeneration present and equal to metadata.generation gives UpToDate.
//  4. Otherwise the raw phase is returned unchanged (Added or Modified).
//
// UpToDate is dispatched to the same sync path as Added and Modified.
package classifier

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/delivops/argocd-notifier/internal/types"
	"github.com/delivops/argocd-notifier/internal/util"
)

// Classify returns the refined phase for a raw watch phase and object.
func Classify(raw types.Phase, obj *unstructured.Unstructured) types.Phase {
	if raw == types.PhaseDeleted {
		return types.PhaseDeleted
	}
	if obj == nil {
		return raw
	}
	if obj.GetDeletionTimestamp() != nil {
		return types.PhaseDeleting
	}
	if observed, ok := util.SafeNestedInt64(obj.Object, "status", "observedGeneration"); ok {
		if observed == obj.GetGeneration() {
			return types.PhaseUpToDate
		}
	}
	return raw
}

// Refine builds a RefinedEvent from a raw phase and object.
func Refine(raw types.Phase, obj *unstructured.Unstructured) types.RefinedEvent {
	return types.RefinedEvent{Phase: Classify(raw, obj), Object: obj}
}

// IsSync reports whether a refined phase belongs on the sync path.
func IsSync(p types.Phase) bool {
	switch p {
	case types.PhaseAdded, types.PhaseModified, types.PhaseUpToDate:
		return true
	default:
		return false
	}
}
