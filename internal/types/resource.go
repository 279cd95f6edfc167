package types

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Phase is the lifecycle phase of a watched object.
//
// The first four values mirror the watch stream's event types. The remaining
// values are produced locally by the classifier from the object's state.
type Phase string

const (
	PhaseAdded    Phase = "ADDED"
	PhaseModified Phase = "MODIFIED"
	PhaseDeleted  Phase = "DELETED"
	PhaseError    Phase = "ERROR"

	PhaseDeleting Phase = "DELETING"   // deletionTimestamp set, finalizers still running
	PhaseUpToDate Phase = "UP_TO_DATE" // status.observedGeneration caught up with metadata.generation
)

// HealthStatus is the aggregate application health reported by Argo CD.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "Healthy"
	HealthProgressing HealthStatus = "Progressing"
	HealthDegraded    HealthStatus = "Degraded"
	HealthSuspended   HealthStatus = "Suspended"
	HealthMissing     HealthStatus = "Missing"
	HealthUnknown     HealthStatus = "Unknown"
)

// SyncStatus is the drift state between desired and live configuration.
type SyncStatus string

const (
	SyncSynced    SyncStatus = "Synced"
	SyncOutOfSync SyncStatus = "OutOfSync"
	SyncUnknown   SyncStatus = "Unknown"
)

// ResourceIdentity is the stable key of a watched resource.
// An empty Namespace denotes a cluster-scoped resource.
type ResourceIdentity struct {
	Namespace string
	Name      string
}

// IdentityOf returns the identity of an unstructured object.
func IdentityOf(obj *unstructured.Unstructured) ResourceIdentity {
	return ResourceIdentity{Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

func (id ResourceIdentity) String() string {
	if id.Namespace == "" {
		return id.Name
	}
	return fmt.Sprintf("%s/%s", id.Namespace, id.Name)
}

// ResourceSnapshot is the last-known derived state of a resource.
// Snapshots are replaced wholesale on every update and never mutated in place.
type ResourceSnapshot struct {
	Health               HealthStatus
	Sync                 SyncStatus
	Revision             string
	Spec                 map[string]interface{}
	DestinationNamespace string
}

// Settled reports whether the snapshot is both fully synced and fully healthy.
func (s ResourceSnapshot) Settled() bool {
	return s.Sync == SyncSynced && s.Health == HealthHealthy
}

// RefinedEvent is a watch event after local reclassification.
type RefinedEvent struct {
	Phase  Phase
	Object *unstructured.Unstructured
}
