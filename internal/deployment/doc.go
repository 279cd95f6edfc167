// Package deployment turns Application events into one coalesced
// notification per deployment cycle.
//
// # States
//
// Each application is either Idle or InProgress (cache.Entry.DeploymentInProgress).
//
//	unseen              -> record snapshot, no notification
//	no change           -> nothing
//	Idle + change       -> Create, Text = diff, InProgress = !settled
//	InProgress + change -> Text = merge(Text, diff), Update (Create if no handle),
//	                       InProgress = !settled
//
// A change is a sync status change, a health status change, or a non-empty
// spec ChangeSet. Settled means Synced and Healthy. Leaving InProgress keeps
// the handle and text until the next cycle's Create replaces them.
//
// Notifier failures are logged and counted; the new cache entry is stored
// regardless.
//
// # Skip rule
//
// Applications whose sources are plain directories (a path without a helm,
// kustomize or plugin block, or an explicit directory block) are not tracked.
package deployment
