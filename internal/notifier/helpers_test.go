package notifier

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/delivops/argocd-notifier/internal/types"
)

func testMessage() Message {
	return Message{
		Identity: types.ResourceIdentity{Namespace: "argocd", Name: "payments"},
		Snapshot: types.ResourceSnapshot{
			Health:               types.HealthProgressing,
			Sync:                 types.SyncOutOfSync,
			Revision:             "4f2a9c1e8b7d",
			DestinationNamespace: "payments-prod",
		},
		Changes:    "7   -  targetRevision: v1.1.0\n  7 +  targetRevision: v1.1.1",
		InProgress: true,
	}
}

func testFormatter(t *testing.T) *Formatter {
	t.Helper()
	f, err := NewFormatter(FormatterOptions{ArgoCDURL: "https://argocd.example.com/"})
	require.NoError(t, err)
	return f
}

// waitForCount polls until the atomic counter reaches the expected value or timeout.
func waitForCount(t *testing.T, counter *atomic.Int32, expected int32, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if counter.Load() >= expected {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for calls: got %d, want %d", counter.Load(), expected)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
