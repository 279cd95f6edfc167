// Package changes detects and renders spec changes between two snapshots of an
// Argo CD Application.
//
// # Pipeline
//
//  1. Normalize: helm values given as a YAML string are parsed into a map so
//     they diff structurally.
//  2. Compute: a ChangeSet of changed leaf paths to their new values. A key
//     missing on one side compares equal to an explicit null on the other.
//  3. Canonicalize: both specs are rendered as YAML with sorted keys; inside
//     source blocks repoURL, targetRevision, chart, path and helm come first.
//  4. Render: unified line diff with N lines of context, file headers stripped,
//     optional old/new line numbers, a separator at every gap between hunks.
//
// A ChangeSet that touches only a source targetRevision or a helm image tag is
// rendered tersely: zero context and no separators.
package changes
