// Package notifier delivers deployment notifications to an external channel.
//
// # Contract
//
// A deployment cycle of one application maps to one outbound message.
// Create posts that message and returns an opaque Handle; Update rewrites the
// message behind a Handle and returns the Handle to use from then on (some
// backends may move a message). Delivery is best effort: callers log errors
// and carry on, they never roll back their own state.
//
// # Backends
//
//   - slack:   chat.postMessage / chat.update, Handle is the message ts.
//   - webhook: JSON envelope POSTed asynchronously by a single ordered worker,
//     Handle is a locally generated UUID sent with every envelope.
//   - log:     writes the rendered message to the logger (dry run).
//
// # Types
//
//	type Notifier interface {
//	    Create(ctx context.Context, msg Message) (Handle, error)
//	    Update(ctx context.Context, h Handle, msg Message) (Handle, error)
//	}
//	func New(logger *zap.Logger, cfg Config) (Backend, error)
//
// # Rendering
//
// Formatter renders a header line from a text/template (sprig functions
// available), a status line, an Argo CD link and the accumulated changes in a
// code block, truncated to fit a single Slack section.
package notifier
