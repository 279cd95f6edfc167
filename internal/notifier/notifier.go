package notifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/delivops/argocd-notifier/internal/types"
)

// Handle references a message created by a Notifier.
type Handle string

// Message is one rendering of an application's deployment cycle.
type Message struct {
	Identity types.ResourceIdentity
	Snapshot types.ResourceSnapshot

	// Changes is the accumulated change description of the cycle.
	Changes string

	// InProgress is false once the application is Synced and Healthy.
	InProgress bool

	// Deleted is set when the application disappeared mid-cycle.
	Deleted bool
}

// Notifier performs the outbound create/update calls.
type Notifier interface {
	Create(ctx context.Context, msg Message) (Handle, error)
	Update(ctx context.Context, h Handle, msg Message) (Handle, error)
}

// Backend is a Notifier with a lifecycle.
type Backend interface {
	Notifier

	// Name returns the backend identifier ("slack", "webhook", "log").
	Name() string

	// Start launches background workers, if any. Non-blocking.
	Start(ctx context.Context)

	// Close waits for queued deliveries. Call after the Start context ends.
	Close()
}

// Backend kinds.
const (
	KindSlack   = "slack"
	KindWebhook = "webhook"
	KindLog     = "log"
)

// Config selects and configures a Backend.
type Config struct {
	Kind      string
	Slack     SlackConfig
	Webhook   WebhookConfig
	Formatter FormatterOptions
}

// New builds the backend named by cfg.Kind.
func New(logger *zap.Logger, cfg Config) (Backend, error) {
	f, err := NewFormatter(cfg.Formatter)
	if err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindSlack:
		return NewSlackNotifier(logger, cfg.Slack, f)
	case KindWebhook:
		return NewWebhookNotifier(logger, cfg.Webhook, f)
	case KindLog, "":
		return NewLogNotifier(logger, f), nil
	default:
		return nil, fmt.Errorf("unknown notifier kind %q", cfg.Kind)
	}
}
