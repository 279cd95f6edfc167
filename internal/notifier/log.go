package notifier

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogNotifier writes messages to the logger instead of sending them.
type LogNotifier struct {
	logger    *zap.Logger
	formatter *Formatter
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger, formatter *Formatter) *LogNotifier {
	return &LogNotifier{logger: logger.Named("log-notifier"), formatter: formatter}
}

// Name implements Backend.
func (l *LogNotifier) Name() string { return KindLog }

// Start implements Backend.
func (l *LogNotifier) Start(context.Context) {}

// Close implements Backend.
func (l *LogNotifier) Close() {}

// Create implements Notifier.
func (l *LogNotifier) Create(_ context.Context, msg Message) (Handle, error) {
	h := Handle(uuid.NewString())
	return h, l.write("create", h, msg)
}

// Update implements Notifier.
func (l *LogNotifier) Update(_ context.Context, h Handle, msg Message) (Handle, error) {
	if h == "" {
		h = Handle(uuid.NewString())
	}
	return h, l.write("update", h, msg)
}

func (l *LogNotifier) write(op string, h Handle, msg Message) error {
	text, err := l.formatter.Text(msg)
	if err != nil {
		return err
	}
	sendTotal.WithLabelValues(KindLog, op, "success").Inc()
	l.logger.Info("Deployment notification",
		zap.String("op", op),
		zap.String("handle", string(h)),
		zap.String("application", msg.Identity.String()),
		zap.Bool("in_progress", msg.InProgress),
		zap.String("text", text),
	)
	return nil
}
