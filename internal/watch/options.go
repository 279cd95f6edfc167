package watch

import (
	"time"

	"k8s.io/utils/clock"
)

// Options configures reconnect behaviour.
type Options struct {
	// InitialDelay is the wait before the first reconnect attempt.
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each consecutive failure.
	BackoffFactor float64

	// Clock drives reconnect timers. Tests inject a fake clock.
	Clock clock.WithDelayedExecution
}

// DefaultOptions returns the default reconnect options.
func DefaultOptions() Options {
	return Options{
		InitialDelay:  time.Second,
		MaxDelay:      5 * time.Minute,
		BackoffFactor: 2,
		Clock:         clock.RealClock{},
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.InitialDelay <= 0 {
		o.InitialDelay = def.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = def.BackoffFactor
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	return o
}
