package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	maxRetries         = 2
	defaultRetryDelay  = time.Second
	defaultHTTPTimeout = 10 * time.Second
	userAgent          = "argocd-notifier/v1"
)

// deliveryError wraps an error with a retryable flag.
type deliveryError struct {
	err        error
	retryable  bool
	retryAfter time.Duration
}

func (e *deliveryError) Error() string { return e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

// isRetryable returns true if the error is a transient failure worth retrying.
func isRetryable(err error) bool {
	var de *deliveryError
	if errors.As(err, &de) {
		return de.retryable
	}
	// Unknown errors (connection refused, DNS, etc.) are retryable.
	return true
}

func retryAfter(err error) time.Duration {
	var de *deliveryError
	if errors.As(err, &de) {
		return de.retryAfter
	}
	return 0
}

// withRetry runs fn up to maxRetries+1 times. The wait before attempt n is
// n*base, or the server's Retry-After when that is longer.
func withRetry(ctx context.Context, logger *zap.Logger, base time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := range maxRetries + 1 {
		if attempt > 0 {
			wait := time.Duration(attempt) * base
			if ra := retryAfter(lastErr); ra > wait {
				wait = ra
			}
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		logger.Debug("Transient delivery failure, will retry",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", maxRetries+1, lastErr)
}

// RedactURL masks credentials in a URL for safe logging.
// It redacts userinfo passwords and query parameter values.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	redacted := u.Redacted()
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			q.Set(key, "REDACTED")
		}
		r, err := url.Parse(redacted)
		if err != nil {
			return redacted
		}
		r.RawQuery = q.Encode()
		return r.String()
	}
	return redacted
}

// validateURL checks that raw is an absolute http(s) URL.
func validateURL(raw, what string) error {
	if raw == "" {
		return fmt.Errorf("%s URL is required", what)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL: %w", what, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s URL must use http or https scheme, got %q", what, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s URL must include a host", what)
	}
	return nil
}
