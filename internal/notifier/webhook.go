package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultWebhookBufferSize = 100

// Envelope types.
const (
	EventDeploymentCreated = "deployment.created"
	EventDeploymentUpdated = "deployment.updated"
)

// WebhookEnvelope is the JSON payload POSTed to webhook endpoints.
type WebhookEnvelope struct {
	// Type is EventDeploymentCreated or EventDeploymentUpdated.
	Type string `json:"type"`
	// SchemaVersion allows consumers to detect breaking changes.
	SchemaVersion string `json:"schemaVersion"`
	// Timestamp is the RFC3339 time the notification was queued.
	Timestamp string `json:"timestamp"`
	// Handle identifies the deployment cycle. Updates repeat the handle of
	// the create they belong to.
	Handle string `json:"handle"`
	// Data is the rendered deployment state.
	Data WebhookData `json:"data"`
}

// WebhookData describes one application at one point of its deployment cycle.
type WebhookData struct {
	Application          string `json:"application"`
	Namespace            string `json:"namespace,omitempty"`
	Health               string `json:"health"`
	Sync                 string `json:"sync"`
	Revision             string `json:"revision,omitempty"`
	DestinationNamespace string `json:"destinationNamespace,omitempty"`
	InProgress           bool   `json:"inProgress"`
	Deleted              bool   `json:"deleted,omitempty"`
	Summary              string `json:"summary"`
	Changes              string `json:"changes,omitempty"`
	URL                  string `json:"url,omitempty"`
}

// WebhookConfig holds the configuration for creating a WebhookNotifier.
type WebhookConfig struct {
	URL                string
	Timeout            time.Duration
	InsecureSkipVerify bool
	// AuthToken is sent as a bearer token when set.
	AuthToken string
	// RetryDelay is the linear backoff step between retries. Default 1s.
	RetryDelay time.Duration
	// BufferSize bounds queued envelopes. Default 100.
	BufferSize int
}

// WebhookNotifier POSTs deployment envelopes to a generic HTTP endpoint.
//
// Deliveries are asynchronous and made by a single worker so a consumer
// always sees a cycle's create before its updates.
type WebhookNotifier struct {
	httpClient *http.Client
	logger     *zap.Logger
	formatter  *Formatter
	url        string
	authToken  string
	retryDelay time.Duration
	sendCh     chan WebhookEnvelope
	wg         sync.WaitGroup
}

// NewWebhookNotifier creates a WebhookNotifier. Returns an error if the URL is invalid.
func NewWebhookNotifier(logger *zap.Logger, cfg WebhookConfig, formatter *Formatter) (*WebhookNotifier, error) {
	if err := validateURL(cfg.URL, "webhook"); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultWebhookBufferSize
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // user-configured
		logger.Warn("Webhook TLS certificate verification is disabled, this is insecure",
			zap.String("url", RedactURL(cfg.URL)))
	}

	return &WebhookNotifier{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger:     logger.Named("webhook"),
		formatter:  formatter,
		url:        cfg.URL,
		authToken:  cfg.AuthToken,
		retryDelay: cfg.RetryDelay,
		sendCh:     make(chan WebhookEnvelope, cfg.BufferSize),
	}, nil
}

// Name implements Backend.
func (ws *WebhookNotifier) Name() string { return KindWebhook }

// Start implements Backend. Launches the delivery worker.
func (ws *WebhookNotifier) Start(ctx context.Context) {
	ws.wg.Add(1)
	go ws.worker(ctx)
	ws.logger.Info("Webhook notifier started", zap.String("url", RedactURL(ws.url)))
}

// Close waits for the worker to finish draining queued envelopes.
// Call after the context passed to Start is cancelled.
func (ws *WebhookNotifier) Close() {
	ws.wg.Wait()
}

// Create implements Notifier. The handle is generated locally.
func (ws *WebhookNotifier) Create(ctx context.Context, msg Message) (Handle, error) {
	h := Handle(uuid.NewString())
	if err := ws.enqueue(ctx, EventDeploymentCreated, h, msg); err != nil {
		return "", err
	}
	return h, nil
}

// Update implements Notifier. An empty handle starts a new cycle.
func (ws *WebhookNotifier) Update(ctx context.Context, h Handle, msg Message) (Handle, error) {
	if h == "" {
		return ws.Create(ctx, msg)
	}
	if err := ws.enqueue(ctx, EventDeploymentUpdated, h, msg); err != nil {
		return h, err
	}
	return h, nil
}

func (ws *WebhookNotifier) enqueue(ctx context.Context, typ string, h Handle, msg Message) error {
	summary, err := ws.formatter.Header(msg)
	if err != nil {
		return err
	}
	envelope := WebhookEnvelope{
		Type:          typ,
		SchemaVersion: "1",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Handle:        string(h),
		Data: WebhookData{
			Application:          msg.Identity.Name,
			Namespace:            msg.Identity.Namespace,
			Health:               string(msg.Snapshot.Health),
			Sync:                 string(msg.Snapshot.Sync),
			Revision:             msg.Snapshot.Revision,
			DestinationNamespace: msg.Snapshot.DestinationNamespace,
			InProgress:           msg.InProgress,
			Deleted:              msg.Deleted,
			Summary:              summary,
			Changes:              msg.Changes,
			URL:                  ws.formatter.Link(msg.Identity),
		},
	}

	select {
	case ws.sendCh <- envelope:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		sendTotal.WithLabelValues(KindWebhook, opOf(typ), "dropped").Inc()
		ws.logger.Warn("Webhook send buffer full, dropping notification",
			zap.String("application", msg.Identity.String()))
		return fmt.Errorf("webhook send buffer full")
	}
}

// worker drains the send channel in order.
// On context cancellation, it drains remaining buffered envelopes before exiting.
func (ws *WebhookNotifier) worker(ctx context.Context) {
	defer ws.wg.Done()
	for {
		if ctx.Err() != nil {
			ws.drain()
			return
		}
		select {
		case <-ctx.Done():
			ws.drain()
			return
		case envelope := <-ws.sendCh:
			if err := ws.deliver(ctx, envelope); err != nil {
				ws.logger.Error("Webhook send failed",
					zap.String("url", RedactURL(ws.url)),
					zap.String("handle", envelope.Handle),
					zap.Error(err),
				)
			}
		}
	}
}

// drain delivers whatever is still buffered, each with a fresh timeout.
func (ws *WebhookNotifier) drain() {
	for {
		select {
		case envelope := <-ws.sendCh:
			drainCtx, cancel := context.WithTimeout(context.Background(), ws.httpClient.Timeout)
			if err := ws.deliver(drainCtx, envelope); err != nil {
				ws.logger.Warn("Webhook send failed during shutdown drain",
					zap.String("url", RedactURL(ws.url)),
					zap.Error(err),
				)
			}
			cancel()
		default:
			return
		}
	}
}

// deliver POSTs one envelope with retries.
func (ws *WebhookNotifier) deliver(ctx context.Context, envelope WebhookEnvelope) error {
	op := opOf(envelope.Type)
	body, err := json.Marshal(envelope)
	if err != nil {
		sendTotal.WithLabelValues(KindWebhook, op, "error").Inc()
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	if err := withRetry(ctx, ws.logger, ws.retryDelay, func(ctx context.Context) error {
		return ws.doPost(ctx, body)
	}); err != nil {
		sendTotal.WithLabelValues(KindWebhook, op, "error").Inc()
		return err
	}
	sendTotal.WithLabelValues(KindWebhook, op, "success").Inc()
	return nil
}

// doPost executes a single HTTP POST request.
func (ws *WebhookNotifier) doPost(ctx context.Context, body []byte) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(body))
	if err != nil {
		return &deliveryError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if ws.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+ws.authToken)
	}

	resp, err := ws.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		sendDuration.WithLabelValues(KindWebhook, "error").Observe(duration)
		return &deliveryError{err: err, retryable: true}
	}
	defer func() {
		// Drain and close body to reuse connections.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		sendDuration.WithLabelValues(KindWebhook, "success").Observe(duration)
		return nil
	}

	sendDuration.WithLabelValues(KindWebhook, "error").Observe(duration)
	return &deliveryError{
		err:        fmt.Errorf("webhook returned HTTP %d", resp.StatusCode),
		retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func opOf(envelopeType string) string {
	if envelopeType == EventDeploymentCreated {
		return "create"
	}
	return "update"
}
