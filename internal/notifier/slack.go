package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultSlackAPIURL is the base URL of the Slack Web API.
const DefaultSlackAPIURL = "https://slack.com/api"

// errMessageNotFound is returned by chat.update when the message is gone.
var errMessageNotFound = errors.New("slack message not found")

// SlackConfig holds the configuration for creating a SlackNotifier.
type SlackConfig struct {
	Token   string
	Channel string

	// APIURL overrides DefaultSlackAPIURL.
	APIURL string

	// Timeout bounds one HTTP request. Default 10s.
	Timeout time.Duration

	// RatePerSecond limits outbound calls. Default 1 (Slack's chat.* tier).
	RatePerSecond float64

	// RetryDelay is the linear backoff step between retries. Default 1s.
	RetryDelay time.Duration
}

// SlackNotifier posts and edits one Slack message per deployment cycle.
type SlackNotifier struct {
	httpClient *http.Client
	logger     *zap.Logger
	formatter  *Formatter
	limiter    *rate.Limiter
	apiURL     string
	token      string
	channel    string
	retryDelay time.Duration
}

// slackPayload is the request body of chat.postMessage and chat.update.
type slackPayload struct {
	Channel string  `json:"channel"`
	TS      string  `json:"ts,omitempty"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

// slackResponse is the common part of chat.* responses.
type slackResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}

// NewSlackNotifier creates a SlackNotifier.
func NewSlackNotifier(logger *zap.Logger, cfg SlackConfig, formatter *Formatter) (*SlackNotifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("slack token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack channel is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultSlackAPIURL
	}
	if err := validateURL(cfg.APIURL, "slack API"); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	return &SlackNotifier{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("slack"),
		formatter:  formatter,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		token:      cfg.Token,
		channel:    cfg.Channel,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Name implements Backend.
func (s *SlackNotifier) Name() string { return KindSlack }

// Start implements Backend. Slack calls are synchronous.
func (s *SlackNotifier) Start(context.Context) {}

// Close implements Backend.
func (s *SlackNotifier) Close() {}

// Create implements Notifier with chat.postMessage.
func (s *SlackNotifier) Create(ctx context.Context, msg Message) (Handle, error) {
	payload, err := s.payload(msg, "")
	if err != nil {
		return "", err
	}
	resp, err := s.call(ctx, "chat.postMessage", payload)
	if err != nil {
		sendTotal.WithLabelValues(KindSlack, "create", "error").Inc()
		return "", err
	}
	sendTotal.WithLabelValues(KindSlack, "create", "success").Inc()
	s.logger.Debug("Posted message",
		zap.String("application", msg.Identity.String()),
		zap.String("ts", resp.TS),
	)
	return Handle(resp.TS), nil
}

// Update implements Notifier with chat.update. If the message no longer
// exists a new one is posted and its handle returned.
func (s *SlackNotifier) Update(ctx context.Context, h Handle, msg Message) (Handle, error) {
	if h == "" {
		return s.Create(ctx, msg)
	}
	payload, err := s.payload(msg, string(h))
	if err != nil {
		return h, err
	}
	resp, err := s.call(ctx, "chat.update", payload)
	if errors.Is(err, errMessageNotFound) {
		s.logger.Info("Message to update is gone, posting a new one",
			zap.String("application", msg.Identity.String()),
			zap.String("ts", string(h)),
		)
		return s.Create(ctx, msg)
	}
	if err != nil {
		sendTotal.WithLabelValues(KindSlack, "update", "error").Inc()
		return h, err
	}
	sendTotal.WithLabelValues(KindSlack, "update", "success").Inc()
	if resp.TS == "" {
		return h, nil
	}
	return Handle(resp.TS), nil
}

func (s *SlackNotifier) payload(msg Message, ts string) (slackPayload, error) {
	text, err := s.formatter.Text(msg)
	if err != nil {
		return slackPayload{}, err
	}
	blocks, err := s.formatter.Blocks(msg)
	if err != nil {
		return slackPayload{}, err
	}
	return slackPayload{Channel: s.channel, TS: ts, Text: text, Blocks: blocks}, nil
}

// call invokes a Web API method with retries.
func (s *SlackNotifier) call(ctx context.Context, method string, payload slackPayload) (slackResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return slackResponse{}, fmt.Errorf("marshal %s payload: %w", method, err)
	}

	var out slackResponse
	err = withRetry(ctx, s.logger, s.retryDelay, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return &deliveryError{err: fmt.Errorf("rate limiter: %w", err)}
		}
		var err error
		out, err = s.post(ctx, method, body)
		return err
	})
	return out, err
}

// post executes a single Web API request.
func (s *SlackNotifier) post(ctx context.Context, method string, body []byte) (slackResponse, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return slackResponse{}, &deliveryError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		sendDuration.WithLabelValues(KindSlack, "error").Observe(duration)
		return slackResponse{}, &deliveryError{err: err, retryable: true}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		sendDuration.WithLabelValues(KindSlack, "error").Observe(duration)
		return slackResponse{}, &deliveryError{
			err:        fmt.Errorf("%s rate limited", method),
			retryable:  true,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sendDuration.WithLabelValues(KindSlack, "error").Observe(duration)
		return slackResponse{}, &deliveryError{
			err:       fmt.Errorf("%s returned HTTP %d", method, resp.StatusCode),
			retryable: resp.StatusCode >= 500,
		}
	}

	var out slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		sendDuration.WithLabelValues(KindSlack, "error").Observe(duration)
		return slackResponse{}, &deliveryError{err: fmt.Errorf("decode %s response: %w", method, err)}
	}
	if !out.OK {
		sendDuration.WithLabelValues(KindSlack, "error").Observe(duration)
		return out, slackAPIError(method, out.Error)
	}
	sendDuration.WithLabelValues(KindSlack, "success").Observe(duration)
	return out, nil
}

// slackAPIError maps an ok=false error code to a deliveryError.
func slackAPIError(method, code string) error {
	switch code {
	case "message_not_found", "cant_update_message":
		return &deliveryError{err: fmt.Errorf("%s: %s: %w", method, code, errMessageNotFound)}
	case "ratelimited", "internal_error", "fatal_error", "service_unavailable", "request_timeout":
		return &deliveryError{err: fmt.Errorf("%s: %s", method, code), retryable: true}
	default:
		return &deliveryError{err: fmt.Errorf("%s: %s", method, code)}
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
