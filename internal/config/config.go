// Package config loads the notifier's configuration from the environment.
//
// Every setting has a default; only the notifier credentials are required,
// and only for the backend in use. Durations accept Go syntax ("30s") or a
// bare integer of milliseconds.
package config

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Environment variable names.
const (
	EnvGroup            = "ARGOCD_GROUP"
	EnvVersion          = "ARGOCD_VERSION"
	EnvResource         = "ARGOCD_RESOURCE"
	EnvNamespace        = "ARGOCD_NAMESPACE"
	EnvArgoCDURL        = "ARGOCD_URL"
	EnvInitialDelay     = "WATCH_INITIAL_DELAY"
	EnvMaxDelay         = "WATCH_MAX_DELAY"
	EnvBackoffFactor    = "WATCH_BACKOFF_FACTOR"
	EnvResyncInterval   = "RESYNC_INTERVAL"
	EnvNotifier         = "NOTIFIER"
	EnvSlackChannel     = "SLACK_CHANNEL"
	EnvSlackToken       = "SLACK_TOKEN"
	EnvSlackAPIURL      = "SLACK_API_URL"
	EnvNotifyRate       = "NOTIFY_RATE_PER_SECOND"
	EnvWebhookURL       = "WEBHOOK_URL"
	EnvWebhookTimeout   = "WEBHOOK_TIMEOUT"
	EnvWebhookToken     = "WEBHOOK_AUTH_TOKEN"
	EnvDiffContext      = "DIFF_CONTEXT_LINES"
	EnvDiffLineNumbers  = "DIFF_LINE_NUMBERS"
	EnvIgnoreSpecFields = "IGNORE_SPEC_FIELDS"
	EnvMessageTemplate  = "MESSAGE_TEMPLATE"
	EnvLogLevel         = "LOG_LEVEL"
	EnvHealthAddr       = "HEALTH_PROBE_BIND_ADDRESS"
	EnvMetricsAddr      = "METRICS_BIND_ADDRESS"
)

// Notifier kinds.
const (
	NotifierSlack   = "slack"
	NotifierWebhook = "webhook"
	NotifierLog     = "log"
)

// Config is the complete process configuration.
type Config struct {
	Group     string
	Version   string
	Resource  string
	Namespace string // "" watches all namespaces
	ArgoCDURL string

	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	ResyncInterval time.Duration // 0 lists once at startup only

	NotifierKind        string // slack, webhook or log; derived when empty
	SlackChannel        string
	SlackToken          string
	SlackAPIURL         string
	NotifyRatePerSecond float64
	WebhookURL          string
	WebhookTimeout      time.Duration
	WebhookAuthToken    string

	DiffContext      int
	DiffLineNumbers  bool
	IgnoreSpecFields []string
	MessageTemplate  string

	LogLevel    string
	HealthAddr  string
	MetricsAddr string
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Group:               "argoproj.io",
		Version:             "v1alpha1",
		Resource:            "applications",
		Namespace:           "argocd",
		InitialDelay:        time.Second,
		MaxDelay:            5 * time.Minute,
		BackoffFactor:       2,
		ResyncInterval:      10 * time.Minute,
		SlackAPIURL:         "https://slack.com/api",
		NotifyRatePerSecond: 1,
		WebhookTimeout:      10 * time.Second,
		DiffContext:         3,
		IgnoreSpecFields:    []string{"syncPolicy"},
		LogLevel:            "info",
		HealthAddr:          ":8081",
		MetricsAddr:         ":8080",
	}
}

// FromEnv overlays variables found by lookup onto Default. Pass os.LookupEnv
// in production. Unparseable values are reported together.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	var errs ValidationErrors

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs.Add(key, "must be a duration like 30s or an integer of milliseconds", v)
			return
		}
		*dst = d
	}
	float := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs.Add(key, "must be a number", v)
			return
		}
		*dst = f
	}

	str(EnvGroup, &c.Group)
	str(EnvVersion, &c.Version)
	str(EnvResource, &c.Resource)
	str(EnvNamespace, &c.Namespace)
	str(EnvArgoCDURL, &c.ArgoCDURL)
	dur(EnvInitialDelay, &c.InitialDelay)
	dur(EnvMaxDelay, &c.MaxDelay)
	float(EnvBackoffFactor, &c.BackoffFactor)
	dur(EnvResyncInterval, &c.ResyncInterval)
	str(EnvNotifier, &c.NotifierKind)
	str(EnvSlackChannel, &c.SlackChannel)
	str(EnvSlackToken, &c.SlackToken)
	str(EnvSlackAPIURL, &c.SlackAPIURL)
	float(EnvNotifyRate, &c.NotifyRatePerSecond)
	str(EnvWebhookURL, &c.WebhookURL)
	dur(EnvWebhookTimeout, &c.WebhookTimeout)
	str(EnvWebhookToken, &c.WebhookAuthToken)
	str(EnvMessageTemplate, &c.MessageTemplate)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvHealthAddr, &c.HealthAddr)
	str(EnvMetricsAddr, &c.MetricsAddr)

	if v, ok := lookup(EnvDiffContext); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs.Add(EnvDiffContext, "must be an integer", v)
		} else {
			c.DiffContext = n
		}
	}
	if v, ok := lookup(EnvDiffLineNumbers); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs.Add(EnvDiffLineNumbers, "must be a boolean", v)
		} else {
			c.DiffLineNumbers = b
		}
	}
	if v, ok := lookup(EnvIgnoreSpecFields); ok {
		// Set but empty means diff every field.
		c.IgnoreSpecFields = append([]string{}, SplitCSV(v)...)
	}

	return c, errs.Err()
}

// Notifier returns the effective notifier kind: NotifierKind when set,
// otherwise slack if any Slack setting is present, webhook if a webhook URL
// is, and log as the last resort.
func (c Config) Notifier() string {
	switch {
	case c.NotifierKind != "":
		return strings.ToLower(c.NotifierKind)
	case c.SlackToken != "" || c.SlackChannel != "":
		return NotifierSlack
	case c.WebhookURL != "":
		return NotifierWebhook
	default:
		return NotifierLog
	}
}

// GVR returns the watched resource.
func (c Config) GVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: c.Group, Version: c.Version, Resource: c.Resource}
}

// Level returns the parsed log level. Invalid levels fall back to info;
// Validate reports them.
func (c Config) Level() zapcore.Level {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// parseLevel accepts zap level names plus "verbose", an alias for debug.
func parseLevel(s string) (zapcore.Level, error) {
	if strings.EqualFold(strings.TrimSpace(s), "verbose") {
		return zapcore.DebugLevel, nil
	}
	return zapcore.ParseLevel(s)
}

// Validate checks c and returns ValidationErrors listing every problem.
func (c Config) Validate() error {
	var errs ValidationErrors

	if c.Group == "" {
		errs.Add("Group", "is required")
	}
	if c.Version == "" {
		errs.Add("Version", "is required")
	}
	if c.Resource == "" {
		errs.Add("Resource", "is required")
	}
	if c.InitialDelay <= 0 {
		errs.Add("InitialDelay", "must be positive", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		errs.Add("MaxDelay", "must not be less than InitialDelay", c.MaxDelay)
	}
	if c.BackoffFactor < 1 {
		errs.Add("BackoffFactor", "must be at least 1", c.BackoffFactor)
	}
	if c.ResyncInterval < 0 {
		errs.Add("ResyncInterval", "must not be negative", c.ResyncInterval)
	}
	if c.DiffContext < 0 {
		errs.Add("DiffContext", "must not be negative", c.DiffContext)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs.Add("LogLevel", "must be one of verbose, debug, info, warn, error", c.LogLevel)
	}

	switch c.Notifier() {
	case NotifierSlack:
		if c.SlackChannel == "" {
			errs.Add("SlackChannel", "is required for the slack notifier")
		}
		if c.SlackToken == "" {
			errs.Add("SlackToken", "is required for the slack notifier")
		}
		if c.NotifyRatePerSecond <= 0 {
			errs.Add("NotifyRatePerSecond", "must be positive", c.NotifyRatePerSecond)
		}
	case NotifierWebhook:
		if c.WebhookURL == "" {
			errs.Add("WebhookURL", "is required for the webhook notifier")
		}
		if c.WebhookTimeout <= 0 {
			errs.Add("WebhookTimeout", "must be positive", c.WebhookTimeout)
		}
	case NotifierLog:
	default:
		errs.Add("NotifierKind", "must be one of slack, webhook, log", c.NotifierKind)
	}

	return errs.Err()
}

// SplitCSV splits a comma-separated string into trimmed, non-empty values.
func SplitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
