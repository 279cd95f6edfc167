package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/delivops/argocd-notifier/internal/config"
	"github.com/delivops/argocd-notifier/internal/notifier"
)

const redacted = "<redacted>"

// effectiveConfig is the printable view of config.Config.
type effectiveConfig struct {
	Resource         string   `json:"resource"`
	Namespace        string   `json:"namespace"`
	ArgoCDURL        string   `json:"argocdURL,omitempty"`
	InitialDelay     string   `json:"watchInitialDelay"`
	MaxDelay         string   `json:"watchMaxDelay"`
	BackoffFactor    float64  `json:"watchBackoffFactor"`
	ResyncInterval   string   `json:"resyncInterval"`
	Notifier         string   `json:"notifier"`
	SlackChannel     string   `json:"slackChannel,omitempty"`
	SlackToken       string   `json:"slackToken,omitempty"`
	SlackAPIURL      string   `json:"slackAPIURL,omitempty"`
	NotifyRate       float64  `json:"notifyRatePerSecond,omitempty"`
	WebhookURL       string   `json:"webhookURL,omitempty"`
	WebhookTimeout   string   `json:"webhookTimeout,omitempty"`
	WebhookAuthToken string   `json:"webhookAuthToken,omitempty"`
	DiffContext      int      `json:"diffContextLines"`
	DiffLineNumbers  bool     `json:"diffLineNumbers"`
	IgnoreSpecFields []string `json:"ignoreSpecFields"`
	MessageTemplate  string   `json:"messageTemplate,omitempty"`
	LogLevel         string   `json:"logLevel"`
	HealthAddr       string   `json:"healthProbeBindAddress"`
	MetricsAddr      string   `json:"metricsBindAddress"`
}

func newEffectiveConfig(c config.Config) effectiveConfig {
	out := effectiveConfig{
		Resource:         c.GVR().String(),
		Namespace:        c.Namespace,
		ArgoCDURL:        c.ArgoCDURL,
		InitialDelay:     c.InitialDelay.String(),
		MaxDelay:         c.MaxDelay.String(),
		BackoffFactor:    c.BackoffFactor,
		ResyncInterval:   c.ResyncInterval.String(),
		Notifier:         c.Notifier(),
		DiffContext:      c.DiffContext,
		DiffLineNumbers:  c.DiffLineNumbers,
		IgnoreSpecFields: c.IgnoreSpecFields,
		MessageTemplate:  c.MessageTemplate,
		LogLevel:         c.LogLevel,
		HealthAddr:       c.HealthAddr,
		MetricsAddr:      c.MetricsAddr,
	}
	switch out.Notifier {
	case config.NotifierSlack:
		out.SlackChannel = c.SlackChannel
		out.SlackAPIURL = c.SlackAPIURL
		out.NotifyRate = c.NotifyRatePerSecond
		if c.SlackToken != "" {
			out.SlackToken = redacted
		}
	case config.NotifierWebhook:
		out.WebhookURL = notifier.RedactURL(c.WebhookURL)
		out.WebhookTimeout = c.WebhookTimeout.String()
		if c.WebhookAuthToken != "" {
			out.WebhookAuthToken = redacted
		}
	}
	return out
}

func configCmd(cfg *config.Config, envErr error) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and validate it",
		Long: `Print the configuration after environment variables and flags are
applied. Secrets are redacted. Exits non-zero if the configuration is invalid.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(newEffectiveConfig(*cfg))
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}
			return validate(*cfg, envErr)
		},
	}
}
