// argocd-notifier watches Argo CD Applications and keeps one chat message per
// deployment cycle up to date until the application is Synced and Healthy.
//
// Usage:
//
//	argocd-notifier                 # run the notifier
//	argocd-notifier config          # print the effective configuration
//	argocd-notifier version
//
// Every flag defaults to its environment variable (see internal/config).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/delivops/argocd-notifier/internal/config"
)

var version = "dev"

func main() {
	cfg, envErr := config.FromEnv(os.LookupEnv)

	rootCmd := newRootCmd(&cfg, envErr)
	if err := rootCmd.ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. envErr carries environment parse
// failures so that only commands needing a valid configuration report them.
func newRootCmd(cfg *config.Config, envErr error) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "argocd-notifier",
		Short: "Post and update deployment notifications for Argo CD Applications",
		Long: `argocd-notifier watches Argo CD Application resources and reports each
deployment cycle as a single message that is edited in place until the
application is Synced and Healthy again.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validate(*cfg, envErr); err != nil {
				return err
			}
			return run(cmd.Context(), *cfg)
		},
	}

	bindFlags(rootCmd, cfg)
	rootCmd.AddCommand(configCmd(cfg, envErr))
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func bindFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.PersistentFlags()
	f.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Namespace to watch, empty for all. Env: "+config.EnvNamespace)
	f.StringVar(&cfg.ArgoCDURL, "argocd-url", cfg.ArgoCDURL, "Argo CD base URL for message links. Env: "+config.EnvArgoCDURL)
	f.StringVar(&cfg.Group, "group", cfg.Group, "API group of the watched resource. Env: "+config.EnvGroup)
	f.StringVar(&cfg.Version, "api-version", cfg.Version, "API version of the watched resource. Env: "+config.EnvVersion)
	f.StringVar(&cfg.Resource, "resource", cfg.Resource, "Plural resource name to watch. Env: "+config.EnvResource)
	f.DurationVar(&cfg.InitialDelay, "watch-initial-delay", cfg.InitialDelay, "First reconnect delay. Env: "+config.EnvInitialDelay)
	f.DurationVar(&cfg.MaxDelay, "watch-max-delay", cfg.MaxDelay, "Reconnect delay cap. Env: "+config.EnvMaxDelay)
	f.Float64Var(&cfg.BackoffFactor, "watch-backoff-factor", cfg.BackoffFactor, "Reconnect delay multiplier. Env: "+config.EnvBackoffFactor)
	f.DurationVar(&cfg.ResyncInterval, "resync-interval", cfg.ResyncInterval, "Full list interval, 0 lists once. Env: "+config.EnvResyncInterval)
	f.StringVar(&cfg.NotifierKind, "notifier", cfg.NotifierKind, "Notifier backend: slack, webhook or log. Env: "+config.EnvNotifier)
	f.StringVar(&cfg.SlackChannel, "slack-channel", cfg.SlackChannel, "Slack channel ID. Env: "+config.EnvSlackChannel)
	f.StringVar(&cfg.SlackAPIURL, "slack-api-url", cfg.SlackAPIURL, "Slack Web API base URL. Env: "+config.EnvSlackAPIURL)
	f.Float64Var(&cfg.NotifyRatePerSecond, "notify-rate", cfg.NotifyRatePerSecond, "Maximum Slack calls per second. Env: "+config.EnvNotifyRate)
	f.StringVar(&cfg.WebhookURL, "webhook-url", cfg.WebhookURL, "Webhook endpoint URL. Env: "+config.EnvWebhookURL)
	f.DurationVar(&cfg.WebhookTimeout, "webhook-timeout", cfg.WebhookTimeout, "Webhook request timeout. Env: "+config.EnvWebhookTimeout)
	f.IntVar(&cfg.DiffContext, "diff-context", cfg.DiffContext, "Unchanged lines around each change. Env: "+config.EnvDiffContext)
	f.BoolVar(&cfg.DiffLineNumbers, "diff-line-numbers", cfg.DiffLineNumbers, "Prefix diff lines with line numbers. Env: "+config.EnvDiffLineNumbers)
	f.StringSliceVar(&cfg.IgnoreSpecFields, "ignore-spec-fields", cfg.IgnoreSpecFields, "Top-level spec fields excluded from diffs. Env: "+config.EnvIgnoreSpecFields)
	f.StringVar(&cfg.MessageTemplate, "message-template", cfg.MessageTemplate, "Go template for the message header. Env: "+config.EnvMessageTemplate)
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: verbose, debug, info, warn, error. Env: "+config.EnvLogLevel)
	f.StringVar(&cfg.HealthAddr, "health-probe-bind-address", cfg.HealthAddr, "The address the health probe endpoint binds to. Env: "+config.EnvHealthAddr)
	f.StringVar(&cfg.MetricsAddr, "metrics-bind-address", cfg.MetricsAddr, "The address the metric endpoint binds to. Env: "+config.EnvMetricsAddr)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func validate(cfg config.Config, envErr error) error {
	if envErr != nil {
		return envErr
	}
	return cfg.Validate()
}
