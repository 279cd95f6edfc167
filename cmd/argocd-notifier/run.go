package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/dynamic"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/delivops/argocd-notifier/internal/cache"
	"github.com/delivops/argocd-notifier/internal/changes"
	"github.com/delivops/argocd-notifier/internal/config"
	"github.com/delivops/argocd-notifier/internal/deployment"
	"github.com/delivops/argocd-notifier/internal/engine"
	"github.com/delivops/argocd-notifier/internal/notifier"
	"github.com/delivops/argocd-notifier/internal/resync"
	"github.com/delivops/argocd-notifier/internal/sequencer"
	"github.com/delivops/argocd-notifier/internal/watch"
)

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConfig.Level = zap.NewAtomicLevelAt(cfg.Level())
	return logConfig.Build()
}

// notifierConfig maps the process configuration onto the notifier backend.
func notifierConfig(cfg config.Config) notifier.Config {
	return notifier.Config{
		Kind: cfg.Notifier(),
		Slack: notifier.SlackConfig{
			Token:         cfg.SlackToken,
			Channel:       cfg.SlackChannel,
			APIURL:        cfg.SlackAPIURL,
			RatePerSecond: cfg.NotifyRatePerSecond,
		},
		Webhook: notifier.WebhookConfig{
			URL:       cfg.WebhookURL,
			Timeout:   cfg.WebhookTimeout,
			AuthToken: cfg.WebhookAuthToken,
		},
		Formatter: notifier.FormatterOptions{
			ArgoCDURL:      cfg.ArgoCDURL,
			HeaderTemplate: cfg.MessageTemplate,
		},
	}
}

func watchOptions(cfg config.Config) watch.Options {
	opts := watch.DefaultOptions()
	opts.InitialDelay = cfg.InitialDelay
	opts.MaxDelay = cfg.MaxDelay
	opts.BackoffFactor = cfg.BackoffFactor
	return opts
}

// components is everything that runs inside the manager.
type components struct {
	store   *cache.Store
	backend notifier.Backend
	seq     *sequencer.Sequencer
	engine  *engine.Engine
	resync  *resync.Resyncer
}

// build wires the pipeline: watch and resync feed the engine, the engine
// feeds the sequencer, the sequencer drives the coordinator, and the
// coordinator calls the notifier.
func build(logger *zap.Logger, cfg config.Config, client dynamic.Interface) (*components, error) {
	backend, err := notifier.New(logger, notifierConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("building notifier: %w", err)
	}

	renderer := changes.Renderer{
		Context:     cfg.DiffContext,
		LineNumbers: cfg.DiffLineNumbers,
		Separator:   changes.DefaultSeparator,
	}
	store := cache.New()
	coordinator := deployment.NewCoordinator(logger, store, backend, renderer, deployment.Options{
		IgnoreSpecFields: cfg.IgnoreSpecFields,
	})

	seq := sequencer.New(logger)
	eng := engine.New(logger, watch.NewManager(logger, client, watchOptions(cfg)), seq)
	eng.Register(cfg.GVR(), cfg.Namespace, coordinator)

	rs := resync.New(logger, client, cfg.GVR(), cfg.Namespace, cfg.ResyncInterval, eng.Submit)

	return &components{store: store, backend: backend, seq: seq, engine: eng, resync: rs}, nil
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting argocd-notifier",
		zap.String("version", version),
		zap.String("resource", cfg.GVR().String()),
		zap.String("namespace", cfg.Namespace),
		zap.String("notifier", cfg.Notifier()),
		zap.Duration("resync_interval", cfg.ResyncInterval),
	)

	restCfg := ctrl.GetConfigOrDie()
	mgr, err := ctrl.NewManager(restCfg, ctrl.Options{
		HealthProbeBindAddress: cfg.HealthAddr,
		Metrics: metricsserver.Options{
			BindAddress: cfg.MetricsAddr,
		},
	})
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("creating dynamic client: %w", err)
	}

	c, err := build(logger, cfg, dynamicClient)
	if err != nil {
		return err
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("setting up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", c.engine.ReadyCheck); err != nil {
		return fmt.Errorf("setting up readiness check: %w", err)
	}

	runnables := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"notifier", func(ctx context.Context) error {
			c.backend.Start(ctx)
			<-ctx.Done()
			if open := c.store.InProgress(); len(open) > 0 {
				logger.Info("Shutting down with deployments in progress", zap.Int("count", len(open)))
			}
			// Wait for queued deliveries.
			c.backend.Close()
			return nil
		}},
		{"sequencer", c.seq.Run},
		{"engine", c.engine.Start},
		{"resync", c.resync.Start},
	}
	for _, r := range runnables {
		if err := mgr.Add(&runnableFunc{fn: r.fn}); err != nil {
			return fmt.Errorf("adding %s to manager: %w", r.name, err)
		}
	}

	logger.Info("Starting manager")
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("manager exited: %w", err)
	}
	logger.Info("Stopped")
	return nil
}

// runnableFunc is a helper to convert a function to a controller-runtime Runnable.
type runnableFunc struct {
	fn func(context.Context) error
}

func (r *runnableFunc) Start(ctx context.Context) error {
	return r.fn(ctx)
}
