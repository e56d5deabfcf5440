package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/umran/mqpub"
	"github.com/umran/mqpub/internal/metrics"
)

const (
	stopTimeout     = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// environment holds the constructors commands use to reach the outside world.
type environment struct {
	newBroker func(ctx context.Context, cfg *mqpub.Config) (mqpub.Broker, error)
	newLogger func(verbose bool) (*zap.SugaredLogger, error)
}

// session is what a command runs against: a connected broker, a logger and
// the metrics publishers report to.
type session struct {
	cfg     *Config
	log     *zap.SugaredLogger
	broker  mqpub.Broker
	metrics *mqpub.Metrics
}

// run builds a session from the global flags, runs fn with it and tears it
// down again. The context passed to fn is cancelled on SIGINT or SIGTERM.
func (env *environment) run(c *cli.Context, fn func(ctx context.Context, s *session) error) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := env.newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Debugw("config",
		"verbose", cfg.Verbose,
		"provider", cfg.Broker.Provider,
		"settings", cfg.SettingsPath,
		"metricsAddr", cfg.MetricsAddr,
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m, err := mqpub.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	if cfg.MetricsAddr != "" {
		server := metrics.NewServer(cfg.MetricsAddr, registry)
		errCh, err := server.Start()
		if err != nil {
			return err
		}
		sugar.Infow("serving metrics", "addr", server.Addr())
		go func() {
			for err := range errCh {
				sugar.Errorw("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				sugar.Warnw("failed to shut down metrics server", "error", err)
			}
		}()
	}

	broker, err := env.newBroker(ctx, &cfg.Broker)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Broker.Provider, err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			sugar.Warnw("failed to close broker", "provider", cfg.Broker.Provider, "error", err)
		}
	}()

	return fn(ctx, &session{
		cfg:     cfg,
		log:     sugar,
		broker:  broker,
		metrics: m,
	})
}

// settings loads the publish settings named by --settings and MQ_* variables.
func (s *session) settings() (mqpub.PublishSettings, error) {
	settings, err := mqpub.LoadPublishSettings(s.cfg.SettingsPath)
	if err != nil {
		return mqpub.PublishSettings{}, fmt.Errorf("failed to load publish settings: %w", err)
	}
	return settings, nil
}

// withPublisher runs fn with a Publisher over the session's broker and stops
// it afterwards, waiting for every outstanding message.
func (s *session) withPublisher(ctx context.Context, settings mqpub.PublishSettings, fn func(p *mqpub.Publisher) error) error {
	p, err := mqpub.NewPublisher(s.broker, settings,
		mqpub.WithLogger(s.log),
		mqpub.WithMetrics(s.metrics),
	)
	if err != nil {
		return err
	}

	runErr := fn(p)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to stop publisher: %w", err)
	}
	return runErr
}

// subscriber returns the session's broker as a Subscriber, if it is one.
func (s *session) subscriber() (mqpub.Subscriber, error) {
	sub, ok := s.broker.(mqpub.Subscriber)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support subscriptions", s.cfg.Broker.Provider)
	}
	return sub, nil
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", fmt.Errorf("missing required argument <%s>", name)
	}
	return arg, nil
}
