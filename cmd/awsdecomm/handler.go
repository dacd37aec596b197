package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/awsdecomm/internal/config"
	"github.com/yairfalse/awsdecomm/internal/decision"
	"github.com/yairfalse/awsdecomm/internal/event"
	"github.com/yairfalse/awsdecomm/internal/inventory"
	"github.com/yairfalse/awsdecomm/internal/ledger"
	"github.com/yairfalse/awsdecomm/internal/notify"
	"github.com/yairfalse/awsdecomm/internal/purge"
	"github.com/yairfalse/awsdecomm/internal/reconcile"
	"github.com/yairfalse/awsdecomm/internal/retry"
	"github.com/yairfalse/awsdecomm/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

var eventFile string

func runHandler(cmd *cobra.Command, _ []string) error {
	settings, profile, err := loadProfile()
	if err != nil {
		return err
	}

	ev, err := readEvent(cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(os.Stderr, logLevel(profile), debug)
	if err != nil {
		return err
	}
	ctx := logger.WithContext(cmd.Context())

	provider, err := telemetry.NewProvider(ctx, profile.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	deps, err := buildDeps(ctx, settings, profile, provider)
	if err != nil {
		return err
	}

	if profile.LedgerPath != "" {
		l, err := ledger.Open(profile.LedgerPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", profile.LedgerPath).Msg("run ledger unavailable")
		} else {
			defer func() { _ = l.Close() }()
			deps.Ledger = l
		}
	}

	controller := reconcile.NewController(deps)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(func() error {
		rc := controller.Handle(runCtx, ev)
		logger.Debug().Str("run_id", rc.ID.String()).Str("subject", rc.Message.Subject).Msg("handler done")
		return nil
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if err := g.Run(); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			logger.Warn().Str("signal", sig.Signal.String()).Msg("interrupted")
		}
		return err
	}

	if profile.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := provider.Push(pushCtx, profile.PushgatewayURL); err != nil {
			logger.Warn().Err(err).Msg("metrics push failed")
		}
	}
	return nil
}

// buildDeps wires the controller collaborators for profile. The ledger is
// attached by the caller.
func buildDeps(ctx context.Context, settings *config.Settings, profile *config.Profile, provider *telemetry.Provider) (reconcile.Deps, error) {
	policy := retry.NewPolicy(profile.Retry.Attempts, profile.Retry.Delay,
		retry.WithRetryHook(provider.RecordRetry))

	checkers := make([]decision.Checker, 0, len(profile.AWS))
	for _, account := range profile.AWS {
		client, err := inventory.NewEC2Client(ctx, account)
		if err != nil {
			return reconcile.Deps{}, err
		}
		checkers = append(checkers, inventory.NewChecker(account.Label, client, policy,
			inventory.WithTimeout(profile.RequestTimeout)))
	}

	deps := reconcile.Deps{
		Decider:    decision.NewEngine(checkers, decision.WithRecorder(provider)),
		Monitoring: purge.NewSensuPurger(settings.API, policy, purge.WithRequestTimeout(profile.RequestTimeout)),
		Notifier: notify.NewDispatcher(notify.NewSMTPSender(profile),
			profile.MailFrom, profile.Recipients(), profile.MailTimeout),
		Metrics: provider,
		Tracer:  provider.Tracer(),
	}
	if len(profile.Chef) > 0 {
		deps.Config = purge.NewChefPurger(profile.Chef, purge.ChefClientFactory(profile.RequestTimeout), policy)
	}
	return deps, nil
}

func readEvent(stdin io.Reader) (*event.Event, error) {
	r := stdin
	if eventFile != "" {
		f, err := os.Open(eventFile) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("open event: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	return event.Decode(r)
}

func logLevel(profile *config.Profile) string {
	if debug {
		return zerolog.LevelDebugValue
	}
	return profile.Log.Level
}
