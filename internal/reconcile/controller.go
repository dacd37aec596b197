// Package reconcile drives one decommission run from event to notification.
package reconcile

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/awsdecomm/internal/decision"
	"github.com/yairfalse/awsdecomm/internal/diag"
	"github.com/yairfalse/awsdecomm/internal/event"
	"github.com/yairfalse/awsdecomm/internal/ledger"
	"github.com/yairfalse/awsdecomm/internal/notify"
	"github.com/yairfalse/awsdecomm/internal/purge"
)

// Decider produces the verdict for a host.
type Decider interface {
	Decide(ctx context.Context, host string, log *diag.Log) decision.Result
}

// Notifier sends the end-of-run message.
type Notifier interface {
	Dispatch(ctx context.Context, outcome notify.Outcome, ev *event.Event, log *diag.Log) (notify.Message, error)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(rec ledger.Record) (ulid.ULID, error)
}

// Metrics receives run and purge results.
type Metrics interface {
	RecordRun(ctx context.Context, outcome, verdict string, d time.Duration)
	RecordPurge(ctx context.Context, registry string, err error)
}

// Deps are the collaborators of a Controller. Decider, Monitoring and
// Notifier are required; the rest may be nil.
type Deps struct {
	Decider    Decider
	Monitoring purge.Purger
	Config     purge.Purger
	Notifier   Notifier
	Ledger     Recorder
	Metrics    Metrics
	Tracer     trace.Tracer
	Clock      clock.Clock
}

// Controller runs the decommission state machine.
type Controller struct {
	deps Deps
}

// NewController creates a controller.
func NewController(deps Deps) *Controller {
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("awsdecomm/reconcile")
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	return &Controller{deps: deps}
}

// Handle processes ev and returns the finished run. The notifier is called
// exactly once; nothing in the run changes after that.
func (c *Controller) Handle(ctx context.Context, ev *event.Event) *RunContext {
	run := &RunContext{
		ID:          ulid.Make(),
		Event:       ev,
		Diagnostics: diag.New(),
		Started:     c.deps.Clock.Now(),
	}

	ctx, span := c.deps.Tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run.id", run.ID.String()),
		attribute.String("host", ev.Host()),
		attribute.String("action", string(ev.Action)),
	))
	defer span.End()

	logger := zerolog.Ctx(ctx).With().
		Ctx(ctx).
		Str("run_id", run.ID.String()).
		Str("host", ev.Host()).
		Str("action", string(ev.Action)).
		Logger()
	ctx = logger.WithContext(ctx)

	run.enter(StateStart)
	switch ev.Action {
	case event.ActionResolve:
		logger.Info().Msg("check resolved, notifying only")
		run.Outcome = notify.OutcomeResolve
	case event.ActionCreate:
		c.decide(ctx, run)
	default:
		logger.Error().Msg("unsupported action")
		run.Diagnostics.Addf("Unsupported action %q for %s.", ev.Action, ev.Host())
		run.Outcome = notify.OutcomeFailure
	}

	c.finish(ctx, run)

	span.SetAttributes(
		attribute.String("outcome", run.Outcome.String()),
		attribute.String("verdict", run.VerdictString()),
	)
	return run
}

func (c *Controller) decide(ctx context.Context, run *RunContext) {
	logger := zerolog.Ctx(ctx)
	host := run.Event.Host()

	run.enter(StateDeciding)
	result := c.deps.Decider.Decide(ctx, host, run.Diagnostics)
	run.Decision = &result

	switch result.Verdict {
	case decision.Decommission:
		logger.Info().Msg("host is gone, proceeding with decommission")
		run.enter(StatePurging)
		run.Outcome = c.purge(ctx, run)
	case decision.Alert:
		if t := result.Trigger; t != nil {
			logger.Warn().Str("account", t.AccountID).Str("state", t.State.String()).Msg("host is still live, not purging")
		}
		run.enter(StateAlertOnly)
		run.Outcome = notify.OutcomeAlert
	default:
		logger.Error().Msg("could not verify host state, not purging")
		run.enter(StateFailureOnly)
		run.Outcome = notify.OutcomeFailure
	}
}

// purge runs the monitoring purger, then the configuration purger. Both are
// attempted regardless of the other's result.
func (c *Controller) purge(ctx context.Context, run *RunContext) notify.Outcome {
	outcome := notify.OutcomeSuccess
	for _, p := range []purge.Purger{c.deps.Monitoring, c.deps.Config} {
		if p == nil {
			continue
		}
		err := p.Purge(ctx, run.Event.Host(), run.Diagnostics)
		run.Purges = append(run.Purges, PurgeResult{Registry: p.Name(), Err: err})
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordPurge(ctx, p.Name(), err)
		}
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("registry", p.Name()).Msg("purge failed")
			outcome = notify.OutcomeFailure
		}
	}
	return outcome
}

func (c *Controller) finish(ctx context.Context, run *RunContext) {
	logger := zerolog.Ctx(ctx)

	run.enter(StateDone)
	run.Diagnostics.Seal()

	// The message still goes out when the run was interrupted; the
	// dispatcher bounds delivery with its own timeout.
	run.Message, run.NotifyErr = c.deps.Notifier.Dispatch(context.WithoutCancel(ctx), run.Outcome, run.Event, run.Diagnostics)
	run.Finished = c.deps.Clock.Now()

	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordRun(ctx, run.Outcome.String(), run.VerdictString(), run.Finished.Sub(run.Started))
	}
	if c.deps.Ledger != nil {
		if _, err := c.deps.Ledger.Record(run.Record()); err != nil {
			logger.Error().Err(err).Msg("failed to record run")
		}
	}

	logger.Info().
		Str("outcome", run.Outcome.String()).
		Str("verdict", run.VerdictString()).
		Dur("duration", run.Finished.Sub(run.Started)).
		Msg("run finished")
}
