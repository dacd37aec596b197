// Package decision turns per-account observations into a single verdict.
package decision

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/awsdecomm/internal/diag"
	"github.com/yairfalse/awsdecomm/internal/inventory"
)

// Verdict is the run-level decision.
type Verdict int

const (
	Failure Verdict = iota
	Decommission
	Alert
)

func (v Verdict) String() string {
	switch v {
	case Decommission:
		return "decommission"
	case Alert:
		return "alert"
	default:
		return "failure"
	}
}

// Checker looks a host up in one account.
type Checker interface {
	Account() string
	Check(ctx context.Context, host string, log *diag.Log) (inventory.Observation, error)
}

// Recorder receives the timing of every account lookup.
type Recorder interface {
	RecordLookup(ctx context.Context, account string, d time.Duration, err error)
}

// Result is the outcome of Decide.
type Result struct {
	Verdict Verdict
	// Observations are in account order.
	Observations []inventory.Observation
	// Trigger is the observation that caused an Alert, if any.
	Trigger *inventory.Observation
}

// Engine queries every account and aggregates the answers.
type Engine struct {
	checkers []Checker
	recorder Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder reports lookup durations to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates an engine over checkers, queried in the given order.
func NewEngine(checkers []Checker, opts ...Option) *Engine {
	e := &Engine{checkers: checkers}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide queries all accounts concurrently and waits for every one of them
// before computing the verdict.
func (e *Engine) Decide(ctx context.Context, host string, log *diag.Log) Result {
	logger := zerolog.Ctx(ctx)

	if len(e.checkers) == 0 {
		logger.Error().Msg("no cloud accounts configured")
		log.Addf("No cloud accounts are configured; cannot verify that %s is gone.", host)
		return Result{Verdict: Failure}
	}

	observations := make([]inventory.Observation, len(e.checkers))
	details := make([]*diag.Log, len(e.checkers))

	var g errgroup.Group
	for i, checker := range e.checkers {
		details[i] = diag.New()
		g.Go(func() error {
			observations[i] = e.lookup(ctx, checker, host, details[i])
			return nil
		})
	}
	_ = g.Wait()

	// Live instances lead; per-account details follow in account order.
	result := aggregate(observations, host, log)
	for _, d := range details {
		for _, entry := range d.Entries() {
			log.Addf("%s", entry)
		}
	}
	logger.Info().
		Str("verdict", result.Verdict.String()).
		Int("accounts", len(observations)).
		Msg("decision made")
	return result
}

func (e *Engine) lookup(ctx context.Context, checker Checker, host string, log *diag.Log) inventory.Observation {
	ctx, span := otel.Tracer("awsdecomm/decision").Start(ctx, "lookup")
	span.SetAttributes(
		attribute.String("account", checker.Account()),
		attribute.String("host", host),
	)
	defer span.End()

	logger := zerolog.Ctx(ctx).With().
		Ctx(ctx).
		Str("account", checker.Account()).
		Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	obs, err := checker.Check(ctx, host, log)
	if e.recorder != nil {
		e.recorder.RecordLookup(ctx, checker.Account(), time.Since(start), err)
	}

	// Checkers are expected to fill these in; enforce it for aggregation.
	obs.AccountID = checker.Account()
	if err != nil {
		obs.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return obs
	}
	span.SetAttributes(
		attribute.Bool("exists", obs.Exists),
		attribute.String("state", obs.State.String()),
	)
	return obs
}

// aggregate applies, in order: any failed lookup means Failure; any live
// instance means Alert; otherwise the host is gone everywhere.
func aggregate(observations []inventory.Observation, host string, log *diag.Log) Result {
	result := Result{Observations: observations}

	var failed bool
	for _, obs := range observations {
		if obs.Err != nil {
			failed = true
		}
	}

	for i := range observations {
		obs := observations[i]
		if obs.Err != nil || !obs.Live() {
			continue
		}
		if result.Trigger == nil {
			result.Trigger = &observations[i]
		}
		log.Addf("AWS instance %s (%s) is still %s in account %s.",
			host, obs.InstanceID, describeState(obs), obs.AccountID)
	}

	switch {
	case failed:
		result.Verdict = Failure
	case result.Trigger != nil:
		result.Verdict = Alert
	default:
		result.Verdict = Decommission
	}
	return result
}

func describeState(obs inventory.Observation) string {
	if obs.RawState != "" {
		return obs.RawState
	}
	return obs.State.String()
}
