package reconcile

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yairfalse/awsdecomm/internal/decision"
	"github.com/yairfalse/awsdecomm/internal/diag"
	"github.com/yairfalse/awsdecomm/internal/event"
	"github.com/yairfalse/awsdecomm/internal/ledger"
	"github.com/yairfalse/awsdecomm/internal/notify"
)

// State is a step of the run state machine.
type State int

const (
	StateStart State = iota
	StateDeciding
	StatePurging
	StateAlertOnly
	StateFailureOnly
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateDeciding:
		return "deciding"
	case StatePurging:
		return "purging"
	case StateAlertOnly:
		return "alert_only"
	case StateFailureOnly:
		return "failure_only"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// PurgeResult is the result of purging one registry.
type PurgeResult struct {
	Registry string
	Err      error
}

// RunContext holds everything about one run. It is owned by the controller
// until Handle returns.
type RunContext struct {
	ID    ulid.ULID
	Event *event.Event
	// Path lists the states visited, in order.
	Path []State

	// Decision is nil when the action did not require one.
	Decision *decision.Result
	Purges   []PurgeResult
	Outcome  notify.Outcome

	Diagnostics *diag.Log
	Message     notify.Message
	NotifyErr   error

	Started  time.Time
	Finished time.Time
}

func (r *RunContext) enter(s State) {
	r.Path = append(r.Path, s)
}

// VerdictString returns the verdict name, or "" when no decision was made.
func (r *RunContext) VerdictString() string {
	if r.Decision == nil {
		return ""
	}
	return r.Decision.Verdict.String()
}

// Record converts the run to a ledger record.
func (r *RunContext) Record() ledger.Record {
	rec := ledger.Record{
		ID:          r.ID,
		Host:        r.Event.Host(),
		Action:      string(r.Event.Action),
		Verdict:     r.VerdictString(),
		Outcome:     r.Outcome.String(),
		Subject:     r.Message.Subject,
		Diagnostics: r.Diagnostics.Entries(),
		Started:     r.Started,
		Finished:    r.Finished,
	}
	if r.NotifyErr != nil {
		rec.NotifyError = r.NotifyErr.Error()
	}
	return rec
}
