// Package notify renders and delivers the end-of-run email.
package notify

import (
	"fmt"
	"strings"

	"github.com/yairfalse/awsdecomm/internal/diag"
	"github.com/yairfalse/awsdecomm/internal/event"
)

// Outcome selects the subject line of the notification.
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomeSuccess
	OutcomeAlert
	OutcomeResolve
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAlert:
		return "alert"
	case OutcomeResolve:
		return "resolve"
	default:
		return "failure"
	}
}

// Message is a rendered notification.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Subject returns the subject line for outcome.
func Subject(outcome Outcome, ev *event.Event) string {
	switch outcome {
	case OutcomeSuccess:
		return fmt.Sprintf("Decommission of %s was successful.", ev.Host())
	case OutcomeAlert:
		return fmt.Sprintf("ALERT: %s/%s: %s", ev.Host(), ev.Check.Name, ev.StatusName())
	case OutcomeResolve:
		return fmt.Sprintf("RESOLVED: %s/%s: %s", ev.Host(), ev.Check.Name, ev.StatusName())
	default:
		return fmt.Sprintf("FAILURE: Decommission of %s failed.", ev.Host())
	}
}

// Body returns the diagnostics when any were recorded, otherwise a
// rendering of the check.
func Body(ev *event.Event, log *diag.Log) string {
	if log != nil && log.Len() > 0 {
		return log.String()
	}

	var b strings.Builder
	b.WriteString(ev.Check.Output)
	if !strings.HasSuffix(ev.Check.Output, "\n") {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Host: %s\n", ev.Host())
	fmt.Fprintf(&b, "Timestamp: %s\n", ev.IssuedAt().Format("2006-01-02 15:04:05 -0700"))
	fmt.Fprintf(&b, "Address: %s\n", ev.Client.Address)
	fmt.Fprintf(&b, "Check Name: %s\n", ev.Check.Name)
	fmt.Fprintf(&b, "Command: %s\n", ev.Check.Command)
	fmt.Fprintf(&b, "Status: %d\n", ev.Check.Status)
	fmt.Fprintf(&b, "Occurrences: %d\n", ev.Occurrences)
	return b.String()
}
