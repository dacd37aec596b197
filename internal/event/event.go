// Package event models the lifecycle event delivered by the monitoring platform.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Action is the event lifecycle action.
type Action string

const (
	ActionCreate  Action = "create"
	ActionResolve Action = "resolve"
)

// Check statuses as reported by the monitoring platform.
const (
	StatusOK       = 0
	StatusWarning  = 1
	StatusCritical = 2
)

// Event is the read-only input of one run.
type Event struct {
	Action      Action `json:"action"`
	Client      Client `json:"client"`
	Check       Check  `json:"check"`
	Occurrences int    `json:"occurrences"`
}

// Client identifies the monitored host.
type Client struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Check is the check result that raised the event.
type Check struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Output  string `json:"output"`
	Status  int    `json:"status"`
	Issued  int64  `json:"issued"`
}

// Decode reads one event document.
func Decode(r io.Reader) (*Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate ensures the event can drive a run.
func (e *Event) Validate() error {
	e.Action = Action(strings.ToLower(string(e.Action)))
	switch e.Action {
	case ActionCreate, ActionResolve:
	default:
		return fmt.Errorf("unsupported event action %q", e.Action)
	}
	if e.Client.Name == "" {
		return fmt.Errorf("event client name is required")
	}
	return nil
}

// Host returns the host identifier the run is about.
func (e *Event) Host() string {
	return e.Client.Name
}

// StatusName maps the numeric check status to its name.
func (e *Event) StatusName() string {
	switch e.Check.Status {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// IssuedAt returns the check issue time.
func (e *Event) IssuedAt() time.Time {
	return time.Unix(e.Check.Issued, 0)
}
