package inventory

import (
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// LifecycleState is the provider-independent instance state.
type LifecycleState int

const (
	StateUnknown LifecycleState = iota
	StateRunning
	StateTerminated
	StateShuttingDown
	StateOther
)

func (s LifecycleState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	case StateShuttingDown:
		return "shutting-down"
	case StateOther:
		return "other"
	default:
		return "unknown"
	}
}

// Gone reports whether the state means the instance is going or gone.
func (s LifecycleState) Gone() bool {
	return s == StateTerminated || s == StateShuttingDown
}

// Observation is the result of looking a host up in one account.
type Observation struct {
	AccountID  string
	InstanceID string
	Exists     bool
	State      LifecycleState
	// RawState is the provider's own state name, kept for diagnostics.
	RawState string
	Err      error
}

// Live reports whether the observation shows an instance that is not
// terminated or terminating.
func (o Observation) Live() bool {
	return o.Exists && !o.State.Gone()
}

func mapState(state *ec2types.InstanceState) (LifecycleState, string) {
	if state == nil || state.Name == "" {
		return StateUnknown, ""
	}
	raw := string(state.Name)
	switch state.Name {
	case ec2types.InstanceStateNameRunning:
		return StateRunning, raw
	case ec2types.InstanceStateNameTerminated:
		return StateTerminated, raw
	case ec2types.InstanceStateNameShuttingDown:
		return StateShuttingDown, raw
	default:
		return StateOther, raw
	}
}

// liveness orders states so the most alive instance wins when a name
// matches several instances.
func liveness(s LifecycleState) int {
	switch s {
	case StateTerminated:
		return 0
	case StateShuttingDown:
		return 1
	default:
		return 2
	}
}
