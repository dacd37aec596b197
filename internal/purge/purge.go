// Package purge removes a host's registrations from the monitoring and
// configuration-management registries.
package purge

import (
	"context"

	"github.com/yairfalse/awsdecomm/internal/diag"
)

// Purger removes one host from a registry. A nil error means the host is
// no longer registered, whether or not it was before the call.
type Purger interface {
	Name() string
	Purge(ctx context.Context, host string, log *diag.Log) error
}
