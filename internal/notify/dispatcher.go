package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/awsdecomm/internal/diag"
	"github.com/yairfalse/awsdecomm/internal/event"
)

// DefaultTimeout bounds delivery of one notification.
const DefaultTimeout = 10 * time.Second

// Dispatcher renders and sends exactly one message per call.
type Dispatcher struct {
	sender  Sender
	from    string
	to      []string
	timeout time.Duration
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultTimeout.
func NewDispatcher(sender Sender, from string, to []string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		sender:  sender,
		from:    from,
		to:      to,
		timeout: timeout,
	}
}

// Dispatch renders the message for outcome and sends it. Delivery is best
// effort: the error is returned for the record and logged, never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, outcome Outcome, ev *event.Event, log *diag.Log) (Message, error) {
	msg := Message{
		From:    d.from,
		To:      d.to,
		Subject: Subject(outcome, ev),
		Body:    Body(ev, log),
	}
	logger := zerolog.Ctx(ctx).With().
		Str("outcome", outcome.String()).
		Str("subject", msg.Subject).
		Logger()

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.sender.Send(sendCtx, msg)
	switch {
	case err == nil:
		logger.Info().Msg("notification sent")
	case errors.Is(sendCtx.Err(), context.DeadlineExceeded):
		logger.Error().Err(err).Dur("timeout", d.timeout).Msg("timed out delivering notification")
	default:
		logger.Error().Err(err).Msg("notification delivery failed")
	}
	return msg, err
}
