// Package inventory looks a host up in one cloud account.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog"

	"github.com/yairfalse/awsdecomm/internal/diag"
	"github.com/yairfalse/awsdecomm/internal/retry"
)

const defaultTimeout = 30 * time.Second

var instanceIDPattern = regexp.MustCompile(`^i-[0-9a-f]{8}([0-9a-f]{9})?$`)

// codeNotFound is returned by DescribeInstances for an unknown instance ID.
const codeNotFound = "InvalidInstanceID.NotFound"

// Client-side faults that no amount of retrying will fix.
var fatalCodes = map[string]bool{
	"AuthFailure":                 true,
	"UnauthorizedOperation":       true,
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"OptInRequired":               true,
	"Blocked":                     true,
	"InvalidInstanceID.Malformed": true,
	"InvalidParameterValue":       true,
}

// Checker queries a single account.
type Checker struct {
	account string
	client  EC2API
	policy  *retry.Policy
	timeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout bounds every DescribeInstances call.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChecker creates a checker for the account labelled account.
func NewChecker(account string, client EC2API, policy *retry.Policy, opts ...Option) *Checker {
	c := &Checker{
		account: account,
		client:  client,
		policy:  policy,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account returns the account label.
func (c *Checker) Account() string {
	return c.account
}

// Check looks host up. The returned error is set only when the lookup
// could not produce an answer; it is also stored in the observation.
func (c *Checker) Check(ctx context.Context, host string, log *diag.Log) (Observation, error) {
	logger := zerolog.Ctx(ctx).With().Str("account", c.account).Logger()
	obs := Observation{AccountID: c.account}

	var instances []ec2types.Instance
	op := fmt.Sprintf("AWS lookup for %s in account %s", host, c.account)
	err := c.policy.Do(ctx, log, op, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var err error
		instances, err = c.describe(callCtx, host)
		return classify(ctx, err)
	})
	if err != nil {
		obs.Err = err
		return obs, err
	}

	if len(instances) == 0 {
		logger.Info().Str("host", host).Msg("instance not found")
		log.Addf("AWS instance %s was not found in account %s.", host, c.account)
		return obs, nil
	}

	best := instances[0]
	bestState, bestRaw := mapState(best.State)
	for _, inst := range instances[1:] {
		state, raw := mapState(inst.State)
		if liveness(state) > liveness(bestState) {
			best, bestState, bestRaw = inst, state, raw
		}
	}

	obs.Exists = true
	obs.InstanceID = aws.ToString(best.InstanceId)
	obs.State = bestState
	obs.RawState = bestRaw

	logger.Info().
		Str("host", host).
		Str("instance_id", obs.InstanceID).
		Str("state", bestRaw).
		Int("matches", len(instances)).
		Msg("instance found")
	return obs, nil
}

func (c *Checker) describe(ctx context.Context, host string) ([]ec2types.Instance, error) {
	input := &ec2.DescribeInstancesInput{}
	if instanceIDPattern.MatchString(host) {
		input.InstanceIds = []string{host}
	} else {
		input.Filters = []ec2types.Filter{{Name: aws.String("tag:Name"), Values: []string{host}}}
	}

	var instances []ec2types.Instance
	for {
		output, err := c.client.DescribeInstances(ctx, input)
		if err != nil {
			if apiErrorCode(err) == codeNotFound {
				return nil, nil
			}
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			instances = append(instances, reservation.Instances...)
		}

		if output.NextToken == nil {
			break
		}
		input.NextToken = output.NextToken
	}
	return instances, nil
}

// classify marks errors from the service or the transport as transient.
// Anything else, including cancellation of the run itself, is fatal.
func classify(runCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if runCtx.Err() != nil {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if fatalCodes[apiErr.ErrorCode()] {
			return err
		}
		return retry.Transient(err)
	}

	var sendErr *smithyhttp.RequestSendError
	var netErr net.Error
	if errors.As(err, &sendErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Transient(err)
	}
	return err
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
