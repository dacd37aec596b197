package purge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chef/chef"
	"github.com/rs/zerolog"

	"github.com/yairfalse/awsdecomm/internal/config"
	"github.com/yairfalse/awsdecomm/internal/diag"
	"github.com/yairfalse/awsdecomm/internal/retry"
)

var errNotFound = errors.New("not found")

// ChefAPI defines the Chef server operations used by the purger.
type ChefAPI interface {
	GetNode(name string) (chef.Node, error)
	DeleteNode(name string) error
	DeleteClient(name string) error
}

// ClientFactory builds a client for one organization.
type ClientFactory func(org config.ChefOrg) (ChefAPI, error)

// ChefPurger deletes the node and client records from every organization.
type ChefPurger struct {
	orgs    []config.ChefOrg
	factory ClientFactory
	policy  *retry.Policy
}

// NewChefPurger creates a purger over orgs. An empty list makes Purge a no-op.
func NewChefPurger(orgs []config.ChefOrg, factory ClientFactory, policy *retry.Policy) *ChefPurger {
	return &ChefPurger{
		orgs:    orgs,
		factory: factory,
		policy:  policy,
	}
}

// Name returns the registry identifier.
func (c *ChefPurger) Name() string { return "chef" }

// Purge processes every organization and returns the joined per-organization
// failures. A node missing from an organization is skipped.
func (c *ChefPurger) Purge(ctx context.Context, host string, log *diag.Log) error {
	var errs []error
	for _, org := range c.orgs {
		if err := c.purgeOrg(ctx, org, host, log); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *ChefPurger) purgeOrg(ctx context.Context, org config.ChefOrg, host string, log *diag.Log) error {
	logger := zerolog.Ctx(ctx).With().
		Str("registry", c.Name()).
		Str("org", org.ServerURL).
		Logger()

	api, err := c.factory(org)
	if err != nil {
		logger.Error().Err(err).Msg("cannot create chef client")
		log.Addf("Deleting Chef node %s in %s failed permanently: %v", host, org.ServerURL, err)
		return fmt.Errorf("chef org %s: %w", org.ServerURL, err)
	}

	var found bool
	lookup := fmt.Sprintf("Looking up Chef node %s in %s", host, org.ServerURL)
	err = c.policy.Do(ctx, log, lookup, func(context.Context) error {
		_, err := api.GetNode(host)
		err = classifyChef(err)
		if errors.Is(err, errNotFound) {
			found = false
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		logger.Info().Msg("chef node does not exist, skipping")
		return nil
	}

	logger.Info().Msg("deleting chef node")
	remove := fmt.Sprintf("Deleting Chef node %s in %s", host, org.ServerURL)
	err = c.policy.Do(ctx, log, remove, func(context.Context) error {
		if err := ignoreNotFound(api.DeleteNode(host)); err != nil {
			return err
		}
		return ignoreNotFound(api.DeleteClient(host))
	})
	if err != nil {
		return err
	}
	logger.Info().Msg("chef node and client deleted")
	return nil
}

func ignoreNotFound(err error) error {
	err = classifyChef(err)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

// classifyChef maps Chef server responses: 404 becomes errNotFound, 429 and
// 5xx as well as network failures are transient, the rest is fatal.
func classifyChef(err error) error {
	if err == nil {
		return nil
	}

	var respErr *chef.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", errNotFound, err)
		case code == http.StatusTooManyRequests || code >= 500:
			return retry.Transient(err)
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Transient(err)
	}
	return err
}

// NewChefClient builds a go-chef client for org.
func NewChefClient(org config.ChefOrg, timeout time.Duration) (ChefAPI, error) {
	key, err := org.Key()
	if err != nil {
		return nil, err
	}
	client, err := chef.NewClient(&chef.Config{
		Name:    org.ClientName,
		Key:     key,
		BaseURL: org.ServerURL,
		Timeout: int(timeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("create chef client: %w", err)
	}
	return &chefClient{client: client}, nil
}

// ChefClientFactory returns a ClientFactory using NewChefClient.
func ChefClientFactory(timeout time.Duration) ClientFactory {
	return func(org config.ChefOrg) (ChefAPI, error) {
		return NewChefClient(org, timeout)
	}
}

type chefClient struct {
	client *chef.Client
}

func (c *chefClient) GetNode(name string) (chef.Node, error) {
	return c.client.Nodes.Get(name)
}

func (c *chefClient) DeleteNode(name string) error {
	return c.client.Nodes.Delete(name)
}

func (c *chefClient) DeleteClient(name string) error {
	return c.client.Clients.Delete(name)
}
