package purge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/awsdecomm/internal/config"
	"github.com/yairfalse/awsdecomm/internal/diag"
	"github.com/yairfalse/awsdecomm/internal/retry"
)

const defaultRequestTimeout = 30 * time.Second

// SensuPurger deletes the client registration through the monitoring API.
type SensuPurger struct {
	api     config.APIConfig
	client  *http.Client
	policy  *retry.Policy
	timeout time.Duration
}

// SensuOption configures a SensuPurger.
type SensuOption func(*SensuPurger)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) SensuOption {
	return func(s *SensuPurger) { s.client = c }
}

// WithRequestTimeout bounds every API request.
func WithRequestTimeout(d time.Duration) SensuOption {
	return func(s *SensuPurger) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSensuPurger creates a purger for the API described by api.
func NewSensuPurger(api config.APIConfig, policy *retry.Policy, opts ...SensuOption) *SensuPurger {
	s := &SensuPurger{
		api:     api,
		client:  http.DefaultClient,
		policy:  policy,
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the registry identifier.
func (s *SensuPurger) Name() string { return "sensu" }

// Purge deletes the client named host. 202 and 404 are both success.
func (s *SensuPurger) Purge(ctx context.Context, host string, log *diag.Log) error {
	logger := zerolog.Ctx(ctx).With().Str("registry", s.Name()).Logger()
	logger.Info().Msg("deleting monitoring client")

	op := fmt.Sprintf("Deleting Sensu client %s", host)
	return s.policy.Do(ctx, log, op, func(ctx context.Context) error {
		status, err := s.delete(ctx, host)
		if err != nil {
			return err
		}
		switch status {
		case http.StatusAccepted:
			logger.Info().Msg("monitoring client deleted")
			return nil
		case http.StatusNotFound:
			logger.Info().Msg("monitoring client already absent")
			return nil
		default:
			return retry.Transient(fmt.Errorf("sensu API returned status %d", status))
		}
	})
}

func (s *SensuPurger) delete(ctx context.Context, host string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := strings.TrimSuffix(s.api.URL(), "/") + "/clients/" + url.PathEscape(host)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if s.api.User != "" {
		req.SetBasicAuth(s.api.User, s.api.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, retry.Transient(fmt.Errorf("sensu API request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
