// Package config loads the handler settings.
//
// Settings files use the monitoring platform's layout: a top-level "api"
// section describing the platform API and one section per handler profile
// (default "awsdecomm"). Files are JSON or YAML; several files are merged
// top-level key by key, later files winning.
package config

import (
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultProfile is the settings section read when no profile is given.
const DefaultProfile = "awsdecomm"

// Settings holds the merged settings files.
type Settings struct {
	API APIConfig

	sections map[string]yaml.Node
}

// APIConfig describes the monitoring registry API.
type APIConfig struct {
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// URL returns the API base URL.
func (a APIConfig) URL() string {
	return fmt.Sprintf("%s://%s:%d", a.Scheme, a.Host, a.Port)
}

// Profile is one handler section.
type Profile struct {
	Name string `yaml:"-"`

	AWS  Accounts  `yaml:"aws"`
	Chef []ChefOrg `yaml:"chef"`

	MailTo                 string `yaml:"mail_to"`
	MailFrom               string `yaml:"mail_from"`
	SMTPAddress            string `yaml:"smtp_address"`
	SMTPPort               int    `yaml:"smtp_port"`
	SMTPDomain             string `yaml:"smtp_domain"`
	SMTPUser               string `yaml:"smtp_user"`
	SMTPPassword           string `yaml:"smtp_password"`
	SMTPInsecureSkipVerify bool   `yaml:"smtp_insecure_skip_verify"`

	MailTimeoutStr    string        `yaml:"mail_timeout"`
	MailTimeout       time.Duration `yaml:"-"`
	RequestTimeoutStr string        `yaml:"request_timeout"`
	RequestTimeout    time.Duration `yaml:"-"`

	Retry RetryConfig `yaml:"retry"`

	LedgerPath     string `yaml:"ledger_path"`
	PushgatewayURL string `yaml:"pushgateway_url"`

	OTEL OTELConfig `yaml:"otel"`
	Log  LogConfig  `yaml:"log"`
}

// AccountCredentials are the connection parameters for one cloud account.
type AccountCredentials struct {
	Label     string `yaml:"name"`
	AccessKey string `yaml:"aws_access_key"`
	SecretKey string `yaml:"aws_secret_access_key"`
	Region    string `yaml:"aws_region"`
}

// Accounts keeps cloud accounts in the order they appear in the settings.
type Accounts []AccountCredentials

// UnmarshalYAML accepts either a mapping of label to credentials or a list
// of credentials.
func (a *Accounts) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			var c AccountCredentials
			if err := node.Content[i+1].Decode(&c); err != nil {
				return fmt.Errorf("aws.%s: %w", node.Content[i].Value, err)
			}
			c.Label = node.Content[i].Value
			*a = append(*a, c)
		}
	case yaml.SequenceNode:
		for i, item := range node.Content {
			var c AccountCredentials
			if err := item.Decode(&c); err != nil {
				return fmt.Errorf("aws[%d]: %w", i, err)
			}
			if c.Label == "" {
				c.Label = fmt.Sprintf("account-%d", i)
			}
			*a = append(*a, c)
		}
	default:
		return fmt.Errorf("aws: expected a mapping or a list of accounts")
	}
	return nil
}

// ChefOrg is one configuration-management organization.
type ChefOrg struct {
	ServerURL  string `yaml:"server_url"`
	ClientName string `yaml:"client_name"`
	ClientKey  string `yaml:"client_key"`
}

// Key returns the client key PEM. ClientKey holds either the PEM text or a
// path to a PEM file.
func (o ChefOrg) Key() (string, error) {
	if strings.Contains(o.ClientKey, "-----BEGIN") {
		return o.ClientKey, nil
	}
	data, err := os.ReadFile(o.ClientKey) // #nosec G304 -- path comes from operator settings
	if err != nil {
		return "", fmt.Errorf("read chef client key: %w", err)
	}
	return string(data), nil
}

// RetryConfig holds the per-call retry budget.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	DelayStr string        `yaml:"delay"`
	Delay    time.Duration `yaml:"-"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads and merges settings files.
func Load(paths ...string) (*Settings, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no settings files given")
	}

	s := &Settings{sections: make(map[string]yaml.Node)}
	for _, path := range paths {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		var doc map[string]yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		for k, v := range doc {
			s.sections[k] = v
		}
	}

	if node, ok := s.sections["api"]; ok {
		if err := node.Decode(&s.API); err != nil {
			return nil, fmt.Errorf("parse api section: %w", err)
		}
	}
	applyAPIDefaults(&s.API)

	return s, nil
}

// Profile decodes, defaults and validates the named handler section.
func (s *Settings) Profile(name string) (*Profile, error) {
	if name == "" {
		name = DefaultProfile
	}

	node, ok := s.sections[name]
	if !ok {
		return nil, fmt.Errorf("settings section %q not found", name)
	}

	p := &Profile{}
	if err := node.Decode(p); err != nil {
		return nil, fmt.Errorf("parse %s section: %w", name, err)
	}
	p.Name = name

	applyDefaults(p)

	if err := parseDurations(p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s settings: %w", name, err)
	}
	return p, nil
}

func applyAPIDefaults(a *APIConfig) {
	if a.Scheme == "" {
		a.Scheme = "http"
	}
	if a.Host == "" {
		a.Host = "localhost"
	}
	if a.Port == 0 {
		a.Port = 4567
	}
}

func applyDefaults(p *Profile) {
	if p.MailTimeoutStr == "" {
		p.MailTimeoutStr = "10s"
	}
	if p.RequestTimeoutStr == "" {
		p.RequestTimeoutStr = "30s"
	}
	if p.Retry.Attempts == 0 {
		p.Retry.Attempts = 2
	}
	if p.Retry.DelayStr == "" {
		p.Retry.DelayStr = "3s"
	}
	if p.OTEL.ServiceName == "" {
		p.OTEL.ServiceName = "awsdecomm"
	}
	if p.Log.Level == "" {
		p.Log.Level = "info"
	}
}

func parseDurations(p *Profile) error {
	for _, d := range []struct {
		key string
		in  string
		out *time.Duration
	}{
		{"mail_timeout", p.MailTimeoutStr, &p.MailTimeout},
		{"request_timeout", p.RequestTimeoutStr, &p.RequestTimeout},
		{"retry.delay", p.Retry.DelayStr, &p.Retry.Delay},
	} {
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", d.key, d.in, err)
		}
		*d.out = v
	}
	return nil
}

// Validate checks every field the handler needs before any side effect.
func (p *Profile) Validate() error {
	if len(p.AWS) == 0 {
		return fmt.Errorf("aws: at least one account required")
	}
	for _, a := range p.AWS {
		if a.AccessKey == "" {
			return fmt.Errorf("aws.%s: aws_access_key is required", a.Label)
		}
		if a.SecretKey == "" {
			return fmt.Errorf("aws.%s: aws_secret_access_key is required", a.Label)
		}
		if a.Region == "" {
			return fmt.Errorf("aws.%s: aws_region is required", a.Label)
		}
	}

	for i, org := range p.Chef {
		if org.ServerURL == "" {
			return fmt.Errorf("chef[%d]: server_url is required", i)
		}
		if org.ClientName == "" {
			return fmt.Errorf("chef[%d]: client_name is required", i)
		}
		if org.ClientKey == "" {
			return fmt.Errorf("chef[%d]: client_key is required", i)
		}
	}

	if len(p.Recipients()) == 0 {
		return fmt.Errorf("mail_to is required")
	}
	for _, addr := range p.Recipients() {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("mail_to: %q: %w", addr, err)
		}
	}
	if p.MailFrom == "" {
		return fmt.Errorf("mail_from is required")
	}
	if p.SMTPAddress == "" {
		return fmt.Errorf("smtp_address is required")
	}
	if p.SMTPPort <= 0 || p.SMTPPort > 65535 {
		return fmt.Errorf("smtp_port must be between 1 and 65535 (got %d)", p.SMTPPort)
	}
	if p.SMTPDomain == "" {
		return fmt.Errorf("smtp_domain is required")
	}

	if p.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1 (got %d)", p.Retry.Attempts)
	}
	if p.Retry.Delay <= 0 {
		return fmt.Errorf("retry.delay must be positive")
	}
	if p.MailTimeout <= 0 {
		return fmt.Errorf("mail_timeout must be positive")
	}
	if p.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if p.OTEL.Traces.SampleRate < 0.0 || p.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", p.OTEL.Traces.SampleRate)
	}
	return nil
}

// Recipients splits mail_to on commas.
func (p *Profile) Recipients() []string {
	var out []string
	for _, r := range strings.Split(p.MailTo, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
