package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/yairfalse/awsdecomm/internal/config"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender submits messages to a mail relay.
type SMTPSender struct {
	host     string
	port     int
	helo     string
	user     string
	password string
	insecure bool
	timeout  time.Duration
}

// NewSMTPSender creates a sender from the profile's relay settings.
func NewSMTPSender(p *config.Profile) *SMTPSender {
	return &SMTPSender{
		host:     p.SMTPAddress,
		port:     p.SMTPPort,
		helo:     p.SMTPDomain,
		user:     p.SMTPUser,
		password: p.SMTPPassword,
		insecure: p.SMTPInsecureSkipVerify,
		timeout:  p.MailTimeout,
	}
}

// Send builds a plain-text message and submits it. STARTTLS is used when the
// relay offers it; certificate checks are skipped only when configured.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return fmt.Errorf("set recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         s.host,
			InsecureSkipVerify: s.insecure, // #nosec G402 -- operator opt-in
			MinVersion:         tls.VersionTLS12,
		}),
	}
	if s.helo != "" {
		opts = append(opts, mail.WithHELO(s.helo))
	}
	if s.timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.timeout))
	}
	if s.user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.user),
			mail.WithPassword(s.password),
		)
	}

	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
