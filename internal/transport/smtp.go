package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	mail "github.com/wneessen/go-mail"
)

// SMTPConfig configures SMTPTransport, mirroring the teacher's
// pkg/mailer.Config shape.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
}

// SMTPTransport wraps wneessen/go-mail, following the teacher's
// pkg/mailer.SMTPMailer: a dial-and-send client built per message, an
// opportunistic TLS policy, and a test mode that builds the message and
// returns an id without dialing; nothing is logged.
type SMTPTransport struct {
	cfg      SMTPConfig
	testMode bool
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg}
}

// NewTestSMTPTransport returns a transport that never dials out; Send
// still validates and builds the message, only skipping DialAndSend.
func NewTestSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, testMode: true}
}

func (t *SMTPTransport) Send(ctx context.Context, m Message) (string, error) {
	msg := mail.NewMsg()

	fromName := m.FromName
	if fromName == "" {
		fromName = t.cfg.FromName
	}
	if err := msg.FromFormat(fromName, m.From); err != nil {
		return "", fmt.Errorf("set email from address: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return "", fmt.Errorf("set email recipient: %w", err)
	}
	msg.Subject(m.Subject)

	if m.HTMLBody != "" {
		msg.SetBodyString(mail.TypeTextHTML, m.HTMLBody)
	}
	if m.TextBody != "" {
		msg.AddAlternativeString(mail.TypeTextPlain, m.TextBody)
	}
	for k, v := range m.Headers {
		msg.SetGenHeader(mail.Header(k), v)
	}

	providerID := uuid.NewString()
	if t.testMode {
		return providerID, nil
	}

	client, err := mail.NewClient(t.cfg.Host,
		mail.WithPort(t.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(t.cfg.Username),
		mail.WithPassword(t.cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10*time.Second),
	)
	if err != nil {
		return "", fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return providerID, nil
}
