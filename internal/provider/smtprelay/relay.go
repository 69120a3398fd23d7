// Package smtprelay sends outbound mail through a plain SMTP relay with go-mail.
// It is meant for deployments whose inbound routing is configured outside vrelay.
package smtprelay

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/provider"
	"github.com/wneessen/go-mail"
)

// Config holds the relay coordinates. Username may be empty for unauthenticated relays.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// RequireTLS refuses relays without STARTTLS. Otherwise TLS is opportunistic.
	RequireTLS bool
}

// Relay implements provider.Provider.
type Relay struct {
	cfg Config
}

var (
	_ provider.Provider       = (*Relay)(nil)
	_ provider.StatusReporter = (*Relay)(nil)
)

func NewRelay(cfg Config) *Relay {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Relay{cfg: cfg}
}

func (r *Relay) client() (*mail.Client, error) {
	policy := mail.TLSOpportunistic
	if r.cfg.RequireTLS {
		policy = mail.TLSMandatory
	}
	opts := []mail.Option{
		mail.WithPort(r.cfg.Port),
		mail.WithTLSPolicy(policy),
	}
	if r.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(r.cfg.Username),
			mail.WithPassword(r.cfg.Password),
		)
	}
	return mail.NewClient(r.cfg.Host, opts...)
}

// Send builds a MIME message and hands it to the relay. The returned id is the Message-Id header.
func (r *Relay) Send(ctx context.Context, msg provider.OutboundMessage) (provider.SendResult, error) {
	if r.cfg.Host == "" {
		return provider.SendResult{}, provider.ErrNotConfigured
	}

	m, id, err := buildMessage(msg)
	if err != nil {
		return provider.SendResult{}, err
	}

	c, err := r.client()
	if err != nil {
		return provider.SendResult{}, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return provider.SendResult{}, fmt.Errorf("failed to send via SMTP relay: %w", err)
	}
	return provider.SendResult{ID: id, Message: "accepted by relay"}, nil
}

func buildMessage(msg provider.OutboundMessage) (*mail.Msg, string, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(msg.From.Name, msg.From.Address); err != nil {
		return nil, "", fmt.Errorf("failed to set From address: %w", err)
	}
	for _, p := range msg.To {
		if err := m.AddToFormat(p.Name, p.Address); err != nil {
			return nil, "", fmt.Errorf("failed to add To address %s: %w", p.Address, err)
		}
	}
	for _, p := range msg.CC {
		if err := m.AddCcFormat(p.Name, p.Address); err != nil {
			return nil, "", fmt.Errorf("failed to add Cc address %s: %w", p.Address, err)
		}
	}
	for _, p := range msg.BCC {
		if err := m.AddBccFormat(p.Name, p.Address); err != nil {
			return nil, "", fmt.Errorf("failed to add Bcc address %s: %w", p.Address, err)
		}
	}
	m.Subject(msg.Subject)

	id := uuid.NewString() + "@" + domainOf(msg.From)
	m.SetMessageIDWithValue(id)
	if msg.InReplyTo != "" {
		m.SetGenHeader(mail.HeaderInReplyTo, msg.InReplyTo)
	}
	if len(msg.References) > 0 {
		m.SetGenHeader(mail.HeaderReferences, strings.Join(msg.References, " "))
	}

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}

	for _, att := range msg.Attachments {
		opts := []mail.FileOption{}
		if att.MimeType != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(att.MimeType)))
		}
		if err := m.AttachReader(att.Filename, bytes.NewReader(att.Data), opts...); err != nil {
			return nil, "", fmt.Errorf("failed to attach %s: %w", att.Filename, err)
		}
	}
	return m, "<" + id + ">", nil
}

func domainOf(p models.Participant) string {
	if at := strings.LastIndex(p.Address, "@"); at >= 0 && at < len(p.Address)-1 {
		return p.Address[at+1:]
	}
	return "localhost"
}

// ProvisionAddress is a no-op: relay deployments route inbound mail outside vrelay.
func (r *Relay) ProvisionAddress(_ context.Context, address string) (provider.Route, error) {
	return provider.Route{Expression: address}, nil
}

// ValidateAddress is not offered by a plain relay.
func (r *Relay) ValidateAddress(context.Context, string) (provider.Validation, error) {
	return provider.Validation{}, provider.ErrUnsupported
}

// Status reports the relay host. Inbound routing is outside vrelay, so no route is checked.
func (r *Relay) Status(context.Context, string) (provider.Status, error) {
	return provider.Status{
		Provider:   "smtp",
		Configured: r.cfg.Host != "",
		Domain:     fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port),
	}, nil
}
