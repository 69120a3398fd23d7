// Package provider defines the outbound transport capability: sending mail,
// provisioning inbound routes and validating addresses.
package provider

import (
	"context"
	"errors"

	"github.com/vdavid/vrelay/internal/models"
)

var (
	// ErrNotConfigured means the provider has no credentials or domain.
	ErrNotConfigured = errors.New("mail provider not configured")
	// ErrUnsupported is returned by providers that lack a capability.
	ErrUnsupported = errors.New("operation not supported by mail provider")
)

// Attachment is a file sent with an outbound message.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// OutboundMessage is what a provider needs to send one message.
type OutboundMessage struct {
	From        models.Participant
	To          []models.Participant
	CC          []models.Participant
	BCC         []models.Participant
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
	InReplyTo   string
	References  []string
}

// Recipients returns every envelope recipient address.
func (m OutboundMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	for _, list := range [][]models.Participant{m.To, m.CC, m.BCC} {
		for _, p := range list {
			out = append(out, p.Address)
		}
	}
	return out
}

// SendResult is the provider's acknowledgement of a send.
type SendResult struct {
	ID      string
	Message string
}

// Route is the inbound route serving a provisioned address.
type Route struct {
	ID         string
	Expression string
	Created    bool
}

// Validation is the provider's best-effort verdict on an address.
type Validation struct {
	Address      string `json:"address"`
	IsValid      bool   `json:"isValid"`
	IsDisposable bool   `json:"isDisposable"`
	IsRole       bool   `json:"isRole"`
	IsCatchAll   bool   `json:"isCatchAll"`
}

// Provider is the external transactional-email service.
type Provider interface {
	Send(ctx context.Context, msg OutboundMessage) (SendResult, error)
	// ProvisionAddress makes inbound mail for address reach the webhook. It is idempotent.
	ProvisionAddress(ctx context.Context, address string) (Route, error)
	ValidateAddress(ctx context.Context, address string) (Validation, error)
}

// Status describes how a provider is set up.
type Status struct {
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
	// Domain is the sending domain or relay host.
	Domain     string `json:"domain,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	// InboundRouteID is empty when no route forwards the mail domain to the webhook.
	InboundRouteID string `json:"inbound_route_id,omitempty"`
}

// StatusReporter is implemented by providers that can describe their setup.
type StatusReporter interface {
	Status(ctx context.Context, mailDomain string) (Status, error)
}

// Unconfigured is used when no provider credentials are set.
type Unconfigured struct{}

func (Unconfigured) Send(context.Context, OutboundMessage) (SendResult, error) {
	return SendResult{}, ErrNotConfigured
}

func (Unconfigured) ProvisionAddress(context.Context, string) (Route, error) {
	return Route{}, ErrNotConfigured
}

func (Unconfigured) ValidateAddress(context.Context, string) (Validation, error) {
	return Validation{}, ErrNotConfigured
}

func (Unconfigured) Status(context.Context, string) (Status, error) {
	return Status{Provider: "none"}, nil
}
