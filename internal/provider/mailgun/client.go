// Package mailgun implements provider.Provider on top of the Mailgun SDK.
package mailgun

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/vdavid/vrelay/internal/provider"
)

// ErrAPI is wrapped by every error the Mailgun API returns.
var ErrAPI = errors.New("mailgun API error")

// Config holds the API credentials and the webhook routes should forward to.
type Config struct {
	APIKey string
	Domain string
	// APIURL is the API host without a version path, e.g. https://api.eu.mailgun.net.
	APIURL     string
	WebhookURL string
}

// Client talks to the Mailgun API.
type Client struct {
	cfg       Config
	mg        *mailgun.MailgunImpl
	validator *mailgun.EmailValidatorImpl
}

var (
	_ provider.Provider       = (*Client)(nil)
	_ provider.StatusReporter = (*Client)(nil)
)

// NewClient builds the SDK clients. httpClient carries the tracing transport.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.mailgun.net"
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")

	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	mg.SetAPIBase(cfg.APIURL + "/v3")
	validator := mailgun.NewEmailValidator(cfg.APIKey)
	validator.SetAPIBase(cfg.APIURL + "/v4")
	if httpClient != nil {
		mg.SetClient(httpClient)
		validator.SetClient(httpClient)
	}
	return &Client{cfg: cfg, mg: mg, validator: validator}
}

func (c *Client) configured() bool {
	return c.cfg.APIKey != "" && c.cfg.Domain != ""
}

func apiError(err error) error {
	if status := mailgun.GetStatusFromErr(err); status > 0 {
		return fmt.Errorf("%w: status %d: %w", ErrAPI, status, err)
	}
	return fmt.Errorf("%w: %w", ErrAPI, err)
}

// Send submits the message with its attachments.
func (c *Client) Send(ctx context.Context, msg provider.OutboundMessage) (provider.SendResult, error) {
	if !c.configured() {
		return provider.SendResult{}, provider.ErrNotConfigured
	}

	to := make([]string, 0, len(msg.To))
	for _, p := range msg.To {
		to = append(to, p.String())
	}
	m := c.mg.NewMessage(msg.From.String(), msg.Subject, msg.Text, to...)
	if msg.HTML != "" {
		m.SetHtml(msg.HTML)
	}
	for _, p := range msg.CC {
		m.AddCC(p.String())
	}
	for _, p := range msg.BCC {
		m.AddBCC(p.String())
	}
	m.AddHeader("Reply-To", msg.From.String())
	if msg.InReplyTo != "" {
		m.AddHeader("In-Reply-To", msg.InReplyTo)
	}
	if len(msg.References) > 0 {
		m.AddHeader("References", strings.Join(msg.References, " "))
	}
	for _, att := range msg.Attachments {
		m.AddBufferAttachment(att.Filename, att.Data)
	}

	status, id, err := c.mg.Send(ctx, m)
	if err != nil {
		return provider.SendResult{}, apiError(err)
	}
	return provider.SendResult{ID: id, Message: status}, nil
}

// RouteExpression is the catch-all recipient filter for a domain.
func RouteExpression(domain string) string {
	return fmt.Sprintf(`match_recipient(".*@%s")`, regexp.QuoteMeta(strings.ToLower(domain)))
}

// findRoute returns the route with the expression, if any.
func (c *Client) findRoute(ctx context.Context, expression string) (*mailgun.Route, error) {
	it := c.mg.ListRoutes(&mailgun.ListOptions{Limit: 100})
	var page []mailgun.Route
	for it.Next(ctx, &page) {
		for i := range page {
			if page[i].Expression == expression {
				return &page[i], nil
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, apiError(err)
	}
	return nil, nil
}

// ProvisionAddress makes sure a catch-all route for the address's domain forwards to the webhook.
// An existing route for the domain is reused, so provisioning every address is safe.
func (c *Client) ProvisionAddress(ctx context.Context, address string) (provider.Route, error) {
	if !c.configured() || c.cfg.WebhookURL == "" {
		return provider.Route{}, provider.ErrNotConfigured
	}
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return provider.Route{}, fmt.Errorf("invalid address %q", address)
	}
	domain := address[at+1:]
	expression := RouteExpression(domain)

	existing, err := c.findRoute(ctx, expression)
	if err != nil {
		return provider.Route{}, err
	}
	if existing != nil {
		return provider.Route{ID: existing.Id, Expression: existing.Expression}, nil
	}

	created, err := c.mg.CreateRoute(ctx, mailgun.Route{
		Priority:    0,
		Description: "Forward " + domain + " to vrelay",
		Expression:  expression,
		Actions:     []string{fmt.Sprintf("forward(%q)", c.cfg.WebhookURL), "store()"},
	})
	if err != nil {
		return provider.Route{}, apiError(err)
	}
	return provider.Route{ID: created.Id, Expression: created.Expression, Created: true}, nil
}

// ValidateAddress asks the validation API for a verdict.
func (c *Client) ValidateAddress(ctx context.Context, address string) (provider.Validation, error) {
	if c.cfg.APIKey == "" {
		return provider.Validation{}, provider.ErrNotConfigured
	}

	v, err := c.validator.ValidateEmail(ctx, address, false)
	if err != nil {
		return provider.Validation{}, apiError(err)
	}
	return provider.Validation{
		Address:      address,
		IsValid:      v.Result == "deliverable" || v.Result == "catch_all",
		IsDisposable: v.IsDisposableAddress,
		IsRole:       v.IsRoleAddress,
		IsCatchAll:   v.Result == "catch_all",
	}, nil
}

// Status reports the sending domain and whether the inbound route for mailDomain exists.
func (c *Client) Status(ctx context.Context, mailDomain string) (provider.Status, error) {
	status := provider.Status{Provider: "mailgun", Domain: c.cfg.Domain, Configured: c.configured()}
	if !status.Configured {
		return status, nil
	}
	status.WebhookURL = c.cfg.WebhookURL

	route, err := c.findRoute(ctx, RouteExpression(mailDomain))
	if err != nil {
		return status, err
	}
	if route != nil {
		status.InboundRouteID = route.Id
	}
	return status, nil
}
