package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/vdavid/vrelay/internal/provider"
)

// Provider records sends and provisions in memory.
type Provider struct {
	// SendErr, when set, is returned from every Send.
	SendErr error
	// NextID, when set, is used as the id of the next successful send.
	NextID string
	// Invalid lists addresses ValidateAddress reports as invalid.
	Invalid map[string]bool

	Sent        []provider.OutboundMessage
	Provisioned []string
	mu          sync.Mutex
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.StatusReporter = (*Provider)(nil)
)

func NewProvider() *Provider {
	return &Provider{Invalid: map[string]bool{}}
}

func (p *Provider) Send(_ context.Context, msg provider.OutboundMessage) (provider.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.SendErr != nil {
		return provider.SendResult{}, p.SendErr
	}
	p.Sent = append(p.Sent, msg)

	id := p.NextID
	p.NextID = ""
	if id == "" {
		id = fmt.Sprintf("<fake-%d@provider.test>", len(p.Sent))
	}
	return provider.SendResult{ID: id, Message: "Queued. Thank you."}, nil
}

func (p *Provider) ProvisionAddress(_ context.Context, address string) (provider.Route, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Provisioned = append(p.Provisioned, address)
	return provider.Route{ID: "route-1", Expression: `match_recipient(".*@fake")`, Created: len(p.Provisioned) == 1}, nil
}

func (p *Provider) ValidateAddress(_ context.Context, address string) (provider.Validation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return provider.Validation{Address: address, IsValid: !p.Invalid[address]}, nil
}

// Status reports the route created by the first ProvisionAddress, if any.
func (p *Provider) Status(_ context.Context, mailDomain string) (provider.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := provider.Status{Provider: "fake", Configured: true, Domain: mailDomain}
	if len(p.Provisioned) > 0 {
		status.InboundRouteID = "route-1"
	}
	return status, nil
}

// SentCount returns the number of successful sends.
func (p *Provider) SentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sent)
}
