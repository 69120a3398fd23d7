package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/provider"
)

var (
	ErrInvalidAddress       = errors.New("invalid mail address")
	ErrAddressOutsideDomain = errors.New("address is not on the mail domain")
	ErrAddressTaken         = errors.New("address already belongs to another mailbox")
	ErrAlreadyProvisioned   = errors.New("mailbox already has a different address")
)

// AddressCheck is the availability verdict for a candidate address.
type AddressCheck struct {
	Address    string               `json:"address"`
	Available  bool                 `json:"available"`
	Reason     string               `json:"reason,omitempty"`
	Validation *provider.Validation `json:"validation,omitempty"`
}

// Provisioner assigns mailbox addresses and sets up provider routing for them.
type Provisioner struct {
	store    db.Store
	provider provider.Provider
	domain   string
	logger   *slog.Logger
}

func NewProvisioner(store db.Store, p provider.Provider, mailDomain string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		store:    store,
		provider: p,
		domain:   strings.ToLower(mailDomain),
		logger:   logger,
	}
}

// normalizeAddress lowercases the address and checks it belongs to the mail domain.
func (p *Provisioner) normalizeAddress(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address || parsed.Name != "" {
		return "", ErrInvalidAddress
	}
	if !strings.HasSuffix(address, "@"+p.domain) {
		return "", ErrAddressOutsideDomain
	}
	return address, nil
}

// CheckAddress reports whether address could be provisioned. Provider validation is best-effort.
func (p *Provisioner) CheckAddress(ctx context.Context, address string) (*AddressCheck, error) {
	normalized, err := p.normalizeAddress(address)
	if err != nil {
		return &AddressCheck{Address: address, Reason: err.Error()}, nil
	}

	check := &AddressCheck{Address: normalized, Available: true}
	_, err = p.store.GetUserByMailAddress(ctx, normalized)
	switch {
	case err == nil:
		check.Available = false
		check.Reason = ErrAddressTaken.Error()
	case !errors.Is(err, db.ErrUserNotFound):
		return nil, fmt.Errorf("failed to check address: %w", err)
	}

	validation, err := p.provider.ValidateAddress(ctx, normalized)
	if err != nil {
		p.logger.DebugContext(ctx, "Mailbox: address validation unavailable",
			slog.String("address", normalized), sloki.WrapError(err))
	} else {
		check.Validation = &validation
	}
	return check, nil
}

// Provision assigns address to the user and makes sure inbound mail for it reaches the webhook.
// Provisioning the address the user already has is a no-op apart from re-checking the route.
func (p *Provisioner) Provision(ctx context.Context, userID, address, displayName string) (*models.User, error) {
	normalized, err := p.normalizeAddress(address)
	if err != nil {
		return nil, err
	}

	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.MailAddress != nil && *user.MailAddress != normalized {
		return nil, ErrAlreadyProvisioned
	}

	owner, err := p.store.GetUserByMailAddress(ctx, normalized)
	switch {
	case err == nil && owner.ID != userID:
		return nil, ErrAddressTaken
	case err != nil && !errors.Is(err, db.ErrUserNotFound):
		return nil, fmt.Errorf("failed to check address: %w", err)
	}

	route, err := p.provider.ProvisionAddress(ctx, normalized)
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		p.logger.WarnContext(ctx, "Mailbox: provider not configured, inbound routing must be set up manually",
			slog.String("address", normalized))
	case err != nil:
		return nil, fmt.Errorf("failed to provision route: %w", err)
	default:
		p.logger.InfoContext(ctx, "Mailbox: route ready",
			slog.String("address", normalized), slog.String("route_id", route.ID), slog.Bool("created", route.Created))
	}

	if displayName == "" {
		displayName = user.DisplayName
	}
	if err := p.store.SetMailAddress(ctx, userID, normalized, displayName); err != nil {
		if errors.Is(err, db.ErrMailAddressTaken) {
			return nil, ErrAddressTaken
		}
		return nil, fmt.Errorf("failed to save address: %w", err)
	}

	user.MailAddress = &normalized
	user.DisplayName = displayName
	return user, nil
}
