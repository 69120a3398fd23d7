// Package mailbox owns per-user mailbox state: resolving recipients, provisioning
// addresses, delivering inbound mail and the folder/flag/label state machine.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vdavid/vrelay/internal/db"
)

// ErrMailboxNotFound means no user owns the address. It is terminal for inbound delivery.
var ErrMailboxNotFound = errors.New("no mailbox for address")

// Resolver maps a recipient address to the owning user.
type Resolver struct {
	store db.Store
}

func NewResolver(store db.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the owner's user id.
func (r *Resolver) Resolve(ctx context.Context, address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return "", ErrMailboxNotFound
	}

	user, err := r.store.GetUserByMailAddress(ctx, address)
	if errors.Is(err, db.ErrUserNotFound) {
		return "", ErrMailboxNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve mailbox: %w", err)
	}
	return user.ID, nil
}
