// Package dedup guards message creation against duplicate provider deliveries and
// hands out collision-checked local message ids.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vdavid/vrelay/internal/db"
	"github.com/vdavid/vrelay/internal/models"
)

const maxIDAttempts = 5

// ErrIDExhausted is returned when every generated id collided with an existing message.
var ErrIDExhausted = errors.New("could not generate an unused message id")

// Guard decides whether a delivery is new. The atomic part of the decision is the
// store's uniqueness constraint on (owner, provider message id).
type Guard struct {
	store db.Store
	newID func() string
}

func NewGuard(store db.Store) *Guard {
	return &Guard{store: store, newID: uuid.NewString}
}

// Claim persists msg unless its owner already holds a message with the same provider id.
// It assigns a local id when msg has none. created is false for a duplicate.
func (g *Guard) Claim(ctx context.Context, msg *models.Message) (bool, error) {
	if msg.UserID == "" {
		return false, fmt.Errorf("cannot claim a message without an owner")
	}
	if msg.ID == "" {
		id, err := g.NewLocalID(ctx)
		if err != nil {
			return false, err
		}
		msg.ID = id
	}

	created, err := g.store.InsertMessage(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("failed to claim message: %w", err)
	}
	return created, nil
}

// AlreadyDelivered reports whether the owner already has a message with this provider id.
func (g *Guard) AlreadyDelivered(ctx context.Context, ownerID, providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	exists, err := g.store.ProviderMessageExists(ctx, ownerID, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing delivery: %w", err)
	}
	return exists, nil
}

// NewLocalID returns a fresh message id that no stored message uses yet.
func (g *Guard) NewLocalID(ctx context.Context) (string, error) {
	for range maxIDAttempts {
		id := g.newID()
		exists, err := g.store.MessageExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check message id: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}
