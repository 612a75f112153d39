package repository

import (
	"context"

	"premium-access/internal/domain/model"
)

// CodeRepository is the port for the premium code collection.
type CodeRepository interface {
	// Save creates or replaces a code, including its redemption lists.
	Save(ctx context.Context, tx Tx, code *model.PremiumCode) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PremiumCode, error)
	// FindActiveByCode returns the most recently issued enabled code with the given string.
	FindActiveByCode(ctx context.Context, tx Tx, code string) (*model.PremiumCode, error)
	// FindByIDs loads codes for update; missing ids are skipped.
	FindByIDs(ctx context.Context, tx Tx, ids []string) ([]*model.PremiumCode, error)
	// FindByRedeemer returns every code whose RedeemedBy contains userID, ordered
	// by id like FindByIDs so row locks are always taken in the same order.
	FindByRedeemer(ctx context.Context, tx Tx, userID string) ([]*model.PremiumCode, error)
	// ListAll returns every code ordered by IssuedAt descending.
	ListAll(ctx context.Context, tx Tx) ([]*model.PremiumCode, error)
	DeleteByIDs(ctx context.Context, tx Tx, ids []string) (int, error)
}
