package stock

import (
	"context"
	"errors"
	"fmt"

	"atelierstore/internal/models"

	"github.com/jackc/pgx/v5"
)

// ErrUnderflow means a decrement drove stock negative. Validation and
// decrement share one transactional snapshot, so reaching this indicates an
// isolation bug rather than a user error; the enclosing transaction must
// abort.
var ErrUnderflow = errors.New("stock underflow")

const (
	ReasonNotFound          = "not_found"
	ReasonInvalidQuantity   = "invalid_quantity"
	ReasonInsufficientStock = "insufficient_stock"
)

type ItemError struct {
	ProductID string `json:"productId"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
	Reason    string `json:"reason"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("product %s: %s (requested %d, available %d)", e.ProductID, e.Reason, e.Requested, e.Available)
}

// ValidateAvailability checks requested quantities against a pre-fetched
// catalog snapshot. It never touches storage: the caller supplies the same
// snapshot the decrement will run against. Quantities are summed per product
// first, so a cart holding the same product on several lines (one per size)
// is checked against the combined demand.
func ValidateAvailability(items []models.CheckoutItem, catalog map[string]models.Product) []ItemError {
	totals := make(map[string]int64, len(items))
	for _, item := range items {
		if item.Quantity >= 1 {
			totals[item.ProductID] += item.Quantity
		}
	}

	var errs []ItemError
	reported := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			errs = append(errs, ItemError{ProductID: item.ProductID, Requested: item.Quantity, Reason: ReasonInvalidQuantity})
			continue
		}
		if reported[item.ProductID] {
			continue
		}
		reported[item.ProductID] = true

		requested := totals[item.ProductID]
		p, ok := catalog[item.ProductID]
		if !ok {
			errs = append(errs, ItemError{ProductID: item.ProductID, Requested: requested, Reason: ReasonNotFound})
			continue
		}
		if p.Stock < requested {
			errs = append(errs, ItemError{
				ProductID: item.ProductID,
				Requested: requested,
				Available: p.Stock,
				Reason:    ReasonInsufficientStock,
			})
		}
	}
	return errs
}

type Store interface {
	DecrementStock(ctx context.Context, tx pgx.Tx, productID string, qty int64) (int64, error)
}

type Ledger struct {
	Store Store
}

// Decrement applies stock -= quantity per item inside the caller's
// transaction and re-checks the resulting values.
func (l Ledger) Decrement(ctx context.Context, tx pgx.Tx, items []models.CheckoutItem) error {
	for _, item := range items {
		remaining, err := l.Store.DecrementStock(ctx, tx, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
		if remaining < 0 {
			return fmt.Errorf("product %s: %w", item.ProductID, ErrUnderflow)
		}
	}
	return nil
}
