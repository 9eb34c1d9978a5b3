package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"atelierstore/internal/gateway"
	"atelierstore/internal/models"
	"atelierstore/internal/stock"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrMissingUser    = errors.New("missing user id or email")
	ErrEmptyCart      = errors.New("cart is empty")
	ErrGatewayFailure = errors.New("payment gateway call failed")
)

// AvailabilityError carries the per-item reasons a cart was rejected.
type AvailabilityError struct {
	Items []stock.ItemError
}

func (e *AvailabilityError) Error() string {
	reasons := lo.Map(e.Items, func(it stock.ItemError, _ int) string { return it.Error() })
	return "cart validation failed: " + strings.Join(reasons, "; ")
}

type CheckoutStore interface {
	WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ProductsForUpdate(ctx context.Context, tx pgx.Tx, ids []string) (map[string]models.Product, error)
	BaseProductsPublished(ctx context.Context, tx pgx.Tx, ids []string) (map[string]bool, error)
	CreateTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
}

type StockLedger interface {
	Decrement(ctx context.Context, tx pgx.Tx, items []models.CheckoutItem) error
}

type PaymentGateway interface {
	Initialize(ctx context.Context, email string, amount int64, reference, currency string, metadata map[string]string) (*gateway.Intent, error)
	Verify(ctx context.Context, reference string) (*gateway.VerifyResult, error)
	VerifySignature(signature string, rawBody []byte) bool
}

type CheckoutResult struct {
	AuthorizationURL string
	Reference        string
	Amount           int64
	Currency         string
}

type CheckoutService struct {
	Store       CheckoutStore
	Ledger      StockLedger
	Gateway     PaymentGateway
	Currency    string
	ShippingFee int64
	Logger      *zap.Logger
}

// Initiate validates the cart, prices it from the catalog, reserves stock and
// creates the pending transaction in one database transaction, then asks the
// gateway for a redirect URL. A gateway failure after the commit leaves the
// transaction pending with stock reserved; the reconciler resolves it later.
func (s *CheckoutService) Initiate(ctx context.Context, userID, email string, items []models.CheckoutItem, shipping models.ShippingInfo) (*CheckoutResult, error) {
	if userID == "" || email == "" {
		return nil, ErrMissingUser
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	reference := newReference(userID)

	var txn *models.Transaction
	err := s.Store.WithinTx(ctx, func(tx pgx.Tx) error {
		catalog, err := s.loadEligibleCatalog(ctx, tx, items)
		if err != nil {
			return err
		}

		orderItems, itemTotal, err := priceItems(items, catalog)
		if err != nil {
			return err
		}

		if errs := stock.ValidateAvailability(items, catalog); len(errs) > 0 {
			return &AvailabilityError{Items: errs}
		}
		if err := s.Ledger.Decrement(ctx, tx, items); err != nil {
			return err
		}

		total := itemTotal + s.ShippingFee
		txn = &models.Transaction{
			Reference: reference,
			UserID:    userID,
			Email:     email,
			Amount:    total,
			Currency:  s.Currency,
			Status:    models.TransactionPending,
			OrderData: models.OrderSnapshot{
				Items:        orderItems,
				ShippingInfo: shipping,
				TotalPrice:   total,
				Fees:         s.ShippingFee,
			},
		}
		return s.Store.CreateTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}

	intent, err := s.Gateway.Initialize(ctx, email, txn.Amount, reference, s.Currency, map[string]string{"user_id": userID})
	if err != nil {
		s.Logger.Warn("gateway initialize failed, transaction left pending",
			zap.String("reference", reference),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	s.Logger.Info("checkout initiated",
		zap.String("reference", reference),
		zap.String("user_id", userID),
		zap.Int64("amount", txn.Amount))

	return &CheckoutResult{
		AuthorizationURL: intent.AuthorizationURL,
		Reference:        reference,
		Amount:           txn.Amount,
		Currency:         s.Currency,
	}, nil
}

// loadEligibleCatalog locks the requested rows and keeps only products a
// customer may buy: published base products, and variants whose base product
// is published (the variant itself may be unpublished).
func (s *CheckoutService) loadEligibleCatalog(ctx context.Context, tx pgx.Tx, items []models.CheckoutItem) (map[string]models.Product, error) {
	ids := lo.Uniq(lo.Map(items, func(it models.CheckoutItem, _ int) string { return it.ProductID }))
	sort.Strings(ids) // stable lock order across concurrent checkouts

	catalog, err := s.Store.ProductsForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	var baseIDs []string
	for _, p := range catalog {
		if p.IsVariant && p.BaseProductID != nil {
			baseIDs = append(baseIDs, *p.BaseProductID)
		}
	}
	basePublished, err := s.Store.BaseProductsPublished(ctx, tx, lo.Uniq(baseIDs))
	if err != nil {
		return nil, err
	}

	eligible := make(map[string]models.Product, len(catalog))
	for id, p := range catalog {
		switch {
		case p.IsVariant:
			if p.BaseProductID != nil && basePublished[*p.BaseProductID] {
				eligible[id] = p
			}
		case p.IsPublished:
			eligible[id] = p
		}
	}
	return eligible, nil
}

// priceItems computes unit prices from catalog rows; whatever the client
// submitted is ignored.
func priceItems(items []models.CheckoutItem, catalog map[string]models.Product) ([]models.OrderItem, int64, error) {
	orderItems := make([]models.OrderItem, 0, len(items))
	var total int64
	for _, item := range items {
		p, ok := catalog[item.ProductID]
		if !ok {
			// validation reports these; skip so pricing stays total-safe
			continue
		}
		unitPrice := toMinorUnits(p.Price)
		if unitPrice < 0 {
			return nil, 0, fmt.Errorf("product %s has negative price", item.ProductID)
		}
		orderItems = append(orderItems, models.OrderItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  unitPrice,
			Size:       item.Size,
			CustomSize: item.CustomSize,
		})
		total += unitPrice * item.Quantity
	}
	return orderItems, total, nil
}

func toMinorUnits(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}

// newReference builds a collision-resistant reference: creation time, owning
// user, random suffix.
func newReference(userID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s-%s", time.Now().Unix(), userID, suffix)
}
