package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"atelierstore/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// WithinTx runs fn inside a single database transaction, rolling back when fn
// returns an error.
func (s *Store) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) (txErr error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if txErr != nil {
			rollbackErr := tx.Rollback(ctx)
			if rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
				txErr = errors.Join(txErr, fmt.Errorf("tx.Rollback: %w", rollbackErr))
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ProductsForUpdate loads the requested catalog rows and locks them for the
// duration of the transaction. Callers must pass ids in sorted order so
// concurrent checkouts acquire row locks in the same sequence.
func (s *Store) ProductsForUpdate(ctx context.Context, tx pgx.Tx, ids []string) (map[string]models.Product, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, price, stock, is_published, is_variant, base_product_id
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.Product, len(ids))
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Price, &p.Stock, &p.IsPublished, &p.IsVariant, &p.BaseProductID); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// BaseProductsPublished reports is_published for the given base product ids.
// Base rows are only read, not mutated, so no lock is taken.
func (s *Store) BaseProductsPublished(ctx context.Context, tx pgx.Tx, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	rows, err := tx.Query(ctx, `SELECT id, is_published FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		var published bool
		if err := rows.Scan(&id, &published); err != nil {
			return nil, err
		}
		out[id] = published
	}
	return out, rows.Err()
}

// DecrementStock applies stock -= qty and returns the resulting stock so the
// caller can double-check it never went negative.
func (s *Store) DecrementStock(ctx context.Context, tx pgx.Tx, productID string, qty int64) (int64, error) {
	var remaining int64
	err := tx.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1
		RETURNING stock
	`, productID, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return remaining, err
}

func (s *Store) CreateTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	orderData, err := json.Marshal(t.OrderData)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (
			reference, user_id, email, amount, currency, status, order_data
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		t.Reference,
		t.UserID,
		t.Email,
		t.Amount,
		t.Currency,
		t.Status,
		orderData,
	)
	return err
}

const transactionColumns = `
	reference, user_id, email, amount, currency, status,
	order_data, gateway_response, order_id, created_at, updated_at
`

func (s *Store) GetTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference=$1`, reference)
	return scanTransaction(row)
}

// GetTransactionForUpdate locks the transaction row inside the settlement
// transaction so concurrent settlers serialize on it.
func (s *Store) GetTransactionForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*models.Transaction, error) {
	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference=$1 FOR UPDATE`, reference)
	return scanTransaction(row)
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var orderData []byte
	var gatewayResponse []byte
	err := row.Scan(
		&t.Reference,
		&t.UserID,
		&t.Email,
		&t.Amount,
		&t.Currency,
		&t.Status,
		&orderData,
		&gatewayResponse,
		&t.OrderID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(orderData, &t.OrderData); err != nil {
		return nil, fmt.Errorf("decode order_data: %w", err)
	}
	t.GatewayResponse = gatewayResponse
	return &t, nil
}

// FailTransaction moves a pending transaction to the given terminal status.
// Returns the number of rows moved; 0 means the transaction was already
// terminal and nothing changed.
func (s *Store) FailTransaction(ctx context.Context, reference string, status models.TransactionStatus, gatewayResponse []byte) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE transactions
		SET status=$2, gateway_response=COALESCE($3, gateway_response), updated_at=now()
		WHERE reference=$1 AND status='pending'
	`, reference, status, gatewayResponse)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// SettleTransaction is the settlement commit point: it succeeds only if the
// transaction is still pending with no order attached. Rows-affected 0 means
// a concurrent settler already won.
func (s *Store) SettleTransaction(ctx context.Context, tx pgx.Tx, reference string, orderID uuid.UUID, gatewayResponse []byte) (int64, error) {
	res, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status='success', order_id=$2, gateway_response=COALESCE($3, gateway_response), updated_at=now()
		WHERE reference=$1 AND status='pending' AND order_id IS NULL
	`, reference, orderID, gatewayResponse)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time) ([]*models.Transaction, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status='pending' AND created_at < $1
		ORDER BY created_at
	`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateOrder(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(o.ShippingInfo)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, user_id, items, total_price, shipping_info,
			status, payment_reference, payment_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		o.ID,
		o.UserID,
		items,
		o.TotalPrice,
		shipping,
		o.Status,
		o.PaymentReference,
		o.PaymentStatus,
	)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, items, total_price, shipping_info,
			status, payment_reference, payment_status, created_at, updated_at
		FROM orders WHERE id=$1
	`, id)

	var o models.Order
	var items []byte
	var shipping []byte
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&items,
		&o.TotalPrice,
		&shipping,
		&o.Status,
		&o.PaymentReference,
		&o.PaymentStatus,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.ShippingInfo); err != nil {
		return nil, fmt.Errorf("decode shipping_info: %w", err)
	}
	return &o, nil
}
