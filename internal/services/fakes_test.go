package services_test

import (
	"context"
	"sync"
	"time"

	"atelierstore/internal/gateway"
	"atelierstore/internal/models"
	"atelierstore/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// fakeStore is an in-memory stand-in for the pgx store. WithinTx snapshots
// state before running fn and restores it on error, mirroring a rollback.
type fakeStore struct {
	mu           sync.Mutex
	products     map[string]models.Product
	transactions map[string]models.Transaction
	orders       map[uuid.UUID]models.Order
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:     map[string]models.Product{},
		transactions: map[string]models.Transaction{},
		orders:       map[uuid.UUID]models.Order{},
	}
}

func (f *fakeStore) snapshot() (map[string]models.Product, map[string]models.Transaction, map[uuid.UUID]models.Order) {
	p := make(map[string]models.Product, len(f.products))
	for k, v := range f.products {
		p[k] = v
	}
	t := make(map[string]models.Transaction, len(f.transactions))
	for k, v := range f.transactions {
		t[k] = v
	}
	o := make(map[uuid.UUID]models.Order, len(f.orders))
	for k, v := range f.orders {
		o[k] = v
	}
	return p, t, o
}

func (f *fakeStore) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	f.mu.Lock()
	p, t, o := f.snapshot()
	f.mu.Unlock()

	if err := fn(nil); err != nil {
		f.mu.Lock()
		f.products, f.transactions, f.orders = p, t, o
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) ProductsForUpdate(ctx context.Context, tx pgx.Tx, ids []string) (map[string]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeStore) BaseProductsPublished(ctx context.Context, tx pgx.Tx, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p.IsPublished
		}
	}
	return out, nil
}

func (f *fakeStore) DecrementStock(ctx context.Context, tx pgx.Tx, productID string, qty int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	p.Stock -= qty
	f.products[productID] = p
	return p.Stock, nil
}

func (f *fakeStore) CreateTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	f.transactions[t.Reference] = *t
	return nil
}

func (f *fakeStore) GetTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[reference]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (f *fakeStore) GetTransactionForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*models.Transaction, error) {
	return f.GetTransaction(ctx, reference)
}

func (f *fakeStore) SettleTransaction(ctx context.Context, tx pgx.Tx, reference string, orderID uuid.UUID, gatewayResponse []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[reference]
	if !ok || t.Status != models.TransactionPending || t.OrderID != nil {
		return 0, nil
	}
	t.Status = models.TransactionSuccess
	t.OrderID = &orderID
	if gatewayResponse != nil {
		t.GatewayResponse = gatewayResponse
	}
	t.UpdatedAt = time.Now().UTC()
	f.transactions[reference] = t
	return 1, nil
}

func (f *fakeStore) FailTransaction(ctx context.Context, reference string, status models.TransactionStatus, gatewayResponse []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[reference]
	if !ok || t.Status != models.TransactionPending {
		return 0, nil
	}
	t.Status = status
	if gatewayResponse != nil {
		t.GatewayResponse = gatewayResponse
	}
	t.UpdatedAt = time.Now().UTC()
	f.transactions[reference] = t
	return 1, nil
}

func (f *fakeStore) CreateOrder(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	f.orders[o.ID] = *o
	return nil
}

func (f *fakeStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (f *fakeStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type initCall struct {
	email     string
	amount    int64
	reference string
	currency  string
}

type fakeGateway struct {
	mu sync.Mutex

	intent  *gateway.Intent
	initErr error

	verifyResult *gateway.VerifyResult
	verifyErr    error

	validSignature string

	initCalls   []initCall
	verifyCalls []string
}

func (g *fakeGateway) Initialize(ctx context.Context, email string, amount int64, reference, currency string, metadata map[string]string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls = append(g.initCalls, initCall{email: email, amount: amount, reference: reference, currency: currency})
	if g.initErr != nil {
		return nil, g.initErr
	}
	if g.intent != nil {
		return g.intent, nil
	}
	return &gateway.Intent{AuthorizationURL: "https://pay.example/" + reference, AccessCode: "ac", Reference: reference}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls = append(g.verifyCalls, reference)
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.verifyResult, nil
}

func (g *fakeGateway) VerifySignature(signature string, rawBody []byte) bool {
	return g.validSignature != "" && signature == g.validSignature
}
