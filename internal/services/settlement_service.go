package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"atelierstore/internal/models"
	"atelierstore/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownReference = errors.New("unknown transaction reference")

	errAlreadySettled = errors.New("transaction already settled")
)

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

type SettlementStore interface {
	WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetTransaction(ctx context.Context, reference string) (*models.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*models.Transaction, error)
	SettleTransaction(ctx context.Context, tx pgx.Tx, reference string, orderID uuid.UUID, gatewayResponse []byte) (int64, error)
	FailTransaction(ctx context.Context, reference string, status models.TransactionStatus, gatewayResponse []byte) (int64, error)
	CreateOrder(ctx context.Context, tx pgx.Tx, o *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// Notifier delivers best-effort post-settlement notifications. Failures are
// logged, never rolled back against.
type Notifier interface {
	OrderConfirmed(ctx context.Context, order *models.Order, email string) error
}

// SettlementState is what the poll endpoint returns: the transaction as it
// stands, plus the order once one exists.
type SettlementState struct {
	Transaction *models.Transaction
	Order       *models.Order
}

type SettlementService struct {
	Store    SettlementStore
	Gateway  PaymentGateway
	Notifier Notifier
	Logger   *zap.Logger
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
	} `json:"data"`
}

// HandleNotification processes one webhook delivery. Only a bad signature is
// returned as an error; every authenticated delivery is acknowledged so the
// gateway does not retry outcomes it cannot change.
func (s *SettlementService) HandleNotification(ctx context.Context, signature string, rawBody []byte) error {
	if !s.Gateway.VerifySignature(signature, rawBody) {
		return ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		s.Logger.Warn("webhook payload is not valid json", zap.Error(err))
		return nil
	}

	switch event.Event {
	case EventChargeSuccess:
		s.settleFromNotification(ctx, event.Data.Reference, event.Data.Amount, rawBody)
	case EventChargeFailed:
		s.failFromNotification(ctx, event.Data.Reference, rawBody)
	default:
		s.Logger.Debug("ignoring webhook event", zap.String("event", event.Event))
	}
	return nil
}

func (s *SettlementService) settleFromNotification(ctx context.Context, reference string, notifiedAmount int64, rawBody []byte) {
	txn, err := s.Store.GetTransaction(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		s.Logger.Warn("webhook for unknown reference", zap.String("reference", reference))
		return
	}
	if err != nil {
		s.Logger.Error("load transaction failed", zap.String("reference", reference), zap.Error(err))
		return
	}
	if txn.Status.IsTerminal() {
		s.Logger.Info("duplicate webhook for settled transaction",
			zap.String("reference", reference),
			zap.String("status", string(txn.Status)))
		return
	}

	if notifiedAmount != txn.Amount {
		s.Logger.Warn("webhook amount mismatch",
			zap.String("reference", reference),
			zap.Int64("notified", notifiedAmount),
			zap.Int64("expected", txn.Amount))
		s.markFailed(ctx, reference, rawBody)
		return
	}

	// Second, authoritative confirmation; a forged or stale push must not
	// settle anything on its own.
	verify, err := s.Gateway.Verify(ctx, reference)
	if err != nil {
		s.Logger.Error("gateway verify failed, transaction stays pending",
			zap.String("reference", reference), zap.Error(err))
		return
	}
	if !verify.Success || verify.Amount != txn.Amount {
		s.Logger.Warn("gateway verify disagrees with webhook",
			zap.String("reference", reference),
			zap.String("remote_status", verify.RemoteStatus),
			zap.Int64("remote_amount", verify.Amount))
		s.markFailed(ctx, reference, verify.Raw)
		return
	}

	if _, err := s.finalize(ctx, txn, verify.Raw); err != nil {
		s.Logger.Error("finalize failed", zap.String("reference", reference), zap.Error(err))
	}
}

func (s *SettlementService) failFromNotification(ctx context.Context, reference string, rawBody []byte) {
	if reference == "" {
		return
	}
	s.markFailed(ctx, reference, rawBody)
}

// VerifyAndSettleForUser scopes the poll path to the transaction's owner
// before any gateway call or state change happens. A reference belonging to
// someone else is indistinguishable from one that does not exist.
func (s *SettlementService) VerifyAndSettleForUser(ctx context.Context, userID, reference string) (*SettlementState, error) {
	txn, err := s.Store.GetTransaction(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownReference
	}
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, ErrUnknownReference
	}
	return s.VerifyAndSettle(ctx, reference)
}

// VerifyAndSettle is the client poll path. Terminal transactions are returned
// unchanged; pending ones are checked against the gateway and finalized or
// failed by the same routine the webhook uses.
func (s *SettlementService) VerifyAndSettle(ctx context.Context, reference string) (*SettlementState, error) {
	txn, err := s.Store.GetTransaction(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownReference
	}
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return s.currentState(ctx, txn)
	}

	verify, err := s.Gateway.Verify(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	switch {
	case verify.Success && verify.Amount == txn.Amount:
		return s.finalize(ctx, txn, verify.Raw)
	case verify.Success:
		s.Logger.Warn("verify amount mismatch",
			zap.String("reference", reference),
			zap.Int64("remote_amount", verify.Amount),
			zap.Int64("expected", txn.Amount))
		s.markFailed(ctx, reference, verify.Raw)
	case verify.RemoteStatus == "failed":
		s.markFailed(ctx, reference, verify.Raw)
	default:
		// not yet paid (pending/abandoned on the gateway side); leave the
		// transaction open for a later poll or the reconciler
	}

	txn, err = s.Store.GetTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.currentState(ctx, txn)
}

// Abandon moves an aged pending transaction to abandoned. Used by the
// reconciler only, after the gateway itself reported the intent abandoned.
func (s *SettlementService) Abandon(ctx context.Context, reference string, gatewayResponse []byte) error {
	moved, err := s.Store.FailTransaction(ctx, reference, models.TransactionAbandoned, gatewayResponse)
	if err != nil {
		return err
	}
	if moved > 0 {
		s.Logger.Info("transaction abandoned", zap.String("reference", reference))
	}
	return nil
}

// finalize turns a confirmed transaction into exactly one order. Safe to call
// concurrently and repeatedly: the conditional settle update is the commit
// point, and a loser of the race rolls back its order insert and returns the
// already-settled state.
func (s *SettlementService) finalize(ctx context.Context, txn *models.Transaction, gatewayResponse []byte) (*SettlementState, error) {
	if txn.Status.IsTerminal() || txn.OrderID != nil {
		return s.currentState(ctx, txn)
	}

	order := &models.Order{
		ID:               uuid.New(),
		UserID:           txn.UserID,
		Items:            txn.OrderData.Items,
		TotalPrice:       txn.OrderData.TotalPrice,
		ShippingInfo:     txn.OrderData.ShippingInfo,
		Status:           models.OrderAccepted,
		PaymentReference: txn.Reference,
		PaymentStatus:    models.PaymentPaid,
	}

	err := s.Store.WithinTx(ctx, func(tx pgx.Tx) error {
		locked, err := s.Store.GetTransactionForUpdate(ctx, tx, txn.Reference)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() || locked.OrderID != nil {
			return errAlreadySettled
		}
		if err := s.Store.CreateOrder(ctx, tx, order); err != nil {
			return err
		}
		moved, err := s.Store.SettleTransaction(ctx, tx, txn.Reference, order.ID, gatewayResponse)
		if err != nil {
			return err
		}
		if moved == 0 {
			return errAlreadySettled
		}
		return nil
	})
	if errors.Is(err, errAlreadySettled) {
		settled, loadErr := s.Store.GetTransaction(ctx, txn.Reference)
		if loadErr != nil {
			return nil, loadErr
		}
		return s.currentState(ctx, settled)
	}
	if err != nil {
		return nil, err
	}

	s.Logger.Info("transaction settled",
		zap.String("reference", txn.Reference),
		zap.String("order_id", order.ID.String()),
		zap.Int64("amount", txn.Amount))

	s.dispatchNotification(order, txn.Email)

	settled, err := s.Store.GetTransaction(ctx, txn.Reference)
	if err != nil {
		return nil, err
	}
	return &SettlementState{Transaction: settled, Order: order}, nil
}

func (s *SettlementService) markFailed(ctx context.Context, reference string, gatewayResponse []byte) {
	moved, err := s.Store.FailTransaction(ctx, reference, models.TransactionFailed, gatewayResponse)
	if err != nil {
		s.Logger.Error("mark failed errored", zap.String("reference", reference), zap.Error(err))
		return
	}
	if moved > 0 {
		s.Logger.Info("transaction failed", zap.String("reference", reference))
	}
}

func (s *SettlementService) currentState(ctx context.Context, txn *models.Transaction) (*SettlementState, error) {
	state := &SettlementState{Transaction: txn}
	if txn.OrderID != nil {
		order, err := s.Store.GetOrder(ctx, *txn.OrderID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		state.Order = order
	}
	return state, nil
}

func (s *SettlementService) dispatchNotification(order *models.Order, email string) {
	if s.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Notifier.OrderConfirmed(ctx, order, email); err != nil {
			s.Logger.Warn("order notification failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err))
		}
	}()
}
