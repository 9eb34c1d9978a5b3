package reconciler

import (
	"context"
	"time"

	"atelierstore/internal/models"
	"atelierstore/internal/services"

	"go.uber.org/zap"
)

type PendingLister interface {
	ListStalePending(ctx context.Context, olderThan time.Time) ([]*models.Transaction, error)
}

type Settler interface {
	VerifyAndSettle(ctx context.Context, reference string) (*services.SettlementState, error)
	Abandon(ctx context.Context, reference string, gatewayResponse []byte) error
}

// Reconciler sweeps pending transactions the webhook never resolved: gateway
// outages during checkout, lost webhook deliveries, customers who walked
// away. It reuses the poll path's settle routine so there is exactly one
// settlement code path.
type Reconciler struct {
	Store        PendingLister
	Settlement   Settler
	Gateway      services.PaymentGateway
	Interval     time.Duration
	MinAge       time.Duration
	AbandonAfter time.Duration
	Logger       *zap.Logger
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		if err := r.SweepOnce(ctx); err != nil {
			r.Logger.Error("reconcile sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) SweepOnce(ctx context.Context) error {
	now := time.Now().UTC()
	pending, err := r.Store.ListStalePending(ctx, now.Add(-r.MinAge))
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	r.Logger.Info("reconciling pending transactions", zap.Int("count", len(pending)))

	for _, txn := range pending {
		state, err := r.Settlement.VerifyAndSettle(ctx, txn.Reference)
		if err != nil {
			r.Logger.Warn("reconcile verify failed",
				zap.String("reference", txn.Reference),
				zap.Error(err))
			continue
		}
		if state.Transaction.Status != models.TransactionPending {
			continue
		}
		if now.Sub(txn.CreatedAt) < r.AbandonAfter {
			continue
		}
		r.abandonIfConfirmed(ctx, txn.Reference)
	}
	return nil
}

// abandonIfConfirmed re-reads the gateway and abandons only when the gateway
// itself reports the intent abandoned; a merely unreachable gateway leaves
// the transaction pending.
func (r *Reconciler) abandonIfConfirmed(ctx context.Context, reference string) {
	verify, err := r.Gateway.Verify(ctx, reference)
	if err != nil {
		r.Logger.Warn("abandon check failed", zap.String("reference", reference), zap.Error(err))
		return
	}
	if verify.Success || verify.RemoteStatus != "abandoned" {
		return
	}
	if err := r.Settlement.Abandon(ctx, reference, verify.Raw); err != nil {
		r.Logger.Error("abandon failed", zap.String("reference", reference), zap.Error(err))
	}
}
