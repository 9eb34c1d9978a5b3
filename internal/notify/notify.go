package notify

import (
	"context"

	"atelierstore/internal/models"

	"go.uber.org/zap"
)

// LogNotifier records confirmations in the log. The storefront's real mail
// delivery lives outside this service; this adapter is the seam it plugs
// into.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) OrderConfirmed(ctx context.Context, order *models.Order, email string) error {
	n.Logger.Info("order confirmation queued",
		zap.String("order_id", order.ID.String()),
		zap.String("email", email),
		zap.Int64("total_price", order.TotalPrice))
	return nil
}
