package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"atelierstore/internal/models"
	"atelierstore/internal/services"
	"atelierstore/internal/stock"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	Checkout   *services.CheckoutService
	Settlement *services.SettlementService
	Logger     *zap.Logger
}

func NewHandler(checkout *services.CheckoutService, settlement *services.SettlementService, logger *zap.Logger) *Handler {
	return &Handler{Checkout: checkout, Settlement: settlement, Logger: logger}
}

type checkoutRequest struct {
	Items        []models.CheckoutItem `json:"items"`
	ShippingInfo models.ShippingInfo   `json:"shippingInfo"`
}

type checkoutResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	Reference        string `json:"reference"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

func (h *Handler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	userID := r.Header.Get("X-User-Id")
	email := r.Header.Get("X-User-Email")

	result, err := h.Checkout.Initiate(r.Context(), userID, email, req.Items, req.ShippingInfo)
	if err != nil {
		var availErr *services.AvailabilityError
		switch {
		case errors.Is(err, services.ErrMissingUser):
			writeError(w, http.StatusUnauthorized, "missing session user")
		case errors.Is(err, services.ErrEmptyCart):
			writeError(w, http.StatusBadRequest, "cart is empty")
		case errors.As(err, &availErr):
			writeItemErrors(w, availErr.Items)
		case errors.Is(err, services.ErrGatewayFailure):
			writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			h.Logger.Error("checkout failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "checkout failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		AuthorizationURL: result.AuthorizationURL,
		Reference:        result.Reference,
		Amount:           result.Amount,
		Currency:         result.Currency,
	})
}

// Webhook reads the raw body itself so the signature is computed over the
// exact bytes the gateway signed; no JSON decoding happens before the check.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	signature := r.Header.Get("X-Signature")
	if err := h.Settlement.HandleNotification(r.Context(), signature, body); err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			h.Logger.Warn("webhook signature rejected", zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		h.Logger.Error("webhook handling failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "webhook failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type transactionResponse struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type orderResponse struct {
	ID            string             `json:"id"`
	Items         []models.OrderItem `json:"items"`
	TotalPrice    int64              `json:"totalPrice"`
	Status        string             `json:"status"`
	PaymentStatus string             `json:"paymentStatus"`
}

type verifyResponse struct {
	Transaction transactionResponse `json:"transaction"`
	Order       *orderResponse      `json:"order,omitempty"`
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		writeError(w, http.StatusBadRequest, "missing reference")
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing session user")
		return
	}

	state, err := h.Settlement.VerifyAndSettleForUser(r.Context(), userID, reference)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownReference):
			writeError(w, http.StatusNotFound, "transaction not found")
		case errors.Is(err, services.ErrGatewayFailure):
			writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			h.Logger.Error("verify failed", zap.String("reference", reference), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "verify failed")
		}
		return
	}

	resp := verifyResponse{
		Transaction: transactionResponse{
			Reference: state.Transaction.Reference,
			Amount:    state.Transaction.Amount,
			Currency:  state.Transaction.Currency,
			Status:    string(state.Transaction.Status),
			CreatedAt: state.Transaction.CreatedAt.Format(time.RFC3339),
		},
	}
	if state.Order != nil {
		resp.Order = &orderResponse{
			ID:            state.Order.ID.String(),
			Items:         state.Order.Items,
			TotalPrice:    state.Order.TotalPrice,
			Status:        string(state.Order.Status),
			PaymentStatus: string(state.Order.PaymentStatus),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeItemErrors(w http.ResponseWriter, items []stock.ItemError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": "some items are unavailable",
		"items": items,
	})
}
