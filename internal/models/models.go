package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionSuccess   TransactionStatus = "success"
	TransactionFailed    TransactionStatus = "failed"
	TransactionAbandoned TransactionStatus = "abandoned"
)

// IsTerminal reports whether the status can no longer change.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionSuccess || s == TransactionFailed || s == TransactionAbandoned
}

type OrderStatus string

const (
	OrderAccepted   OrderStatus = "accepted"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderArrived    OrderStatus = "arrived"
)

type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentPending  PaymentStatus = "pending"
)

// Product is owned by the catalog; this service only reads it for pricing
// and availability, and decrements stock.
type Product struct {
	ID            string
	Price         decimal.Decimal
	Stock         int64
	IsPublished   bool
	IsVariant     bool
	BaseProductID *string
}

type ShippingInfo struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone"`
}

// CheckoutItem is what the client submits; price is never taken from it.
type CheckoutItem struct {
	ProductID  string `json:"productId"`
	Quantity   int64  `json:"quantity"`
	Size       string `json:"size"`
	CustomSize string `json:"customSize,omitempty"`
}

type OrderItem struct {
	ProductID  string `json:"productId"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  int64  `json:"unitPrice"`
	Size       string `json:"size"`
	CustomSize string `json:"customSize,omitempty"`
}

// OrderSnapshot is captured at checkout time and is the only source the
// eventual order is built from; later catalog changes never affect it.
type OrderSnapshot struct {
	Items        []OrderItem  `json:"items"`
	ShippingInfo ShippingInfo `json:"shippingInfo"`
	TotalPrice   int64        `json:"totalPrice"`
	Fees         int64        `json:"fees"`
}

// Transaction is one payment attempt. Rows are never deleted.
type Transaction struct {
	Reference       string
	UserID          string
	Email           string
	Amount          int64
	Currency        string
	Status          TransactionStatus
	OrderData       OrderSnapshot
	GatewayResponse json.RawMessage
	OrderID         *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Order is created only by settlement, never by checkout directly.
type Order struct {
	ID               uuid.UUID
	UserID           string
	Items            []OrderItem
	TotalPrice       int64
	ShippingInfo     ShippingInfo
	Status           OrderStatus
	PaymentReference string
	PaymentStatus    PaymentStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
