package domain

import (
	"time"
)

// OrderStatus enumerates the production Kanban columns an order moves
// through.
type OrderStatus string

const (
	// OrderStatusPendingPayment awaits the client's payment proof.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusConfirmed has payment proof attached.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusInProduction is being printed and assembled.
	OrderStatusInProduction OrderStatus = "in_production"
	// OrderStatusPartialReady has part of the units ready for delivery.
	OrderStatusPartialReady OrderStatus = "partial_ready"
	// OrderStatusCompleted is fully delivered.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled was called off.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentMethod enumerates how clients settle orders.
type PaymentMethod string

const (
	// PaymentTransfer is a bank transfer.
	PaymentTransfer PaymentMethod = "transfer"
	// PaymentNequi is a Nequi wallet payment.
	PaymentNequi PaymentMethod = "nequi"
	// PaymentCash is a cash payment.
	PaymentCash PaymentMethod = "cash"
	// PaymentOther covers any other agreed method.
	PaymentOther PaymentMethod = "other"
)

// OrderPayment tracks the manual payment flow: the client uploads a proof
// and staff verify it.
type OrderPayment struct {
	Method     PaymentMethod
	ProofURL   string
	UploadedAt *time.Time
	VerifiedBy string
	VerifiedAt *time.Time
	Notes      string
}

// DeliveryType enumerates whole-order delivery modes.
type DeliveryType string

const (
	// DeliveryTypePartial splits the order into scheduled windows.
	DeliveryTypePartial DeliveryType = "partial"
	// DeliveryTypeTotal delivers everything at once.
	DeliveryTypeTotal DeliveryType = "total"
)

// DeliveryWindow is one scheduled partial delivery.
type DeliveryWindow struct {
	Quantity      int
	ScheduledDate time.Time
	Delivered     bool
	DeliveredAt   *time.Time
	Tracking      string
}

// OrderDelivery holds the delivery mode and, for partial deliveries, the
// agreed schedule.
type OrderDelivery struct {
	Type     DeliveryType
	Schedule []DeliveryWindow
}

// Order is a confirmed quotation in production. Items and amounts are
// copied verbatim from the approved quotation.
type Order struct {
	ID           string
	OrderNumber  string
	QuotationID  string
	ClientID     string
	CommercialID string
	Status       OrderStatus
	Items        []QuotationItem
	Subtotal     int64
	IVAAmount    int64
	Total        int64
	Payment      OrderPayment
	Delivery     OrderDelivery
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}
