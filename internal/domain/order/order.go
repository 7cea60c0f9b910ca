package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how the customer pays for an order.
type PaymentMethod string

const (
	// PaymentCard is a domestic debit or credit card.
	PaymentCard PaymentMethod = "card"
	// PaymentInternational is an internationally issued card.
	PaymentInternational PaymentMethod = "international"
	// PaymentCOD is cash on delivery.
	PaymentCOD PaymentMethod = "cod"
)

// Valid reports whether m is one of the accepted payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentInternational, PaymentCOD:
		return true
	}
	return false
}

// Order is a placed purchase. Items, address, payment method and summary are
// an immutable snapshot taken at creation; only the status fields change
// afterwards.
type Order struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	Items             []Item          `json:"items"`
	ShippingAddress   ShippingAddress `json:"shippingAddress"`
	PaymentMethod     PaymentMethod   `json:"paymentMethod"`
	Summary           Summary         `json:"orderSummary"`
	Status            Status          `json:"status"`
	TrackingID        string          `json:"trackingId,omitempty"`
	OrderDate         time.Time       `json:"orderDate"`
	EstimatedDelivery time.Time       `json:"estimatedDelivery"`
	DeliveredAt       *time.Time      `json:"deliveredAt,omitempty"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Item is a line of an order, copied from the cart at checkout.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// ShippingAddress is where an order is delivered.
type ShippingAddress struct {
	Name    string `json:"name"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// Summary is the priced total of an order.
type Summary struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}

// StatusPatch carries the fields written together with a status change.
type StatusPatch struct {
	TrackingID  string
	DeliveredAt *time.Time
	UpdatedAt   time.Time
}

// Creator persists new orders.
type Creator interface {
	Create(ctx context.Context, order *Order) error
}

// Repository defines persistence operations for orders. Orders are never
// deleted.
type Repository interface {
	Creator
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (*Order, error)
	// ListByUser returns the orders of userID, most recent first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// UpdateStatus moves order id from status from to status to. It returns
	// ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status, patch StatusPatch) error
}
