package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind distinguishes unpaid rehearsal orders from paid staged orders
type OrderKind string

const (
	OrderKindRehearsal OrderKind = "rehearsal"
	OrderKindStaged    OrderKind = "staged"
)

// Valid reports whether k is one of the known order kinds
func (k OrderKind) Valid() bool {
	return k == OrderKindRehearsal || k == OrderKindStaged
}

// OrderItem is one line of a pushed order
type OrderItem struct {
	ProductID string          `json:"productId"`
	ShopName  string          `json:"shopName,omitempty"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" validate:"gte=0"`
}

// Customer is the optional customer block attached to an order push
type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// DisplayName returns the customer name or a generic placeholder
func (c *Customer) DisplayName() string {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return "Customer"
	}
	return c.Name
}

// IncomingOrderEvent is the canonical shape of a pushed order awaiting a vendor decision.
// OrderID is the de-duplication key.
type IncomingOrderEvent struct {
	OrderID     string           `json:"orderId" validate:"required"`
	Kind        OrderKind        `json:"kind" validate:"required,oneof=rehearsal staged"`
	Address     string           `json:"address,omitempty"`
	Items       []OrderItem      `json:"items" validate:"dive"`
	Customer    *Customer        `json:"customer,omitempty"`
	TotalAmount *decimal.Decimal `json:"totalAmount,omitempty"`
	ReceivedAt  time.Time        `json:"receivedAt"`
}

// Clone returns a deep copy of the event
func (e IncomingOrderEvent) Clone() IncomingOrderEvent {
	out := e
	out.Items = append([]OrderItem(nil), e.Items...)
	if e.Customer != nil {
		c := *e.Customer
		out.Customer = &c
	}
	if e.TotalAmount != nil {
		t := *e.TotalAmount
		out.TotalAmount = &t
	}
	return out
}

// ItemCount returns the number of lines on the order
func (e IncomingOrderEvent) ItemCount() int {
	return len(e.Items)
}

// Total returns TotalAmount when pushed, otherwise the sum of price*quantity
func (e IncomingOrderEvent) Total() decimal.Decimal {
	if e.TotalAmount != nil {
		return *e.TotalAmount
	}
	sum := decimal.Zero
	for _, it := range e.Items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// StatusUpdateEvent is a server-side order status transition
type StatusUpdateEvent struct {
	OrderID   string    `json:"orderId" validate:"required"`
	Status    string    `json:"status" validate:"required"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentConfirmedEvent reports that a customer paid for an order
type PaymentConfirmedEvent struct {
	OrderID   string          `json:"orderId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeliveryAssignedEvent reports that a delivery partner was assigned to an order
type DeliveryAssignedEvent struct {
	OrderID      string    `json:"orderId,omitempty"`
	PartnerName  string    `json:"partnerName,omitempty"`
	PartnerPhone string    `json:"partnerPhone,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// CheckoutStage identifies which checkout step a customer reached
type CheckoutStage string

const (
	CheckoutStageRehearsal CheckoutStage = "rehearsal"
	CheckoutStageFinal     CheckoutStage = "final"
)

// CheckoutRequestEvent reports a customer starting a rehearsal or final checkout
type CheckoutRequestEvent struct {
	Stage     CheckoutStage `json:"stage"`
	OrderID   string        `json:"orderId,omitempty"`
	ItemCount int           `json:"itemCount"`
	Timestamp time.Time     `json:"timestamp"`
}

// Order statuses the backend reports once a vendor decision or a later lifecycle step happened
var terminalStatuses = map[string]struct{}{
	"confirmed":        {},
	"accepted":         {},
	"preparing":        {},
	"cancelled":        {},
	"rejected":         {},
	"out for delivery": {},
	"delivered":        {},
	"completed":        {},
}

// IsTerminalStatus reports whether status means the order no longer awaits the vendor
func IsTerminalStatus(status string) bool {
	_, ok := terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// Status values written by the decision workflow
const (
	StatusCancelled = "cancelled"
	StatusPreparing = "preparing"
)
