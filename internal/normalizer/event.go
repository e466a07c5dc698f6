package normalizer

import "github.com/Aidin1998/vendorpulse/pkg/models"

// Inbound event names. These are the wire contract with the order backend.
const (
	EventNewOrder                 = "newOrder"
	EventNewStagedOrder           = "newStagedOrder"
	EventOrderStatusUpdate        = "orderStatusUpdate"
	EventPaymentConfirmed         = "paymentConfirmed"
	EventDeliveryAssigned         = "deliveryAssigned"
	EventRehearsalCheckoutRequest = "rehearsalCheckoutRequest"
	EventFinalCheckoutRequest     = "finalCheckoutRequest"
)

// Names lists every inbound event the normalizer understands
func Names() []string {
	return []string{
		EventNewOrder,
		EventNewStagedOrder,
		EventOrderStatusUpdate,
		EventPaymentConfirmed,
		EventDeliveryAssigned,
		EventRehearsalCheckoutRequest,
		EventFinalCheckoutRequest,
	}
}

// Event is a canonical inbound event. The set of variants is closed:
// IncomingOrder, StatusUpdate, PaymentConfirmed, DeliveryAssigned and CheckoutRequest.
type Event interface {
	// OrderID returns the order the event refers to, or "" when it carries none
	OrderID() string
	isEvent()
}

// IncomingOrder is a new or re-pushed order awaiting a vendor decision
type IncomingOrder struct {
	Order models.IncomingOrderEvent
}

// StatusUpdate is a server-side status transition
type StatusUpdate struct {
	Update models.StatusUpdateEvent
}

// PaymentConfirmed is informational and never enters the intake queue
type PaymentConfirmed struct {
	Payment models.PaymentConfirmedEvent
}

// DeliveryAssigned is informational and never enters the intake queue
type DeliveryAssigned struct {
	Delivery models.DeliveryAssignedEvent
}

// CheckoutRequest is informational and never enters the intake queue
type CheckoutRequest struct {
	Checkout models.CheckoutRequestEvent
}

func (e IncomingOrder) OrderID() string    { return e.Order.OrderID }
func (e StatusUpdate) OrderID() string     { return e.Update.OrderID }
func (e PaymentConfirmed) OrderID() string { return e.Payment.OrderID }
func (e DeliveryAssigned) OrderID() string { return e.Delivery.OrderID }
func (e CheckoutRequest) OrderID() string  { return e.Checkout.OrderID }

func (IncomingOrder) isEvent()    {}
func (StatusUpdate) isEvent()     {}
func (PaymentConfirmed) isEvent() {}
func (DeliveryAssigned) isEvent() {}
func (CheckoutRequest) isEvent()  {}
