package notify

import (
	"fmt"

	"github.com/Aidin1998/vendorpulse/pkg/models"
)

// NewOrder announces a freshly queued order
func NewOrder(o models.IncomingOrderEvent) models.Notification {
	title := "New Order Received!"
	if o.Kind == models.OrderKindStaged {
		title = "New Paid Order Received!"
	}
	return models.Notification{
		Type:    models.NotificationNewOrder,
		Title:   title,
		Message: fmt.Sprintf("Order #%s from %s - %d items", models.ShortOrderID(o.OrderID), o.Customer.DisplayName(), o.ItemCount()),
		OrderID: o.OrderID,
	}
}

func StatusUpdate(u models.StatusUpdateEvent) models.Notification {
	msg := fmt.Sprintf("Order #%s status: %s", models.ShortOrderID(u.OrderID), u.Status)
	if u.Reason != "" {
		msg += " (" + u.Reason + ")"
	}
	return models.Notification{
		Type:      models.NotificationStatusUpdate,
		Title:     "Order Status Updated",
		Message:   msg,
		OrderID:   u.OrderID,
		Timestamp: u.Timestamp,
	}
}

// OrderRefreshed tells the vendor the order they are editing changed underneath them
func OrderRefreshed(o models.IncomingOrderEvent) models.Notification {
	return models.Notification{
		Type:    models.NotificationStatusUpdate,
		Title:   "Active Order Updated",
		Message: fmt.Sprintf("Order #%s changed while you were editing it. Your edits were kept for items still in the order.", models.ShortOrderID(o.OrderID)),
		OrderID: o.OrderID,
	}
}

func PaymentConfirmed(p models.PaymentConfirmedEvent) models.Notification {
	return models.Notification{
		Type:      models.NotificationPaymentConfirmed,
		Title:     "Payment Received!",
		Message:   fmt.Sprintf("Customer has paid ₹%s. Order is now confirmed and ready for preparation.", p.Amount.StringFixed(2)),
		OrderID:   p.OrderID,
		Timestamp: p.Timestamp,
	}
}

func DeliveryAssigned(d models.DeliveryAssignedEvent) models.Notification {
	partner := d.PartnerName
	if partner == "" {
		partner = "A delivery partner"
	}
	return models.Notification{
		Type:      models.NotificationDeliveryAssigned,
		Title:     "Delivery Partner Assigned!",
		Message:   fmt.Sprintf("%s will pick up order #%s from your location.", partner, models.ShortOrderID(d.OrderID)),
		OrderID:   d.OrderID,
		Timestamp: d.Timestamp,
	}
}

func CheckoutRequest(c models.CheckoutRequestEvent) models.Notification {
	n := models.Notification{OrderID: c.OrderID, Timestamp: c.Timestamp}
	if c.Stage == models.CheckoutStageFinal {
		n.Type = models.NotificationFinalRequest
		n.Title = "Final Checkout Request"
		n.Message = fmt.Sprintf("Customer is ready for final checkout - %d items", c.ItemCount)
	} else {
		n.Type = models.NotificationRehearsalRequest
		n.Title = "Rehearsal Checkout Request"
		n.Message = fmt.Sprintf("Customer wants to rehearse checkout for %d items", c.ItemCount)
	}
	return n
}

// Decision reports the vendor's own confirm or reject once it resolved
func Decision(orderID string, accepted bool, detail string) models.Notification {
	if accepted {
		return models.Notification{
			Type:    models.NotificationOrderAccepted,
			Title:   "Order Accepted",
			Message: fmt.Sprintf("Order #%s confirmed%s", models.ShortOrderID(orderID), suffix(detail)),
			OrderID: orderID,
		}
	}
	return models.Notification{
		Type:    models.NotificationOrderRejected,
		Title:   "Order Rejected",
		Message: fmt.Sprintf("Order #%s cancelled%s", models.ShortOrderID(orderID), suffix(detail)),
		OrderID: orderID,
	}
}

// Connection reports a connection milestone such as a reconnect
func Connection(title, message string) models.Notification {
	return models.Notification{Type: models.NotificationConnection, Title: title, Message: message}
}

func suffix(detail string) string {
	if detail == "" {
		return ""
	}
	return ": " + detail
}
