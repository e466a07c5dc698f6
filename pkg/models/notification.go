package models

import "time"

// NotificationType classifies entries in the vendor notification panel
type NotificationType string

const (
	NotificationNewOrder         NotificationType = "new_order"
	NotificationStatusUpdate     NotificationType = "status_update"
	NotificationPaymentConfirmed NotificationType = "payment_confirmed"
	NotificationDeliveryAssigned NotificationType = "delivery_assigned"
	NotificationRehearsalRequest NotificationType = "rehearsal_request"
	NotificationFinalRequest     NotificationType = "final_request"
	NotificationOrderAccepted    NotificationType = "order_accepted"
	NotificationOrderRejected    NotificationType = "order_rejected"
	NotificationConnection       NotificationType = "connection"
	NotificationTest             NotificationType = "test"
)

// Notification is an ephemeral, user-facing log entry. It is never authoritative.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	OrderID   string           `json:"orderId,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ShortOrderID returns the last six characters of an order id, as shown to vendors
func ShortOrderID(id string) string {
	if id == "" {
		return "Unknown"
	}
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}
