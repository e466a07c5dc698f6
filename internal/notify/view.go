package notify

import (
	"fmt"

	"github.com/Aidin1998/vendorpulse/internal/ws"
)

// Health is the coarse connection health reported by the probe endpoint
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthReconnecting Health = "reconnecting"
	HealthDisconnected Health = "disconnected"
	HealthNoSocket     Health = "no-socket"
)

// HealthOf classifies a connection status. started is false before the
// session ever tried to connect.
func HealthOf(status ws.Status, started bool) Health {
	switch {
	case !started:
		return HealthNoSocket
	case status.Connected:
		return HealthHealthy
	case status.State == ws.StateReconnecting || status.State == ws.StateConnecting:
		return HealthReconnecting
	default:
		return HealthDisconnected
	}
}

// View is what the dashboard header and banner render
type View struct {
	ConnectionLabel   string    `json:"connectionLabel"`
	ShowBanner        bool      `json:"showBanner"`
	Connection        ws.Status `json:"connection"`
	Health            Health    `json:"health"`
	PendingOrders     int       `json:"pendingOrders"`
	Notifications     int       `json:"notifications"`
	Badge             int       `json:"badge"`
	ActiveOrderID     string    `json:"activeOrderId,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

// BuildView derives the header state from the connection and the counts
func BuildView(status ws.Status, started bool, pendingOrders, notifications int, activeOrderID string) View {
	return View{
		ConnectionLabel:   ConnectionLabel(status),
		ShowBanner:        !status.Connected,
		Connection:        status,
		Health:            HealthOf(status, started),
		PendingOrders:     pendingOrders,
		Notifications:     notifications,
		Badge:             pendingOrders + notifications,
		ActiveOrderID:     activeOrderID,
		ReconnectAttempts: status.ReconnectAttempts,
	}
}

// ConnectionLabel renders "Connected", "Reconnecting... (n)" or "Disconnected"
func ConnectionLabel(status ws.Status) string {
	switch {
	case status.Connected:
		return "Connected"
	case status.State == ws.StateReconnecting:
		return fmt.Sprintf("Reconnecting... (%d)", status.ReconnectAttempts)
	default:
		return "Disconnected"
	}
}
