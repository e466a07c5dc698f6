package ws

import (
	"time"

	"github.com/Aidin1998/vendorpulse/pkg/metrics"
)

// ConnectionState represents the state of the order socket
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

var allStates = []ConnectionState{
	StateDisconnected,
	StateConnecting,
	StateConnected,
	StateReconnecting,
	StateFailed,
	StateClosed,
}

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON documents
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the connection
type Status struct {
	State             ConnectionState `json:"state"`
	Connected         bool            `json:"connected"`
	ReconnectAttempts int             `json:"reconnectAttempts"`
	LastActivityAt    time.Time       `json:"lastActivityAt"`
}

// Reasons accepted by Nudge
const (
	NudgeActivity   = "activity"
	NudgeVisibility = "visibility"
	NudgeFocus      = "focus"
	NudgeManual     = "manual"
)

func recordState(current ConnectionState) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.ConnectionState.WithLabelValues(s.String()).Set(v)
	}
}
