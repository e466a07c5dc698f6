package ws

import (
	"encoding/json"
	"fmt"
)

// Outbound event names
const (
	EventRegisterVendor  = "registerVendor"
	EventHeartbeat       = "heartbeat"
	EventJoin            = "join"
	EventLeave           = "leave"
	EventTestConnection  = "test-connection"
	EventOrderStatusPush = "orderStatusUpdate"
)

// Envelope is the JSON frame carried by every text message on the socket
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type registerPayload struct {
	VendorID string `json:"vendorId"`
}

type heartbeatPayload struct {
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"userId"`
	UserType  string `json:"userType"`
	Test      bool   `json:"test,omitempty"`
}

func encodeEnvelope(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func decodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("frame has no event name")
	}
	return env, nil
}
