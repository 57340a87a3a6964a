package relay

import (
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/vitals_relay/internal/telemetry"
)

const (
	TypeSensorData  = "sensorData"
	TypeHistoryData = "historyData"
)

// Message is one push event. Data holds the JSON payload and Frame the
// {"type":...,"data":...} envelope, both encoded once and shared by every
// subscriber the message is delivered to.
type Message struct {
	Type  string
	Data  json.RawMessage
	Frame []byte
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMessage encodes payload under the given event type.
func NewMessage(eventType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("relay: encode %s: %w", eventType, err)
	}
	frame, err := json.Marshal(envelope{Type: eventType, Data: data})
	if err != nil {
		return Message{}, fmt.Errorf("relay: encode %s envelope: %w", eventType, err)
	}
	return Message{Type: eventType, Data: data, Frame: frame}, nil
}

// SnapshotMessage builds a sensorData update.
func SnapshotMessage(s telemetry.Snapshot) (Message, error) {
	return NewMessage(TypeSensorData, s)
}

// HistoryMessage builds a historyData catch-up message.
func HistoryMessage(h telemetry.History) (Message, error) {
	return NewMessage(TypeHistoryData, h)
}

// CatchUp builds the messages a new subscriber receives before live updates:
// the current snapshot followed by the full history.
func CatchUp(s telemetry.Snapshot, h telemetry.History) ([]Message, error) {
	snap, err := SnapshotMessage(s)
	if err != nil {
		return nil, err
	}
	hist, err := HistoryMessage(h)
	if err != nil {
		return nil, err
	}
	return []Message{snap, hist}, nil
}
