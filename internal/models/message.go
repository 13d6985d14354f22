package models

import (
	"encoding/json"
	"time"
)

// MessageType identifies a live stream envelope.
type MessageType string

const (
	MessageTypeReading  MessageType = "reading"
	MessageTypeSettings MessageType = "settings"
	MessageTypeState    MessageType = "state"
)

// Message is the envelope pushed to live stream subscribers
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Payload:   payloadJSON,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// StateMessage is the payload for MessageTypeState
type StateMessage struct {
	State string `json:"state"`
}
