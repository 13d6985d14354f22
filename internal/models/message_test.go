package models

import (
	"testing"
)

func TestNewMessage(t *testing.T) {
	reading := NewReading(Valid(22.5), StampOf("12:00"))

	msg, err := NewMessage(MessageTypeReading, reading)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.Type != MessageTypeReading {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeReading)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}

	var decoded Reading
	if err := msg.UnmarshalPayload(&decoded); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if decoded != reading {
		t.Errorf("decoded = %v, want %v", decoded, reading)
	}
}
