package models

import (
	"encoding/json"
	"testing"
)

func TestMeasure_String(t *testing.T) {
	tests := []struct {
		name     string
		measure  Measure
		expected string
	}{
		{"valid", Valid(23.5), "23.50"},
		{"negative", Valid(-4.25), "-4.25"},
		{"zero", Valid(0), "0.00"},
		{"unavailable", Unavailable(), "--"},
		{"empty slot", Measure{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.measure.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseMeasure(t *testing.T) {
	if m := ParseMeasure("--"); !m.IsUnavailable() {
		t.Errorf("ParseMeasure(--) = %v, want unavailable", m)
	}
	if m := ParseMeasure(""); !m.IsEmpty() {
		t.Errorf("ParseMeasure(\"\") = %v, want empty", m)
	}
	v, ok := ParseMeasure("21.75").Value()
	if !ok || v != 21.75 {
		t.Errorf("ParseMeasure(21.75) = %v, %v", v, ok)
	}
}

func TestNewReading(t *testing.T) {
	r := NewReading(Valid(100), StampOf("2024-01-01 12:00:00"))

	f, ok := r.Fahrenheit.Value()
	if !ok || f != 212 {
		t.Errorf("Fahrenheit = %v (valid %v), want 212", f, ok)
	}
	if r.Time.String() != "2024-01-01 12:00:00" {
		t.Errorf("Time = %q", r.Time.String())
	}
	if r.IsEmpty() {
		t.Error("real reading should not be empty")
	}
}

func TestNewReading_DisconnectedProbe(t *testing.T) {
	r := NewReading(Valid(DisconnectedC), UnavailableStamp())

	if !r.Celsius.IsUnavailable() {
		t.Errorf("Celsius = %v, want unavailable", r.Celsius)
	}
	if !r.Fahrenheit.IsUnavailable() {
		t.Errorf("Fahrenheit = %v, want unavailable", r.Fahrenheit)
	}
	if r.IsEmpty() {
		t.Error("sentinel reading must be distinguishable from an empty slot")
	}
}

func TestReading_JSONWireForm(t *testing.T) {
	tests := []struct {
		name    string
		reading Reading
		want    map[string]string
	}{
		{
			name:    "valid",
			reading: NewReading(Valid(22.5), StampOf("Mon 12:00")),
			want:    map[string]string{"temperatureC": "22.50", "temperatureF": "72.50", "currentTime": "Mon 12:00"},
		},
		{
			name:    "sentinel",
			reading: NewReading(Unavailable(), UnavailableStamp()),
			want:    map[string]string{"temperatureC": "--", "temperatureF": "--", "currentTime": "--"},
		},
		{
			name:    "placeholder",
			reading: Reading{},
			want:    map[string]string{"temperatureC": "", "temperatureF": "", "currentTime": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.reading)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			var got map[string]string
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestReading_DecodeSentinel(t *testing.T) {
	var r Reading
	err := json.Unmarshal([]byte(`{"temperatureC":"--","temperatureF":"--","currentTime":"--"}`), &r)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if r != NewReading(Unavailable(), UnavailableStamp()) {
		t.Errorf("decoded = %v, want sentinel reading", r)
	}
}
