package models

import (
	"testing"
	"time"
)

func TestThresholds_OutOfBounds(t *testing.T) {
	th := Thresholds{MinC: 22, MaxC: 25}

	tests := []struct {
		value    float64
		expected bool
	}{
		{21.9, true},
		{22, false},
		{25, false},
		{25.01, true},
	}

	for _, tt := range tests {
		if got := th.OutOfBounds(tt.value); got != tt.expected {
			t.Errorf("OutOfBounds(%v) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}

func TestThresholds_IntervalConversions(t *testing.T) {
	th := Thresholds{NotifyInterval: 90 * time.Minute}

	if th.NotifyIntervalMs() != 5400000 {
		t.Errorf("NotifyIntervalMs() = %d, want 5400000", th.NotifyIntervalMs())
	}
	if th.NotifyIntervalMinutes() != 90 {
		t.Errorf("NotifyIntervalMinutes() = %d, want 90", th.NotifyIntervalMinutes())
	}
}

func TestParseSecurityKind(t *testing.T) {
	tests := []struct {
		in   string
		want SecurityKind
		ok   bool
	}{
		{"WPA2-Personal", SecurityPersonal, true},
		{"WPA2-Enterprise", SecurityEnterprise, true},
		{"personal", SecurityPersonal, true},
		{"None", SecurityNone, true},
		{"", SecurityUnknown, false},
		{"wep", SecurityUnknown, false},
	}

	for _, tt := range tests {
		got, ok := ParseSecurityKind(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseSecurityKind(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCredentials_Wipe(t *testing.T) {
	c := Credentials{Security: SecurityEnterprise, SSID: "lab", Username: "u", Password: "p", Passcode: "x"}
	c.Wipe()
	if c != (Credentials{}) {
		t.Errorf("Wipe left %+v", c)
	}
}
